package storage

import (
	"context"
	"errors"
	"time"

	"lookout/internal/transport"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (json snapshot + jsonl feedback log)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the roster cache and the transport
// adapters. Implementations must be safe for concurrent use.
type Store interface {
	// ListRecipients returns the registered recipients for a platform.
	// Result order is unspecified; callers treat it as a set.
	ListRecipients(ctx context.Context, platform string) ([]transport.RecipientID, error)
	AddRecipient(ctx context.Context, platform string, id transport.RecipientID) error
	RemoveRecipient(ctx context.Context, platform string, id transport.RecipientID) error

	AppendFeedback(ctx context.Context, fb transport.Feedback) error

	Close() error
}
