package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"lookout/internal/transport"
	logx "lookout/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.recipients.json  (full snapshot, rewritten on every change)
//   - <prefix>.feedback.jsonl   (append-only JSON Lines)
//
// Rosters are small (tens of entries), so snapshot-rewrite is cheap and keeps
// recovery trivial.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	recipientsPath string
	recipients     map[string]map[string]string // platform -> user_id -> added_at

	feedbackFile *os.File
}

type feedbackRecord struct {
	Token  string    `json:"token"`
	UserID string    `json:"user_id"`
	At     time.Time `json:"at"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	recipientsPath := prefix + ".recipients.json"
	feedbackPath := prefix + ".feedback.jsonl"

	recipients := map[string]map[string]string{}
	if b, err := os.ReadFile(recipientsPath); err == nil {
		if err := json.Unmarshal(b, &recipients); err != nil {
			log.Warn("recipients snapshot unreadable; starting empty",
				logx.String("path", recipientsPath), logx.Err(err))
			recipients = map[string]map[string]string{}
		}
	}

	ff, err := os.OpenFile(feedbackPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:            log,
		recipientsPath: recipientsPath,
		recipients:     recipients,
		feedbackFile:   ff,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feedbackFile != nil {
		err := s.feedbackFile.Close()
		s.feedbackFile = nil
		return err
	}
	return nil
}

func (s *fileStore) ListRecipients(ctx context.Context, platform string) ([]transport.RecipientID, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.recipients[platform]
	out := make([]transport.RecipientID, 0, len(byID))
	for id := range byID {
		out = append(out, transport.RecipientID(id))
	}
	// Stable order keeps snapshot diffs and tests predictable.
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *fileStore) AddRecipient(ctx context.Context, platform string, id transport.RecipientID) error {
	_ = ctx
	if id == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.recipients[platform]
	if byID == nil {
		byID = map[string]string{}
		s.recipients[platform] = byID
	}
	if _, ok := byID[string(id)]; ok {
		return nil
	}
	byID[string(id)] = time.Now().Format(time.RFC3339Nano)
	return s.writeRecipientsLocked()
}

func (s *fileStore) RemoveRecipient(ctx context.Context, platform string, id transport.RecipientID) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.recipients[platform]
	if byID == nil {
		return nil
	}
	if _, ok := byID[string(id)]; !ok {
		return nil
	}
	delete(byID, string(id))
	return s.writeRecipientsLocked()
}

func (s *fileStore) AppendFeedback(ctx context.Context, fb transport.Feedback) error {
	_ = ctx
	if fb.At.IsZero() {
		fb.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feedbackFile == nil {
		return errors.New("feedback file closed")
	}
	enc := json.NewEncoder(s.feedbackFile)
	return enc.Encode(feedbackRecord{Token: fb.Token, UserID: string(fb.From), At: fb.At})
}

// writeRecipientsLocked rewrites the snapshot via a temp file + rename so a
// crash mid-write never leaves a truncated snapshot behind.
func (s *fileStore) writeRecipientsLocked() error {
	b, err := json.MarshalIndent(s.recipients, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.recipientsPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.recipientsPath)
}
