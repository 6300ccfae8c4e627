// Package roster caches the set of recipients registered for a platform,
// refreshing it from a backing store at most once per configured period.
//
// Rosters change rarely compared to event volume, so the cache amortizes
// store cost to one fetch per refresh window regardless of event rate.
package roster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"lookout/internal/transport"
	logx "lookout/pkg/logx"
)

var (
	// ErrStoreUnavailable wraps any recipient-store failure. Callers on the
	// dispatch path recover by keeping the previous roster.
	ErrStoreUnavailable = errors.New("recipient store unavailable")

	ErrNoStore = errors.New("no recipient store configured")
)

// Store is the slow backing source of the roster.
type Store interface {
	ListRecipients(ctx context.Context, platform string) ([]transport.RecipientID, error)
}

// Cache holds the current roster snapshot plus the watermark of the last
// successful refresh. The snapshot is replaced wholesale, never mutated, so
// readers always see an internally consistent set.
type Cache struct {
	store    Store
	platform string
	period   time.Duration
	log      logx.Logger

	// mu guards the watermark and the single-fetch-in-flight discipline.
	mu        sync.Mutex
	watermark time.Time
	fetching  bool

	snap atomic.Value // []transport.RecipientID, read-only once stored
}

// New builds a Cache for one platform.
//
// If seed is non-nil the cache starts from it (even when empty) and no
// construction-time fetch happens; a nil store is then fine as long as
// period is 0. If seed is nil a store is required and one synchronous fetch
// populates the initial roster; a fetch failure fails construction.
//
// period == 0 disables all later refreshes: the roster stays fixed to its
// initial contents for the process lifetime.
func New(store Store, platform string, period time.Duration, seed []transport.RecipientID, log logx.Logger) (*Cache, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Cache{
		store:    store,
		platform: platform,
		period:   period,
		log:      log,
	}

	if seed != nil {
		c.snap.Store(dedup(seed))
		c.watermark = time.Now()
		return c, nil
	}

	if store == nil {
		return nil, ErrNoStore
	}
	ids, err := store.ListRecipients(context.Background(), platform)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	c.snap.Store(dedup(ids))
	c.watermark = time.Now()
	return c, nil
}

// Recipients returns the live roster snapshot. It never blocks on the store;
// the result may be up to one refresh period stale. Callers must not mutate
// the returned slice.
func (c *Cache) Recipients() []transport.RecipientID {
	v := c.snap.Load()
	if v == nil {
		return nil
	}
	ids, _ := v.([]transport.RecipientID)
	return ids
}

// RefreshIfStale fetches a fresh roster when the watermark is older than the
// refresh period. At most one fetch is in flight at a time; callers arriving
// during a fetch proceed immediately with the pre-refresh snapshot.
//
// On store failure the previous roster and watermark are kept (so the next
// caller retries) and the error is reported wrapped in ErrStoreUnavailable.
func (c *Cache) RefreshIfStale(ctx context.Context, now time.Time) error {
	if c.period <= 0 || c.store == nil {
		return nil
	}

	c.mu.Lock()
	if now.Sub(c.watermark) <= c.period || c.fetching {
		c.mu.Unlock()
		return nil
	}
	c.fetching = true
	c.mu.Unlock()

	ids, err := c.store.ListRecipients(ctx, c.platform)

	c.mu.Lock()
	c.fetching = false
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	// Publish the new snapshot before releasing the watermark so no reader
	// can observe a fresh watermark with a stale roster.
	c.snap.Store(dedup(ids))
	c.watermark = now
	c.mu.Unlock()

	c.log.Debug("roster refreshed",
		logx.String("platform", c.platform), logx.Int("recipients", len(ids)))
	return nil
}

// Watermark returns the time of the last successful refresh.
func (c *Cache) Watermark() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watermark
}

func dedup(ids []transport.RecipientID) []transport.RecipientID {
	seen := make(map[transport.RecipientID]struct{}, len(ids))
	out := make([]transport.RecipientID, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
