package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lookout/internal/compose"
	"lookout/internal/detect"
	"lookout/internal/roster"
	"lookout/internal/transport"
	logx "lookout/pkg/logx"
)

type fakeChannel struct {
	mu    sync.Mutex
	calls int
	to    []transport.RecipientID
	msg   transport.Message
	err   error
}

func (f *fakeChannel) Broadcast(ctx context.Context, to []transport.RecipientID, msg transport.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.to = append([]transport.RecipientID(nil), to...)
	f.msg = msg
	return f.err
}

type failingStore struct{ calls atomic.Int64 }

func (s *failingStore) ListRecipients(ctx context.Context, platform string) ([]transport.RecipientID, error) {
	s.calls.Add(1)
	return nil, errors.New("db down")
}

func seededCache(t *testing.T, seed []transport.RecipientID) *roster.Cache {
	t.Helper()
	c, err := roster.New(nil, "telegram", 0, seed, logx.Nop())
	if err != nil {
		t.Fatalf("roster.New: %v", err)
	}
	return c
}

func countingResolver(n *atomic.Int64, url string) compose.URLResolver {
	return func(string) (string, error) {
		n.Add(1)
		return url, nil
	}
}

func newComposer(t *testing.T, n *atomic.Int64) *compose.Composer {
	t.Helper()
	c, err := compose.New(countingResolver(n, "https://cdn/img.jpg"), nil)
	if err != nil {
		t.Fatalf("compose.New: %v", err)
	}
	return c
}

func TestFilteredOutTouchesNothing(t *testing.T) {
	t.Parallel()
	var resolves atomic.Int64
	ch := &fakeChannel{}
	d, err := New(seededCache(t, []transport.RecipientID{"U1"}),
		func(detect.Event) bool { return false },
		newComposer(t, &resolves), ch, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := d.Notify(context.Background(), detect.Event{ID: "evt-1"})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if out != OutcomeFiltered {
		t.Fatalf("outcome = %v, want filtered", out)
	}
	if n := resolves.Load(); n != 0 {
		t.Fatalf("resolver called %d times for a filtered event", n)
	}
	if ch.calls != 0 {
		t.Fatalf("broadcast called %d times for a filtered event", ch.calls)
	}
}

func TestDeliveredScenario(t *testing.T) {
	t.Parallel()
	var resolves atomic.Int64
	ch := &fakeChannel{}
	d, err := New(seededCache(t, []transport.RecipientID{"U1", "U2"}),
		func(detect.Event) bool { return true },
		newComposer(t, &resolves), ch, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := d.Notify(context.Background(), detect.Event{ID: "evt-42", DrawnImageRef: "d.jpg"})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if out != OutcomeDelivered {
		t.Fatalf("outcome = %v, want delivered", out)
	}
	if ch.calls != 1 {
		t.Fatalf("broadcast called %d times, want exactly 1", ch.calls)
	}
	got := map[transport.RecipientID]bool{}
	for _, id := range ch.to {
		got[id] = true
	}
	if len(got) != 2 || !got["U1"] || !got["U2"] {
		t.Fatalf("recipients = %v, want {U1,U2}", ch.to)
	}
	if ch.msg.FeedbackToken != "false_alert_evt-42_" {
		t.Fatalf("token = %q, want %q", ch.msg.FeedbackToken, "false_alert_evt-42_")
	}
}

func TestEmptyRosterSkipsDelivery(t *testing.T) {
	t.Parallel()
	var resolves atomic.Int64
	ch := &fakeChannel{}
	d, err := New(seededCache(t, []transport.RecipientID{}),
		func(detect.Event) bool { return true },
		newComposer(t, &resolves), ch, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := d.Notify(context.Background(), detect.Event{ID: "evt-7"})
	if err != nil {
		t.Fatalf("Notify returned error for empty roster: %v", err)
	}
	if out != OutcomeNoRecipients {
		t.Fatalf("outcome = %v, want no_recipients", out)
	}
	if ch.calls != 0 {
		t.Fatalf("broadcast called %d times with empty roster", ch.calls)
	}
}

func TestComposeFailureIsFatalForCall(t *testing.T) {
	t.Parallel()
	boom := errors.New("no upload")
	comp, err := compose.New(func(string) (string, error) { return "", boom }, nil)
	if err != nil {
		t.Fatalf("compose.New: %v", err)
	}
	ch := &fakeChannel{}
	d, err := New(seededCache(t, []transport.RecipientID{"U1"}),
		func(detect.Event) bool { return true }, comp, ch, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := d.Notify(context.Background(), detect.Event{ID: "evt-9"})
	if out != OutcomeFailed {
		t.Fatalf("outcome = %v, want failed", out)
	}
	if !errors.Is(err, compose.ErrImageURL) {
		t.Fatalf("err = %v, want ErrImageURL", err)
	}
	if ch.calls != 0 {
		t.Fatalf("broadcast attempted after compose failure")
	}
}

func TestDeliveryFailure(t *testing.T) {
	t.Parallel()
	var resolves atomic.Int64
	ch := &fakeChannel{err: errors.New("api 502")}
	d, err := New(seededCache(t, []transport.RecipientID{"U1"}),
		func(detect.Event) bool { return true },
		newComposer(t, &resolves), ch, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := d.Notify(context.Background(), detect.Event{ID: "evt-11"})
	if out != OutcomeFailed {
		t.Fatalf("outcome = %v, want failed", out)
	}
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("err = %v, want ErrDelivery", err)
	}
	if ch.calls != 1 {
		t.Fatalf("broadcast called %d times, want exactly 1 (no retry)", ch.calls)
	}
}

func TestRefreshFailureDoesNotBlockDelivery(t *testing.T) {
	t.Parallel()
	const period = time.Minute
	st := &failingStore{}
	cache, err := roster.New(st, "telegram", period, []transport.RecipientID{"U1"}, logx.Nop())
	if err != nil {
		t.Fatalf("roster.New: %v", err)
	}
	var resolves atomic.Int64
	ch := &fakeChannel{}
	d, err := New(cache, func(detect.Event) bool { return true },
		newComposer(t, &resolves), ch, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Force the watermark to look stale so Notify attempts a refresh.
	d.now = func() time.Time { return cache.Watermark().Add(2 * period) }

	out, err := d.Notify(context.Background(), detect.Event{ID: "evt-13"})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if out != OutcomeDelivered {
		t.Fatalf("outcome = %v, want delivered on stale roster", out)
	}
	if n := st.calls.Load(); n != 1 {
		t.Fatalf("store fetch attempts = %d, want 1", n)
	}
	if ch.calls != 1 || len(ch.to) != 1 || ch.to[0] != "U1" {
		t.Fatalf("broadcast = %d calls to %v, want 1 call to [U1]", ch.calls, ch.to)
	}
}

func TestNewValidatesDependencies(t *testing.T) {
	t.Parallel()
	var resolves atomic.Int64
	cache := seededCache(t, []transport.RecipientID{"U1"})
	comp := newComposer(t, &resolves)
	ch := &fakeChannel{}

	if _, err := New(cache, nil, comp, ch, logx.Nop(), nil); !errors.Is(err, ErrMissingFilter) {
		t.Fatalf("err = %v, want ErrMissingFilter", err)
	}
	if _, err := New(cache, func(detect.Event) bool { return true }, nil, ch, logx.Nop(), nil); !errors.Is(err, ErrMissingComposer) {
		t.Fatalf("err = %v, want ErrMissingComposer", err)
	}
	if _, err := New(cache, func(detect.Event) bool { return true }, comp, nil, logx.Nop(), nil); !errors.Is(err, ErrMissingChannel) {
		t.Fatalf("err = %v, want ErrMissingChannel", err)
	}
}
