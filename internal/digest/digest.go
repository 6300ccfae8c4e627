// Package digest periodically broadcasts a summary of delivered detections,
// so recipients get a daily picture even when they mute individual alerts.
package digest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"lookout/internal/dispatch"
	"lookout/internal/eventbus"
	"lookout/internal/roster"
	"lookout/internal/transport"
	logx "lookout/pkg/logx"
)

const defaultSchedule = "0 9 * * *"

type Config struct {
	Enabled  bool
	Schedule string // cron spec; default "0 9 * * *"
}

// Service counts delivered detections off the event bus and flushes a
// summary broadcast on a cron schedule.
type Service struct {
	cfg     Config
	cache   *roster.Cache
	channel transport.PushChannel
	bus     eventbus.Bus
	log     logx.Logger

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	counts map[string]int
	events int
	since  time.Time
}

func New(cfg Config, cache *roster.Cache, channel transport.PushChannel, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		cache:   cache,
		channel: channel,
		bus:     bus,
		log:     log,
		counts:  map[string]int{},
		since:   time.Now(),
	}
}

// Start subscribes to dispatch events and arms the cron schedule.
// It is a no-op when the digest is disabled.
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled || s.bus == nil {
		return nil
	}
	spec := strings.TrimSpace(s.cfg.Schedule)
	if spec == "" {
		spec = defaultSchedule
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, func() { s.Flush(context.Background()) }); err != nil {
		return fmt.Errorf("digest schedule %q: %w", spec, err)
	}

	rctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	ch, unsub := s.bus.Subscribe(64)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsub()
		for {
			select {
			case <-rctx.Done():
				return
			case e := <-ch:
				s.record(e)
			}
		}
	}()

	s.cron = c
	c.Start()
	s.log.Info("digest scheduled", logx.String("spec", spec))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	if s.cron != nil {
		stopped := s.cron.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
		s.cron = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.wg.Wait()
}

func (s *Service) record(e eventbus.Event) {
	if e.Type != "dispatch.delivered" {
		return
	}
	de, ok := e.Data.(dispatch.Event)
	if !ok {
		return
	}
	s.mu.Lock()
	s.events++
	for _, l := range de.Labels {
		s.counts[l]++
	}
	s.mu.Unlock()
}

// Flush broadcasts the accumulated summary and resets the counters.
// Nothing is sent when no detections were delivered in the window.
func (s *Service) Flush(ctx context.Context) {
	s.mu.Lock()
	counts := s.counts
	events := s.events
	since := s.since
	s.counts = map[string]int{}
	s.events = 0
	s.since = time.Now()
	s.mu.Unlock()

	if events == 0 {
		s.log.Debug("digest window empty; nothing to send")
		return
	}

	recipients := s.cache.Recipients()
	if len(recipients) == 0 {
		s.log.Debug("digest skipped; no recipients registered")
		return
	}

	msg := transport.Message{
		Title: "detection digest",
		Body:  summaryBody(events, counts, since),
	}
	if err := s.channel.Broadcast(ctx, recipients, msg); err != nil {
		s.log.Warn("digest broadcast failed", logx.Int("events", events), logx.Err(err))
		return
	}
	s.log.Info("digest sent", logx.Int("events", events), logx.Int("recipients", len(recipients)))
}

func summaryBody(events int, counts map[string]int, since time.Time) string {
	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	var b strings.Builder
	fmt.Fprintf(&b, "%d detection(s) since %s", events, since.Format("2006-01-02 15:04"))
	for _, l := range labels {
		fmt.Fprintf(&b, "\n- %s: %d", l, counts[l])
	}
	return b.String()
}
