// Package dispatch orchestrates one notification per detection event:
// refresh the roster, filter, compose, deliver.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lookout/internal/compose"
	"lookout/internal/detect"
	"lookout/internal/eventbus"
	"lookout/internal/roster"
	"lookout/internal/transport"
	logx "lookout/pkg/logx"
)

var (
	// ErrMissingFilter is a construction-time error. There is no accept-all
	// default; a missing filter under misconfiguration would spam every
	// registered recipient.
	ErrMissingFilter = errors.New("event filter is required")

	ErrMissingChannel  = errors.New("push channel is required")
	ErrMissingComposer = errors.New("message composer is required")

	// ErrDelivery wraps a push-channel failure. The dispatcher never
	// retries; retry policy belongs to the transport or an outer caller.
	ErrDelivery = errors.New("push delivery failed")
)

// Filter decides whether an event is worth notifying about. It must be pure:
// no side effects, no failures for well-formed events.
type Filter func(ev detect.Event) bool

// Event is the bus payload published for every Notify call, for alerting and
// metrics subscribers. Bus event types are "dispatch.<outcome>" plus
// "dispatch.roster_stale" when a refresh degrades.
type Event struct {
	EventID    string    `json:"event_id"`
	Outcome    string    `json:"outcome"`
	Labels     []string  `json:"labels,omitempty"`
	Recipients int       `json:"recipients,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// Dispatcher is the public entry point of the core. It is safe for
// concurrent use; each Notify call is independent and failures in one never
// affect another.
type Dispatcher struct {
	cache    *roster.Cache
	filter   Filter
	composer *compose.Composer
	channel  transport.PushChannel
	log      logx.Logger
	bus      eventbus.Bus

	now func() time.Time
}

func New(cache *roster.Cache, filter Filter, composer *compose.Composer, channel transport.PushChannel, log logx.Logger, bus eventbus.Bus) (*Dispatcher, error) {
	if filter == nil {
		return nil, ErrMissingFilter
	}
	if composer == nil {
		return nil, ErrMissingComposer
	}
	if channel == nil {
		return nil, ErrMissingChannel
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		cache:    cache,
		filter:   filter,
		composer: composer,
		channel:  channel,
		log:      log,
		bus:      bus,
		now:      time.Now,
	}, nil
}

// Notify runs the full pipeline for one event.
//
// A roster refresh failure degrades to the stale roster and never blocks
// delivery. Compose and delivery failures are fatal for this call only and
// surface as (OutcomeFailed, err). Broadcast is invoked at most once.
func (d *Dispatcher) Notify(ctx context.Context, ev detect.Event) (Outcome, error) {
	// 1. Refresh, then take the roster snapshot the rest of this call uses.
	if err := d.cache.RefreshIfStale(ctx, d.now()); err != nil {
		d.log.Warn("roster refresh failed; using stale roster",
			logx.String("event", ev.ID), logx.Err(err))
		d.publish("dispatch.roster_stale", Event{EventID: ev.ID, Error: err.Error()})
	}
	recipients := d.cache.Recipients()

	// 2. Filter. Cheap and side-effect-free; most events end here.
	if !d.filter(ev) {
		d.publish("dispatch.filtered", Event{EventID: ev.ID, Outcome: OutcomeFiltered.String()})
		return OutcomeFiltered, nil
	}

	// 3. Compose.
	msg, err := d.composer.Build(ev)
	if err != nil {
		d.log.Error("message compose failed", logx.String("event", ev.ID), logx.Err(err))
		d.publish("dispatch.failed", Event{EventID: ev.ID, Outcome: OutcomeFailed.String(), Error: err.Error()})
		return OutcomeFailed, err
	}

	// 4. Deliver.
	if len(recipients) == 0 {
		d.log.Debug("no recipients registered; skipping delivery", logx.String("event", ev.ID))
		d.publish("dispatch.no_recipients", Event{EventID: ev.ID, Outcome: OutcomeNoRecipients.String()})
		return OutcomeNoRecipients, nil
	}
	if err := d.channel.Broadcast(ctx, recipients, msg); err != nil {
		werr := fmt.Errorf("%w: %v", ErrDelivery, err)
		d.log.Error("broadcast failed",
			logx.String("event", ev.ID), logx.Int("recipients", len(recipients)), logx.Err(err))
		d.publish("dispatch.failed", Event{
			EventID: ev.ID, Outcome: OutcomeFailed.String(),
			Recipients: len(recipients), Error: werr.Error(),
		})
		return OutcomeFailed, werr
	}

	d.log.Info("notification delivered",
		logx.String("event", ev.ID), logx.Int("recipients", len(recipients)))
	d.publish("dispatch.delivered", Event{
		EventID: ev.ID, Outcome: OutcomeDelivered.String(),
		Labels: ev.Labels(), Recipients: len(recipients),
	})
	return OutcomeDelivered, nil
}

func (d *Dispatcher) publish(typ string, data Event) {
	if d.bus == nil {
		return
	}
	now := d.now()
	data.At = now
	d.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: data})
}
