package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"lookout/internal/compose"
	"lookout/internal/config"
	"lookout/internal/detect"
	"lookout/internal/digest"
	"lookout/internal/dispatch"
	"lookout/internal/eventbus"
	"lookout/internal/roster"
	"lookout/internal/storage"
	"lookout/internal/transport"
	"lookout/internal/transport/telegram"
	logx "lookout/pkg/logx"
)

func main() {
	var (
		cfgPath string
		demo    bool
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml/json")
	flag.BoolVar(&demo, "demo", false, "dispatch one synthetic detection event and keep running")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath, demo); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string, demo bool) error {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(cfg.LogxConfig())
	defer logSvc.Close()
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	stCfg, err := cfg.StorageConfigParsed()
	if err != nil {
		return err
	}
	store, err := storage.Open(stCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	pollTimeout, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if err != nil {
		return err
	}
	channel, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		RatePerSec:  cfg.Telegram.RatePerSec,
	}, store, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	channel.Start(ctx)
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 3*time.Second)
		channel.Stop(sctx)
		scancel()
	}()

	var seed []transport.RecipientID
	if len(cfg.Roster.Seed) > 0 {
		seed = make([]transport.RecipientID, 0, len(cfg.Roster.Seed))
		for _, id := range cfg.Roster.Seed {
			seed = append(seed, transport.RecipientID(id))
		}
	}
	var rosterStore roster.Store
	if store != nil {
		rosterStore = store
	}
	cache, err := roster.New(rosterStore, telegram.Platform, cfg.RefreshPeriod(), seed,
		log.With(logx.String("comp", "roster")))
	if err != nil {
		return fmt.Errorf("roster: %w", err)
	}

	// Filter rules live in an atomic holder so config reload swaps them
	// without touching the dispatcher.
	var rules atomic.Value
	rules.Store(cfg.Filter)
	filter := func(ev detect.Event) bool {
		fc, _ := rules.Load().(config.FilterConfig)
		return eventMatches(fc, ev)
	}

	composer, err := compose.New(
		urlResolver(cfg.Images.BaseURL),
		optionalResolver(cfg.Images.RawBaseURL),
	)
	if err != nil {
		return err
	}

	bus := eventbus.New()
	disp, err := dispatch.New(cache, filter, composer, channel,
		log.With(logx.String("comp", "dispatch")), bus)
	if err != nil {
		return err
	}

	var dig *digest.Service
	if cfg.Digest != nil && cfg.Digest.Enabled {
		dig = digest.New(digest.Config{Enabled: true, Schedule: cfg.Digest.Schedule},
			cache, channel, bus, log.With(logx.String("comp", "digest")))
		if err := dig.Start(ctx); err != nil {
			return err
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 3*time.Second)
			dig.Stop(sctx)
			scancel()
		}()
	}

	// Live config reload: logging and filter rules swap in place. Roster
	// refresh period and storage driver are construction-time; those need a
	// restart.
	sub := mgr.Subscribe(1)
	go func() {
		if err := mgr.Watch(ctx); err != nil && ctx.Err() == nil {
			log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case c := <-sub:
				logSvc.Apply(c.LogxConfig())
				rules.Store(c.Filter)
			}
		}
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	log.Info("lookout started",
		logx.Int("recipients", len(cache.Recipients())),
		logx.Duration("refresh_period", cfg.RefreshPeriod()))

	if demo {
		outcome, err := disp.Notify(ctx, demoEvent())
		log.Info("demo event dispatched",
			logx.String("outcome", outcome.String()), logx.Err(err))
	}

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	return nil
}

// eventMatches is the predicate handed to the dispatcher: any watched label
// at or above the confidence floor qualifies the event.
func eventMatches(fc config.FilterConfig, ev detect.Event) bool {
	watched := func(label string) bool {
		if len(fc.WatchLabels) == 0 {
			return true
		}
		for _, w := range fc.WatchLabels {
			if strings.EqualFold(w, label) {
				return true
			}
		}
		return false
	}
	for _, o := range ev.Objects {
		if o.Confidence >= fc.MinConfidence && watched(o.Label) {
			return true
		}
	}
	return false
}

func urlResolver(base string) compose.URLResolver {
	base = strings.TrimRight(base, "/")
	return func(imageRef string) (string, error) {
		ref := strings.TrimLeft(imageRef, "/")
		if ref == "" {
			return "", fmt.Errorf("empty image reference")
		}
		return base + "/" + ref, nil
	}
}

func optionalResolver(base string) compose.URLResolver {
	if strings.TrimSpace(base) == "" {
		return nil
	}
	return urlResolver(base)
}

func demoEvent() detect.Event {
	return detect.Event{
		ID: fmt.Sprintf("demo-%d", time.Now().Unix()),
		Objects: []detect.Object{
			{Label: "person", Confidence: 0.92, Box: detect.Box{X1: 250, Y1: 100, X2: 800, Y2: 900}},
		},
		DrawnImageRef: "demo/drawn.jpg",
	}
}
