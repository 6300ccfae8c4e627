package config

import (
	"reflect"
	"sort"
	"strings"

	logx "lookout/pkg/logx"
)

// summarizeChange reports which config sections differ between two loads,
// with log-safe attributes for the new values. The telegram token is never
// logged, only whether it changed.
func summarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.rate_per_sec", newCfg.Telegram.RatePerSec),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Roster, newCfg.Roster) {
		changed = append(changed, "roster")
		attrs = append(attrs,
			logx.String("roster.refresh_period", strings.TrimSpace(newCfg.Roster.RefreshPeriod)),
			logx.Int("roster.seed_count", len(newCfg.Roster.Seed)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Filter, newCfg.Filter) {
		changed = append(changed, "filter")
		attrs = append(attrs,
			logx.Int("filter.watch_labels", len(newCfg.Filter.WatchLabels)),
			logx.Float64("filter.min_confidence", newCfg.Filter.MinConfidence),
		)
	}

	if oldCfg.Images != newCfg.Images {
		changed = append(changed, "images")
		attrs = append(attrs, logx.String("images.base_url", newCfg.Images.BaseURL))
	}

	// Pointer sections: nil means disabled, compare by value.
	if derefDigest(oldCfg.Digest) != derefDigest(newCfg.Digest) {
		changed = append(changed, "digest")
		nd := derefDigest(newCfg.Digest)
		attrs = append(attrs,
			logx.Bool("digest.enabled", nd.Enabled),
			logx.String("digest.schedule", strings.TrimSpace(nd.Schedule)),
		)
	}

	if derefStorage(oldCfg.Storage) != derefStorage(newCfg.Storage) {
		changed = append(changed, "storage")
		ns := derefStorage(newCfg.Storage)
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(ns.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(ns.Path) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefDigest(d *DigestConfig) DigestConfig {
	if d == nil {
		return DigestConfig{}
	}
	return *d
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}
