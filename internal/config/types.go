package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"lookout/internal/storage"
	logx "lookout/pkg/logx"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Roster   RosterConfig   `json:"roster"`
	Filter   FilterConfig   `json:"filter"`
	Images   ImagesConfig   `json:"images"`

	Digest  *DigestConfig  `json:"digest,omitempty"`
	Storage *StorageConfig `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
	File    struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path,omitempty"`
	} `json:"file"`
}

// RosterConfig controls the recipient cache.
//
// RefreshPeriod is a Go duration string; "0s" (or omitted) pins the roster
// to its initial contents. Seed recipients skip the initial store fetch;
// without a seed, storage must be configured.
type RosterConfig struct {
	RefreshPeriod string   `json:"refresh_period,omitempty"`
	Seed          []string `json:"seed,omitempty"`
}

// FilterConfig feeds the event filter built in cmd. An event qualifies when
// any detected object matches a watched label at or above MinConfidence.
// An empty watch list watches everything above the confidence floor.
type FilterConfig struct {
	WatchLabels   []string `json:"watch_labels"`
	MinConfidence float64  `json:"min_confidence"`
}

// ImagesConfig maps drawn-image references to public URLs.
// RawBaseURL defaults to BaseURL (same URL for thumbnail and full image).
type ImagesConfig struct {
	BaseURL    string `json:"base_url"`
	RawBaseURL string `json:"raw_base_url,omitempty"`
}

type DigestConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // cron spec, default "0 9 * * *"
}

// StorageConfig controls the roster/feedback persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./lookout.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// Validate catches configuration mistakes at load time rather than on the
// dispatch path.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if strings.TrimSpace(c.Images.BaseURL) == "" {
		return errors.New("images.base_url is required")
	}
	if c.Filter.MinConfidence < 0 || c.Filter.MinConfidence > 1 {
		return fmt.Errorf("filter.min_confidence must be in [0,1], got %v", c.Filter.MinConfidence)
	}
	if _, err := ParseDurationField("roster.refresh_period", c.Roster.RefreshPeriod); err != nil {
		return err
	}
	if len(c.Roster.Seed) == 0 && (c.Storage == nil || strings.TrimSpace(c.Storage.Driver) == "" || strings.EqualFold(c.Storage.Driver, "none")) {
		return errors.New("roster.seed or storage must be configured")
	}
	return nil
}

// RefreshPeriod returns the parsed roster refresh period.
func (c *Config) RefreshPeriod() time.Duration {
	d, _ := ParseDurationField("roster.refresh_period", c.Roster.RefreshPeriod)
	return d
}

// LogxConfig converts to the logging service config.
func (c *Config) LogxConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
	}
}

// StorageConfigParsed converts to the storage layer config.
// Returns the zero Config (disabled) when no storage block is present.
func (c *Config) StorageConfigParsed() (storage.Config, error) {
	if c.Storage == nil {
		return storage.Config{}, nil
	}
	busy, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: c.Storage.Driver, Path: c.Storage.Path, BusyTimeout: busy}, nil
}
