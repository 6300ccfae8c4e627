package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validYAML = `
telegram:
  token: "123:abc"
  rate_per_sec: 10
logging:
  level: info
  console: true
  file:
    enabled: false
roster:
  refresh_period: 5m
filter:
  watch_labels: [person, cat]
  min_confidence: 0.5
images:
  base_url: https://cdn.example.com/drawn
storage:
  driver: file
  path: ./data/lookout
digest:
  enabled: true
  schedule: "0 9 * * *"
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if got := cfg.RefreshPeriod(); got != 5*time.Minute {
		t.Fatalf("RefreshPeriod = %v, want 5m", got)
	}
	if len(cfg.Filter.WatchLabels) != 2 || cfg.Filter.MinConfidence != 0.5 {
		t.Fatalf("filter = %+v", cfg.Filter)
	}
	if cfg.Digest == nil || !cfg.Digest.Enabled {
		t.Fatalf("digest = %+v", cfg.Digest)
	}
	if m.Get() != cfg {
		t.Fatal("Get() did not return committed config")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", validYAML+"\nbogus_section:\n  x: 1\n"))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}, wantErr: false},
		{name: "missing token", mutate: func(c *Config) { c.Telegram.Token = "" }, wantErr: true},
		{name: "missing base url", mutate: func(c *Config) { c.Images.BaseURL = "" }, wantErr: true},
		{name: "confidence out of range", mutate: func(c *Config) { c.Filter.MinConfidence = 1.5 }, wantErr: true},
		{name: "bad refresh period", mutate: func(c *Config) { c.Roster.RefreshPeriod = "soon" }, wantErr: true},
		{name: "no seed and no storage", mutate: func(c *Config) { c.Storage = nil; c.Roster.Seed = nil }, wantErr: true},
		{name: "seed without storage", mutate: func(c *Config) { c.Storage = nil; c.Roster.Seed = []string{"100"} }, wantErr: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := &Config{
				Telegram: TelegramConfig{Token: "123:abc"},
				Roster:   RosterConfig{RefreshPeriod: "1m"},
				Filter:   FilterConfig{MinConfidence: 0.4},
				Images:   ImagesConfig{BaseURL: "https://cdn/x"},
				Storage:  &StorageConfig{Driver: "file", Path: "./x"},
			}
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " 10s "); err != nil || d != 10*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("expected error for negative duration")
	}
	if _, err := ParseDurationField("x", "nope"); err == nil {
		t.Fatal("expected error for junk")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default: got %v, %v", d, err)
	}
}

func TestLoadJSONConfig(t *testing.T) {
	t.Parallel()
	const body = `{
		"telegram": {"token": "123:abc"},
		"logging": {"level": "info", "console": true, "file": {"enabled": false}},
		"roster": {"refresh_period": "1m", "seed": ["100"]},
		"filter": {"watch_labels": ["person"], "min_confidence": 0.5},
		"images": {"base_url": "https://cdn.example.com/drawn"}
	}`
	m := NewManager(writeConfig(t, "config.json", body))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.RefreshPeriod() != time.Minute {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Telegram: TelegramConfig{Token: "123:abc"},
			Logging:  LoggingConfig{Level: "info", Console: true},
			Roster:   RosterConfig{RefreshPeriod: "5m"},
			Filter:   FilterConfig{WatchLabels: []string{"person"}, MinConfidence: 0.5},
			Images:   ImagesConfig{BaseURL: "https://cdn/x"},
			Storage:  &StorageConfig{Driver: "file", Path: "./x"},
		}
	}

	if sections, _ := summarizeChange(base(), base()); len(sections) != 0 {
		t.Fatalf("identical configs reported sections %v", sections)
	}

	next := base()
	next.Logging.Level = "debug"
	next.Filter.MinConfidence = 0.8
	next.Storage = nil
	sections, _ := summarizeChange(base(), next)
	want := []string{"filter", "logging", "storage"}
	if len(sections) != len(want) {
		t.Fatalf("sections = %v, want %v", sections, want)
	}
	for i := range want {
		if sections[i] != want[i] {
			t.Fatalf("sections = %v, want %v", sections, want)
		}
	}

	// nil old config (first load) reports everything that is set.
	sections, _ = summarizeChange(nil, base())
	if len(sections) == 0 {
		t.Fatal("nil old config reported no changes")
	}
}
