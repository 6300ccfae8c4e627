package storage

import (
	"errors"
	"strings"

	logx "lookout/pkg/logx"
)

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled; a nil Store means the roster
// runs on its seeded recipient set alone.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
