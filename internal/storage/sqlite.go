package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"lookout/internal/transport"
	logx "lookout/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ListRecipients(ctx context.Context, platform string) ([]transport.RecipientID, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM registered_audience WHERE platform = ?`, platform)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []transport.RecipientID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, transport.RecipientID(id))
	}
	return out, rows.Err()
}

func (s *sqliteStore) AddRecipient(ctx context.Context, platform string, id transport.RecipientID) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if id == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO registered_audience(platform, user_id, added_at) VALUES(?,?,?)
		 ON CONFLICT(platform, user_id) DO NOTHING`,
		platform, string(id), time.Now().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) RemoveRecipient(ctx context.Context, platform string, id transport.RecipientID) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM registered_audience WHERE platform = ? AND user_id = ?`,
		platform, string(id),
	)
	return err
}

func (s *sqliteStore) AppendFeedback(ctx context.Context, fb transport.Feedback) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if fb.At.IsZero() {
		fb.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO false_alert_feedback(token, user_id, at) VALUES(?,?,?)`,
		fb.Token, string(fb.From), fb.At.Format(time.RFC3339Nano),
	)
	return err
}
