package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"lookout/internal/transport"
	logx "lookout/pkg/logx"
)

func openTestFileStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "lookout")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st != nil {
		t.Fatal("expected nil store when disabled")
	}
	if st, err = Open(Config{Driver: "none"}, logx.Nop()); err != nil || st != nil {
		t.Fatalf("driver none: st=%v err=%v", st, err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFileStoreRecipientRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestFileStore(t)
	ctx := context.Background()

	for _, id := range []transport.RecipientID{"100", "200", "100"} {
		if err := st.AddRecipient(ctx, "telegram", id); err != nil {
			t.Fatalf("AddRecipient(%s): %v", id, err)
		}
	}
	// A different platform's roster stays separate.
	if err := st.AddRecipient(ctx, "line", "U999"); err != nil {
		t.Fatalf("AddRecipient(line): %v", err)
	}

	got, err := st.ListRecipients(ctx, "telegram")
	if err != nil {
		t.Fatalf("ListRecipients: %v", err)
	}
	if len(got) != 2 || got[0] != "100" || got[1] != "200" {
		t.Fatalf("ListRecipients = %v, want [100 200]", got)
	}

	if err := st.RemoveRecipient(ctx, "telegram", "100"); err != nil {
		t.Fatalf("RemoveRecipient: %v", err)
	}
	got, err = st.ListRecipients(ctx, "telegram")
	if err != nil {
		t.Fatalf("ListRecipients: %v", err)
	}
	if len(got) != 1 || got[0] != "200" {
		t.Fatalf("ListRecipients after remove = %v, want [200]", got)
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "lookout")}
	ctx := context.Background()

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.AddRecipient(ctx, "telegram", "42"); err != nil {
		t.Fatalf("AddRecipient: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	got, err := st.ListRecipients(ctx, "telegram")
	if err != nil {
		t.Fatalf("ListRecipients: %v", err)
	}
	if len(got) != 1 || got[0] != "42" {
		t.Fatalf("ListRecipients after reopen = %v, want [42]", got)
	}
}

func TestFileStoreAppendFeedback(t *testing.T) {
	t.Parallel()
	st := openTestFileStore(t)
	fb := transport.Feedback{Token: "false_alert_evt-42_", From: "100", At: time.Now()}
	if err := st.AppendFeedback(context.Background(), fb); err != nil {
		t.Fatalf("AppendFeedback: %v", err)
	}
}
