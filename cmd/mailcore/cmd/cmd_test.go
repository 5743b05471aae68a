package cmd

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/kestrelmail/mailcore/internal/config"
)

func setupTestEnv(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	c := config.NewDefaultConfig()
	c.HomeDir = home
	c.Data.DataDir = home
	cfg = c
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := cfg.EnsureHomeDir(); err != nil {
		t.Fatalf("EnsureHomeDir: %v", err)
	}
}

func TestInitDBCreatesSchema(t *testing.T) {
	setupTestEnv(t)
	if err := initDBCmd.RunE(initDBCmd, nil); err != nil {
		t.Fatalf("init-db: %v", err)
	}
	if _, err := os.Stat(cfg.DatabaseDSN()); err != nil {
		t.Fatalf("expected database file to exist: %v", err)
	}
}

func TestStatsOnEmptyDatabase(t *testing.T) {
	setupTestEnv(t)
	if err := initDBCmd.RunE(initDBCmd, nil); err != nil {
		t.Fatalf("init-db: %v", err)
	}
	if err := statsCmd.RunE(statsCmd, nil); err != nil {
		t.Fatalf("stats: %v", err)
	}
}

func TestIngestProcessesRawMessage(t *testing.T) {
	setupTestEnv(t)
	if err := initDBCmd.RunE(initDBCmd, nil); err != nil {
		t.Fatalf("init-db: %v", err)
	}

	emlPath := filepath.Join(t.TempDir(), "message.eml")
	raw := "From: a@example.com\r\nTo: b@example.com\r\nSubject: hi\r\n" +
		"Content-Type: text/plain\r\n\r\nhello world\r\n"
	if err := os.WriteFile(emlPath, []byte(raw), 0644); err != nil {
		t.Fatalf("write eml: %v", err)
	}

	ingestAccountID = "acct-test"
	ingestMailbox = "INBOX"
	ingestUID = 1
	if err := ingestCmd.RunE(ingestCmd, []string{emlPath}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
}

func TestGCOnEmptyStoreIsANoop(t *testing.T) {
	setupTestEnv(t)
	if err := initDBCmd.RunE(initDBCmd, nil); err != nil {
		t.Fatalf("init-db: %v", err)
	}
	if err := gcCmd.RunE(gcCmd, nil); err != nil {
		t.Fatalf("gc: %v", err)
	}
}
