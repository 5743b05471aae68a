package store

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "metadata.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.InitSchema(); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	return s
}

func seedMessage(t *testing.T, s *Store, id string) {
	t.Helper()
	if err := s.InsertMessage(&MessageRecord{
		ID:        id,
		AccountID: "acct-1",
		Mailbox:   "INBOX",
		UID:       1,
		Subject:   "test subject",
		From:      "sender@example.com",
	}); err != nil {
		t.Fatalf("seed message: %v", err)
	}
}
