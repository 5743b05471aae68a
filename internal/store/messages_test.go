package store

import "testing"

func TestInsertAndGetMessage(t *testing.T) {
	s := newTestStore(t)
	seedMessage(t, s, "msg-1")

	rec, err := s.GetMessage("msg-1")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if rec.Subject != "test subject" {
		t.Errorf("Subject = %q, want %q", rec.Subject, "test subject")
	}
}

func TestInsertMessageDuplicateUID(t *testing.T) {
	s := newTestStore(t)
	seedMessage(t, s, "msg-1")

	err := s.InsertMessage(&MessageRecord{ID: "msg-2", AccountID: "acct-1", Mailbox: "INBOX", UID: 1})
	if err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists for duplicate account/mailbox/uid, got %v", err)
	}
}

func TestFindMessageByUID(t *testing.T) {
	s := newTestStore(t)
	seedMessage(t, s, "msg-1")

	rec, err := s.FindMessageByUID("acct-1", "INBOX", 1)
	if err != nil {
		t.Fatalf("FindMessageByUID: %v", err)
	}
	if rec.ID != "msg-1" {
		t.Errorf("ID = %q, want msg-1", rec.ID)
	}

	if _, err := s.FindMessageByUID("acct-1", "INBOX", 999); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteMessageCascades(t *testing.T) {
	s := newTestStore(t)
	seedMessage(t, s, "msg-1")

	if err := s.InsertMimeParts("msg-1", []MimePartRecord{{PartID: "1", MediaType: "text/plain"}}); err != nil {
		t.Fatalf("InsertMimeParts: %v", err)
	}

	if err := s.DeleteMessage("msg-1"); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}

	parts, err := s.GetMimeParts("msg-1")
	if err != nil {
		t.Fatalf("GetMimeParts: %v", err)
	}
	if len(parts) != 0 {
		t.Errorf("expected mime_parts to cascade-delete, got %d rows", len(parts))
	}
}
