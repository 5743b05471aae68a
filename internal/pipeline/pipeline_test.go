package pipeline

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/kestrelmail/mailcore/internal/blobstore"
	"github.com/kestrelmail/mailcore/internal/eventbus"
	"github.com/kestrelmail/mailcore/internal/recovery"
	"github.com/kestrelmail/mailcore/internal/rendercache"
	"github.com/kestrelmail/mailcore/internal/scanner"
	"github.com/kestrelmail/mailcore/internal/store"
)

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "metadata.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}

	blobs, err := blobstore.Open(filepath.Join(t.TempDir(), "blobs"), st, nil)
	if err != nil {
		t.Fatalf("blobstore.Open: %v", err)
	}

	cache := rendercache.New(st, rendercache.Config{
		MaxMemoryItems:        10,
		MaxMemoryBytes:        1024 * 1024,
		CompressionThresholdB: 1024,
		ExpirationDays:        30,
		GeneratorVersion:      1,
	})

	sc := scanner.New(scanner.Config{})
	rec := recovery.New(recovery.DefaultConfig())
	bus := eventbus.New()

	return New(st, blobs, cache, sc, rec, bus, Config{
		MaxRawSizeBytes:  10 * 1024 * 1024,
		WarnRawSizeBytes: 5 * 1024 * 1024,
		MaxBlobSize:      10 * 1024 * 1024,
		GeneratorVersion: 1,
	})
}

func sampleRawMessage() []byte {
	var b strings.Builder
	b.WriteString("From: sender@example.com\r\n")
	b.WriteString("To: recipient@example.com\r\n")
	b.WriteString("Subject: Test message\r\n")
	b.WriteString("Content-Type: multipart/mixed; boundary=\"outer\"\r\n\r\n")
	b.WriteString("--outer\r\n")
	b.WriteString("Content-Type: multipart/alternative; boundary=\"inner\"\r\n\r\n")
	b.WriteString("--inner\r\n")
	b.WriteString("Content-Type: text/plain\r\n\r\n")
	b.WriteString("plain body\r\n")
	b.WriteString("--inner\r\n")
	b.WriteString("Content-Type: text/html\r\n\r\n")
	b.WriteString("<p>html body</p>\r\n")
	b.WriteString("--inner--\r\n")
	b.WriteString("--outer\r\n")
	b.WriteString("Content-Type: application/pdf\r\n")
	b.WriteString("Content-Disposition: attachment; filename=\"doc.pdf\"\r\n\r\n")
	b.WriteString("%PDF-1.4 fake\r\n")
	b.WriteString("--outer--\r\n")
	return []byte(b.String())
}

func TestProcessCompletesAndCachesResult(t *testing.T) {
	p := newTestPipeline(t)
	sum, err := p.Process(Input{
		MessageID: "msg-1",
		AccountID: "acct-1",
		Mailbox:   "INBOX",
		UID:       1,
		RawBytes:  sampleRawMessage(),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if sum.Status != StatusCompleted && sum.Status != StatusPartialSuccess {
		t.Fatalf("Status = %q, want completed or partialSuccess", sum.Status)
	}
	if sum.AttachmentCount != 1 {
		t.Errorf("AttachmentCount = %d, want 1", sum.AttachmentCount)
	}
	if sum.FromCache {
		t.Error("did not expect FromCache on first run")
	}

	sum2, err := p.Process(Input{
		MessageID: "msg-1",
		AccountID: "acct-1",
		Mailbox:   "INBOX",
		UID:       1,
		RawBytes:  sampleRawMessage(),
	})
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if !sum2.FromCache {
		t.Error("expected FromCache on second run")
	}
}

func TestProcessPopulatesMessageMetadataFromParsedContent(t *testing.T) {
	p := newTestPipeline(t)
	if _, err := p.Process(Input{
		MessageID: "msg-meta",
		AccountID: "acct-1",
		Mailbox:   "INBOX",
		UID:       4,
		RawBytes:  sampleRawMessage(),
	}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	rec, err := p.Store.GetMessage("msg-meta")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if rec.Subject != "Test message" {
		t.Errorf("Subject = %q, want %q", rec.Subject, "Test message")
	}
	if rec.From != "sender@example.com" {
		t.Errorf("From = %q, want %q", rec.From, "sender@example.com")
	}
}

func TestProcessFailsOversizedMessage(t *testing.T) {
	p := newTestPipeline(t)
	p.Cfg.MaxRawSizeBytes = 10
	sum, err := p.Process(Input{
		MessageID: "msg-2",
		AccountID: "acct-1",
		Mailbox:   "INBOX",
		UID:       2,
		RawBytes:  sampleRawMessage(),
	})
	if err == nil {
		t.Fatal("expected an error for an oversized message")
	}
	if sum.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", sum.Status)
	}
}

func TestProcessPersistsMimePartsAndAttachment(t *testing.T) {
	p := newTestPipeline(t)
	if _, err := p.Process(Input{
		MessageID: "msg-3",
		AccountID: "acct-1",
		Mailbox:   "INBOX",
		UID:       3,
		RawBytes:  sampleRawMessage(),
	}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	parts, err := p.Store.GetMimeParts("msg-3")
	if err != nil {
		t.Fatalf("GetMimeParts: %v", err)
	}
	if len(parts) == 0 {
		t.Error("expected persisted mime parts")
	}

	attachments, err := p.Store.ListAttachments("msg-3")
	if err != nil {
		t.Fatalf("ListAttachments: %v", err)
	}
	if len(attachments) != 1 {
		t.Fatalf("len(attachments) = %d, want 1", len(attachments))
	}
	if attachments[0].Filename != "doc.pdf" {
		t.Errorf("Filename = %q, want doc.pdf", attachments[0].Filename)
	}
}
