package attachment

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/kestrelmail/mailcore/internal/blobstore"
	"github.com/kestrelmail/mailcore/internal/fetchplanner"
	"github.com/kestrelmail/mailcore/internal/scanner"
	"github.com/kestrelmail/mailcore/internal/store"
)

type fakeSource struct {
	calls   int32
	content []byte
	err     error
}

func (f *fakeSource) FetchSection(ctx context.Context, messageID string, section fetchplanner.SectionSpec, offset, length int64) ([]byte, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	end := offset + length
	if end > int64(len(f.content)) {
		end = int64(len(f.content))
	}
	if offset > int64(len(f.content)) {
		offset = int64(len(f.content))
	}
	return f.content[offset:end], nil
}

func newTestDownloader(t *testing.T, source Source) (*Downloader, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "metadata.db"))
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
	sc := scanner.New(scanner.Config{})
	return New(st, blobs, sc, source, Config{}), st
}

func seedMessageAndAttachment(t *testing.T, st *store.Store, messageID, partID string) {
	t.Helper()
	if err := st.InsertMessage(&store.MessageRecord{ID: messageID, AccountID: "a1", Mailbox: "INBOX", UID: 1}); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	if _, err := st.InsertAttachment(&store.AttachmentRecord{
		MessageID: messageID,
		PartID:    partID,
		Filename:  "file.pdf",
		MediaType: "application/pdf",
		SizeBytes: 0,
	}); err != nil {
		t.Fatalf("InsertAttachment: %v", err)
	}
}

func TestDownloadAttachmentFetchesAndStores(t *testing.T) {
	source := &fakeSource{content: []byte("%PDF-1.4 fake content")}
	d, st := newTestDownloader(t, source)
	seedMessageAndAttachment(t, st, "msg-1", "2")

	section := fetchplanner.SectionSpec{PartID: "2", ExpectedSize: int64(len(source.content)), MediaType: "application/pdf"}
	res, err := d.DownloadAttachment(context.Background(), "msg-1", section)
	if err != nil {
		t.Fatalf("DownloadAttachment: %v", err)
	}
	if res.StorageKey == "" {
		t.Error("expected a storage key")
	}
	if res.FromCache {
		t.Error("did not expect FromCache on first fetch")
	}
	if atomic.LoadInt32(&source.calls) != 1 {
		t.Errorf("source.calls = %d, want 1", source.calls)
	}
}

func TestDownloadAttachmentServesFromCacheOnSecondCall(t *testing.T) {
	source := &fakeSource{content: []byte("repeat content")}
	d, st := newTestDownloader(t, source)
	seedMessageAndAttachment(t, st, "msg-2", "2")

	section := fetchplanner.SectionSpec{PartID: "2", ExpectedSize: int64(len(source.content)), MediaType: "text/plain"}
	if _, err := d.DownloadAttachment(context.Background(), "msg-2", section); err != nil {
		t.Fatalf("first DownloadAttachment: %v", err)
	}

	res2, err := d.DownloadAttachment(context.Background(), "msg-2", section)
	if err != nil {
		t.Fatalf("second DownloadAttachment: %v", err)
	}
	if !res2.FromCache {
		t.Error("expected FromCache on second fetch")
	}
	if atomic.LoadInt32(&source.calls) != 1 {
		t.Errorf("source.calls = %d, want 1 (cache should avoid a second fetch)", source.calls)
	}
}

func TestDownloadAttachmentPropagatesSourceError(t *testing.T) {
	wantErr := errors.New("connection reset")
	source := &fakeSource{err: wantErr}
	d, st := newTestDownloader(t, source)
	seedMessageAndAttachment(t, st, "msg-3", "2")

	section := fetchplanner.SectionSpec{PartID: "2", ExpectedSize: 10, MediaType: "application/pdf"}
	_, err := d.DownloadAttachment(context.Background(), "msg-3", section)
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestDownloadAllFetchesEverySection(t *testing.T) {
	source := &fakeSource{content: make([]byte, 2*1024*1024)}
	d, st := newTestDownloader(t, source)
	seedMessageAndAttachment(t, st, "msg-4", "2")
	seedMessageAndAttachment(t, st, "msg-4", "3")

	sections := []fetchplanner.SectionSpec{
		{PartID: "2", ExpectedSize: 2 * 1024 * 1024, MediaType: "application/zip"},
		{PartID: "3", ExpectedSize: 100, MediaType: "text/plain"},
	}
	results, errs := d.DownloadAll(context.Background(), "msg-4", sections)
	if len(results) != 2 || len(errs) != 2 {
		t.Fatalf("unexpected result lengths: %d / %d", len(results), len(errs))
	}
	for i, err := range errs {
		if err != nil {
			t.Errorf("section %d: %v", i, err)
		}
	}
}
