package httpapi

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/kestrelmail/mailcore/internal/blobstore"
	"github.com/kestrelmail/mailcore/internal/config"
	"github.com/kestrelmail/mailcore/internal/rendercache"
	"github.com/kestrelmail/mailcore/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store, *blobstore.Store) {
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
	cache := rendercache.New(st, rendercache.Config{
		MaxMemoryItems:        10,
		MaxMemoryBytes:        1024 * 1024,
		CompressionThresholdB: 1024,
		ExpirationDays:        30,
		GeneratorVersion:      1,
	})

	cfg := config.NewDefaultConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(cfg, st, blobs, cache, logger)
	return s, st, blobs
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestRenderRequiresAPIKeyWhenConfigured(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.cfg.Server.APIKey = "secret"

	req := httptest.NewRequest(http.MethodGet, "/mail/msg-1/render", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/mail/msg-1/render", nil)
	req2.Header.Set("X-API-Key", "secret")
	rr2 := httptest.NewRecorder()
	s.Router().ServeHTTP(rr2, req2)
	if rr2.Code == http.StatusUnauthorized {
		t.Fatal("expected request with a valid API key to pass auth")
	}
}

func TestRenderReturnsNotFoundForMissingMessage(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/mail/missing/render", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestRenderReturnsCachedArtifact(t *testing.T) {
	s, _, _ := newTestServer(t)
	if err := s.cache.Store("msg-1", "<p>hi</p>", "hi", 1); err != nil {
		t.Fatalf("Store: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/mail/msg-1/render", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rr.Code, rr.Body.String())
	}
}

func TestAttachmentNotYetDownloaded(t *testing.T) {
	s, st, _ := newTestServer(t)
	if err := st.InsertMessage(&store.MessageRecord{ID: "msg-2", AccountID: "a", Mailbox: "INBOX", UID: 1}); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	id, err := st.InsertAttachment(&store.AttachmentRecord{MessageID: "msg-2", PartID: "2", Filename: "f.pdf"})
	if err != nil {
		t.Fatalf("InsertAttachment: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/mail/msg-2/attachments/"+strconv.FormatInt(id, 10), nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rr.Code)
	}
}
