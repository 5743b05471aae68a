package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kestrelmail/mailcore/internal/store"
)

// ErrorResponse is the JSON body written on any non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RenderResponse is the JSON body returned by GET /mail/{messageId}/render.
type RenderResponse struct {
	MessageID        string `json:"message_id"`
	HTML             string `json:"html,omitempty"`
	Text             string `json:"text,omitempty"`
	GeneratorVersion int    `json:"generator_version"`
}

// StatsResponse summarizes store-wide operational counters.
type StatsResponse struct {
	BlobCount           int64 `json:"blob_count"`
	BlobBytesTotal      int64 `json:"blob_bytes_total"`
	BlobDeduplicated    int64 `json:"blob_deduplicated_count"`
	RenderCacheMemItems int   `json:"render_cache_memory_items"`
	RenderCacheRows     int64 `json:"render_cache_durable_rows"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// handleRender serves the materialized render-cache artifact for a message.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageId")

	artifact, err := s.cache.Retrieve(messageID)
	if err != nil {
		s.logger.Error("render cache retrieve failed", "message_id", messageID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load rendered content")
		return
	}
	if artifact == nil {
		writeError(w, http.StatusNotFound, "not_found", "no rendered artifact for this message")
		return
	}

	writeJSON(w, http.StatusOK, RenderResponse{
		MessageID:        messageID,
		HTML:             artifact.HTMLRendered,
		Text:             artifact.TextRendered,
		GeneratorVersion: artifact.GeneratorVersion,
	})
}

// handleCID resolves a cid: reference to its inline attachment bytes.
func (s *Server) handleCID(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageId")
	contentID := chi.URLParam(r, "contentId")

	rec, err := s.store.GetAttachmentByContentID(messageID, contentID)
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "not_found", "no inline attachment for that content id")
			return
		}
		s.logger.Error("cid lookup failed", "message_id", messageID, "content_id", contentID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to resolve cid reference")
		return
	}

	s.serveAttachmentContent(w, rec)
}

// handleAttachment serves an attachment's raw content by its numeric id.
func (s *Server) handleAttachment(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageId")
	idParam := chi.URLParam(r, "attachmentId")

	id, err := strconv.ParseInt(idParam, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "attachment id must be numeric")
		return
	}

	rec, err := s.store.GetAttachment(id)
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "not_found", "attachment not found")
			return
		}
		s.logger.Error("attachment lookup failed", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load attachment")
		return
	}
	if rec.MessageID != messageID {
		writeError(w, http.StatusNotFound, "not_found", "attachment not found")
		return
	}

	s.serveAttachmentContent(w, rec)
}

func (s *Server) serveAttachmentContent(w http.ResponseWriter, rec *store.AttachmentRecord) {
	if rec.StorageKey == "" {
		writeError(w, http.StatusAccepted, "not_yet_downloaded", "attachment has not been downloaded yet")
		return
	}

	content, err := s.blobs.RetrieveSafe(rec.StorageKey)
	if err != nil {
		s.logger.Error("blob retrieve failed", "storage_key", rec.StorageKey, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load attachment content")
		return
	}

	contentType := rec.MediaType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

// handleStats reports blob-store and render-cache operational counters.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	blobStats, err := s.blobs.Stats()
	if err != nil {
		s.logger.Error("blob stats failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to gather stats")
		return
	}
	cacheStats, err := s.cache.Stats()
	if err != nil {
		s.logger.Error("render cache stats failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to gather stats")
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		BlobCount:           blobStats.TotalBlobs,
		BlobBytesTotal:      blobStats.TotalSize,
		BlobDeduplicated:    blobStats.DeduplicatedCount,
		RenderCacheMemItems: cacheStats.MemoryItems,
		RenderCacheRows:     cacheStats.DurableRows,
	})
}
