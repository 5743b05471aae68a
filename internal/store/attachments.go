package store

import (
	"database/sql"
	"fmt"
	"time"
)

// AttachmentRecord mirrors one row of attachments.
type AttachmentRecord struct {
	ID               int64
	MessageID        string
	PartID           string
	Filename         string
	MediaType        string
	StorageKey       string
	ContentID        string
	Disposition      string
	SizeBytes        int64
	InlineReferenced bool
	VirusScanStatus  string
	CreatedAt        time.Time
}

// InsertAttachment registers an attachment row for a message part. Returns
// ErrAlreadyExists if the part already has an attachment row.
func (s *Store) InsertAttachment(rec *AttachmentRecord) (int64, error) {
	inlineReferenced := 0
	if rec.InlineReferenced {
		inlineReferenced = 1
	}
	var storageKey, contentID interface{}
	if rec.StorageKey != "" {
		storageKey = rec.StorageKey
	}
	if rec.ContentID != "" {
		contentID = rec.ContentID
	}
	res, err := s.db.Exec(
		`INSERT INTO attachments (message_id, part_id, filename, media_type, storage_key, content_id,
		   disposition, size_bytes, inline_referenced, virus_scan_status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.MessageID, rec.PartID, rec.Filename, rec.MediaType, storageKey, contentID,
		rec.Disposition, rec.SizeBytes, inlineReferenced, rec.VirusScanStatus,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, ErrAlreadyExists
		}
		return 0, fmt.Errorf("insert attachment %s/%s: %w", rec.MessageID, rec.PartID, err)
	}
	return res.LastInsertId()
}

// GetAttachment fetches a single attachment row by id.
func (s *Store) GetAttachment(id int64) (*AttachmentRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, message_id, part_id, filename, media_type, storage_key, content_id, disposition,
		        size_bytes, inline_referenced, virus_scan_status, created_at
		 FROM attachments WHERE id = ?`, id,
	)
	return scanAttachmentRow(row)
}

// GetAttachmentByPart fetches an attachment row by its owning message and part.
func (s *Store) GetAttachmentByPart(messageID, partID string) (*AttachmentRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, message_id, part_id, filename, media_type, storage_key, content_id, disposition,
		        size_bytes, inline_referenced, virus_scan_status, created_at
		 FROM attachments WHERE message_id = ? AND part_id = ?`, messageID, partID,
	)
	return scanAttachmentRow(row)
}

// GetAttachmentByContentID fetches an inline attachment row by its owning
// message and Content-ID, used to resolve cid: references at render time.
func (s *Store) GetAttachmentByContentID(messageID, contentID string) (*AttachmentRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, message_id, part_id, filename, media_type, storage_key, content_id, disposition,
		        size_bytes, inline_referenced, virus_scan_status, created_at
		 FROM attachments WHERE message_id = ? AND content_id = ?`, messageID, contentID,
	)
	return scanAttachmentRow(row)
}

func scanAttachmentRow(row *sql.Row) (*AttachmentRecord, error) {
	var rec AttachmentRecord
	var filename, mediaType, storageKey, contentID, disposition sql.NullString
	var inlineReferenced int
	if err := row.Scan(&rec.ID, &rec.MessageID, &rec.PartID, &filename, &mediaType, &storageKey,
		&contentID, &disposition, &rec.SizeBytes, &inlineReferenced, &rec.VirusScanStatus,
		&rec.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan attachment: %w", err)
	}
	rec.Filename = filename.String
	rec.MediaType = mediaType.String
	rec.StorageKey = storageKey.String
	rec.ContentID = contentID.String
	rec.Disposition = disposition.String
	rec.InlineReferenced = inlineReferenced != 0
	return &rec, nil
}

// ListAttachments returns every attachment row belonging to a message.
func (s *Store) ListAttachments(messageID string) ([]AttachmentRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, message_id, part_id, filename, media_type, storage_key, content_id, disposition,
		        size_bytes, inline_referenced, virus_scan_status, created_at
		 FROM attachments WHERE message_id = ? ORDER BY part_id`, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("list attachments %s: %w", messageID, err)
	}
	defer rows.Close()

	var out []AttachmentRecord
	for rows.Next() {
		var rec AttachmentRecord
		var filename, mediaType, storageKey, contentID, disposition sql.NullString
		var inlineReferenced int
		if err := rows.Scan(&rec.ID, &rec.MessageID, &rec.PartID, &filename, &mediaType, &storageKey,
			&contentID, &disposition, &rec.SizeBytes, &inlineReferenced, &rec.VirusScanStatus,
			&rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Filename = filename.String
		rec.MediaType = mediaType.String
		rec.StorageKey = storageKey.String
		rec.ContentID = contentID.String
		rec.Disposition = disposition.String
		rec.InlineReferenced = inlineReferenced != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SetAttachmentStorageKey binds a downloaded attachment to its blob and marks
// the download complete.
func (s *Store) SetAttachmentStorageKey(id int64, storageKey string, sizeBytes int64) error {
	res, err := s.db.Exec(
		`UPDATE attachments SET storage_key = ?, size_bytes = ? WHERE id = ?`,
		storageKey, sizeBytes, id,
	)
	if err != nil {
		return fmt.Errorf("set attachment storage key %d: %w", id, err)
	}
	return requireRowsAffected(res, fmt.Sprintf("%d", id))
}

// SetAttachmentScanStatus records the virus-scan outcome for an attachment.
func (s *Store) SetAttachmentScanStatus(id int64, status string) error {
	res, err := s.db.Exec(`UPDATE attachments SET virus_scan_status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("set attachment scan status %d: %w", id, err)
	}
	return requireRowsAffected(res, fmt.Sprintf("%d", id))
}
