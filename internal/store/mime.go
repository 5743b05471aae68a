package store

import (
	"database/sql"
	"fmt"
)

// MimePartRecord mirrors one row of mime_parts.
type MimePartRecord struct {
	MessageID          string
	PartID             string
	ParentPartID        string
	MediaType          string
	Charset            string
	TransferEncoding    string
	Disposition        string
	FilenameRaw        string
	FilenameNormalized string
	ContentID          string
	SizeOctets         int
	IsBodyCandidate    bool
	BlobID             string
}

// InsertMimeParts bulk-inserts the part tree for a message inside one
// transaction. Existing rows for the message are replaced.
func (s *Store) InsertMimeParts(messageID string, parts []MimePartRecord) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM mime_parts WHERE message_id = ?`, messageID); err != nil {
			return fmt.Errorf("clear mime parts %s: %w", messageID, err)
		}

		stmt, err := tx.Prepare(
			`INSERT INTO mime_parts (message_id, part_id, parent_part_id, media_type, charset,
			   transfer_encoding, disposition, filename_raw, filename_normalized, content_id,
			   size_octets, is_body_candidate, blob_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		)
		if err != nil {
			return fmt.Errorf("prepare insert mime part: %w", err)
		}
		defer stmt.Close()

		for _, p := range parts {
			isBodyCandidate := 0
			if p.IsBodyCandidate {
				isBodyCandidate = 1
			}
			var parent, blobID interface{}
			if p.ParentPartID != "" {
				parent = p.ParentPartID
			}
			if p.BlobID != "" {
				blobID = p.BlobID
			}
			if _, err := stmt.Exec(messageID, p.PartID, parent, p.MediaType, p.Charset,
				p.TransferEncoding, p.Disposition, p.FilenameRaw, p.FilenameNormalized,
				p.ContentID, p.SizeOctets, isBodyCandidate, blobID); err != nil {
				return fmt.Errorf("insert mime part %s/%s: %w", messageID, p.PartID, err)
			}
		}
		return nil
	})
}

// GetMimeParts returns every part row for a message, ordered by part_id.
func (s *Store) GetMimeParts(messageID string) ([]MimePartRecord, error) {
	rows, err := s.db.Query(
		`SELECT message_id, part_id, parent_part_id, media_type, charset, transfer_encoding,
		        disposition, filename_raw, filename_normalized, content_id, size_octets,
		        is_body_candidate, blob_id
		 FROM mime_parts WHERE message_id = ? ORDER BY part_id`, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("get mime parts %s: %w", messageID, err)
	}
	defer rows.Close()

	var parts []MimePartRecord
	for rows.Next() {
		var p MimePartRecord
		var parent, charset, transferEncoding, disposition, filenameRaw, filenameNormalized, contentID, blobID sql.NullString
		var isBodyCandidate int
		if err := rows.Scan(&p.MessageID, &p.PartID, &parent, &p.MediaType, &charset, &transferEncoding,
			&disposition, &filenameRaw, &filenameNormalized, &contentID, &p.SizeOctets,
			&isBodyCandidate, &blobID); err != nil {
			return nil, err
		}
		p.ParentPartID = parent.String
		p.Charset = charset.String
		p.TransferEncoding = transferEncoding.String
		p.Disposition = disposition.String
		p.FilenameRaw = filenameRaw.String
		p.FilenameNormalized = filenameNormalized.String
		p.ContentID = contentID.String
		p.BlobID = blobID.String
		p.IsBodyCandidate = isBodyCandidate != 0
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// SetMimePartBlob binds a part to the blob holding its decoded content.
func (s *Store) SetMimePartBlob(messageID, partID, blobID string) error {
	res, err := s.db.Exec(
		`UPDATE mime_parts SET blob_id = ? WHERE message_id = ? AND part_id = ?`,
		blobID, messageID, partID,
	)
	if err != nil {
		return fmt.Errorf("set mime part blob %s/%s: %w", messageID, partID, err)
	}
	return requireRowsAffected(res, partID)
}
