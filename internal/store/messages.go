package store

import (
	"database/sql"
	"fmt"
	"time"
)

// MessageRecord mirrors one row of messages.
type MessageRecord struct {
	ID              string
	AccountID       string
	Mailbox         string
	UID             uint32
	RawBlobID       string
	Subject         string
	From            string
	HasAttachments  bool
	CreatedAt       time.Time
}

// InsertMessage creates a new message row.
func (s *Store) InsertMessage(rec *MessageRecord) error {
	hasAttachments := 0
	if rec.HasAttachments {
		hasAttachments = 1
	}
	var rawBlobID interface{}
	if rec.RawBlobID != "" {
		rawBlobID = rec.RawBlobID
	}
	_, err := s.db.Exec(
		`INSERT INTO messages (id, account_id, mailbox, uid, raw_rfc822_blob_id, subject, from_addr, has_attachments)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.AccountID, rec.Mailbox, rec.UID, rawBlobID, rec.Subject, rec.From, hasAttachments,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert message %s: %w", rec.ID, err)
	}
	return nil
}

// GetMessage fetches a message row by id.
func (s *Store) GetMessage(id string) (*MessageRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, account_id, mailbox, uid, raw_rfc822_blob_id, subject, from_addr, has_attachments, created_at
		 FROM messages WHERE id = ?`, id,
	)
	var rec MessageRecord
	var rawBlobID, subject, from sql.NullString
	var hasAttachments int
	if err := row.Scan(&rec.ID, &rec.AccountID, &rec.Mailbox, &rec.UID, &rawBlobID, &subject, &from,
		&hasAttachments, &rec.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	rec.RawBlobID = rawBlobID.String
	rec.Subject = subject.String
	rec.From = from.String
	rec.HasAttachments = hasAttachments != 0
	return &rec, nil
}

// FindMessageByUID looks up a message by its source-local identity triple,
// used to detect whether a fetched message has already been ingested.
func (s *Store) FindMessageByUID(accountID, mailbox string, uid uint32) (*MessageRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, account_id, mailbox, uid, raw_rfc822_blob_id, subject, from_addr, has_attachments, created_at
		 FROM messages WHERE account_id = ? AND mailbox = ? AND uid = ?`, accountID, mailbox, uid,
	)
	var rec MessageRecord
	var rawBlobID, subject, from sql.NullString
	var hasAttachments int
	if err := row.Scan(&rec.ID, &rec.AccountID, &rec.Mailbox, &rec.UID, &rawBlobID, &subject, &from,
		&hasAttachments, &rec.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find message by uid %s/%s/%d: %w", accountID, mailbox, uid, err)
	}
	rec.RawBlobID = rawBlobID.String
	rec.Subject = subject.String
	rec.From = from.String
	rec.HasAttachments = hasAttachments != 0
	return &rec, nil
}

// SetRawBlobID binds the raw RFC822 blob for an already-inserted message.
func (s *Store) SetRawBlobID(id, blobID string) error {
	res, err := s.db.Exec(`UPDATE messages SET raw_rfc822_blob_id = ? WHERE id = ?`, blobID, id)
	if err != nil {
		return fmt.Errorf("set raw blob id %s: %w", id, err)
	}
	return requireRowsAffected(res, id)
}

// SetMessageMetadata backfills subject/from_addr once the raw message has
// been parsed; InsertMessage runs before parsing, so these columns start
// empty.
func (s *Store) SetMessageMetadata(id, subject, from string) error {
	res, err := s.db.Exec(`UPDATE messages SET subject = ?, from_addr = ? WHERE id = ?`, subject, from, id)
	if err != nil {
		return fmt.Errorf("set message metadata %s: %w", id, err)
	}
	return requireRowsAffected(res, id)
}

// DeleteMessage removes a message row; dependent mime_parts, attachments, and
// render_cache rows cascade via foreign keys.
func (s *Store) DeleteMessage(id string) error {
	_, err := s.db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message %s: %w", id, err)
	}
	return nil
}
