package store

import (
	"database/sql"
	"fmt"
	"time"
)

// BlobRecord mirrors one row of blob_metadata.
type BlobRecord struct {
	Hash         string
	SizeBytes    int64
	Path         string
	RefCount     int
	CreatedAt    time.Time
	LastAccessed time.Time
	Quarantined  bool
	ScanStatus   string
	ScanDetails  string
	ScannedAt    sql.NullTime
}

// InsertBlob creates a new blob_metadata row with ref_count 1. Returns
// ErrAlreadyExists if the hash is already present; callers should use
// IncRefBlob instead in that case.
func (s *Store) InsertBlob(hash string, sizeBytes int64, path string) error {
	_, err := s.db.Exec(
		`INSERT INTO blob_metadata (hash, size_bytes, path, ref_count) VALUES (?, ?, ?, 1)`,
		hash, sizeBytes, path,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert blob %s: %w", hash, err)
	}
	return nil
}

// GetBlob fetches a single blob_metadata row by hash.
func (s *Store) GetBlob(hash string) (*BlobRecord, error) {
	row := s.db.QueryRow(
		`SELECT hash, size_bytes, path, ref_count, created_at, last_accessed,
		        quarantined, scan_status, scan_details, scanned_at
		 FROM blob_metadata WHERE hash = ?`, hash,
	)
	rec, err := scanBlobRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", hash, err)
	}
	return rec, nil
}

func scanBlobRow(row *sql.Row) (*BlobRecord, error) {
	var rec BlobRecord
	var quarantined int
	var scanDetails sql.NullString
	if err := row.Scan(&rec.Hash, &rec.SizeBytes, &rec.Path, &rec.RefCount,
		&rec.CreatedAt, &rec.LastAccessed, &quarantined, &rec.ScanStatus,
		&scanDetails, &rec.ScannedAt); err != nil {
		return nil, err
	}
	rec.Quarantined = quarantined != 0
	rec.ScanDetails = scanDetails.String
	return &rec, nil
}

// IncRefBlob bumps ref_count and last_accessed for an existing blob.
func (s *Store) IncRefBlob(hash string) error {
	res, err := s.db.Exec(
		`UPDATE blob_metadata SET ref_count = ref_count + 1, last_accessed = CURRENT_TIMESTAMP WHERE hash = ?`,
		hash,
	)
	if err != nil {
		return fmt.Errorf("incref blob %s: %w", hash, err)
	}
	return requireRowsAffected(res, hash)
}

// DecRefBlob decrements ref_count, floored at zero. A blob at ref_count 0
// is eligible for garbage collection but its row is never deleted here;
// callers use DeleteBlob once content has actually been removed from disk.
func (s *Store) DecRefBlob(hash string) error {
	res, err := s.db.Exec(
		`UPDATE blob_metadata SET ref_count = MAX(ref_count - 1, 0) WHERE hash = ?`,
		hash,
	)
	if err != nil {
		return fmt.Errorf("decref blob %s: %w", hash, err)
	}
	return requireRowsAffected(res, hash)
}

// TouchBlob updates last_accessed without changing ref_count.
func (s *Store) TouchBlob(hash string) error {
	_, err := s.db.Exec(`UPDATE blob_metadata SET last_accessed = CURRENT_TIMESTAMP WHERE hash = ?`, hash)
	return err
}

// ListOrphanBlobs returns hashes with ref_count = 0, eligible for collection.
func (s *Store) ListOrphanBlobs() ([]string, error) {
	rows, err := s.db.Query(`SELECT hash FROM blob_metadata WHERE ref_count = 0`)
	if err != nil {
		return nil, fmt.Errorf("list orphan blobs: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
	}
	return hashes, rows.Err()
}

// DeleteBlob removes the blob_metadata row entirely. Called only after the
// underlying file content has been unlinked from disk.
func (s *Store) DeleteBlob(hash string) error {
	_, err := s.db.Exec(`DELETE FROM blob_metadata WHERE hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("delete blob %s: %w", hash, err)
	}
	return nil
}

// QuarantineBlob marks a blob quarantined without deleting its row, per the
// retained-metadata decision: scanned content that fails inspection keeps its
// database record so callers can see why a blob became unavailable.
func (s *Store) QuarantineBlob(hash, reason string) error {
	res, err := s.db.Exec(
		`UPDATE blob_metadata SET quarantined = 1, scan_status = 'quarantined', scan_details = ? WHERE hash = ?`,
		reason, hash,
	)
	if err != nil {
		return fmt.Errorf("quarantine blob %s: %w", hash, err)
	}
	return requireRowsAffected(res, hash)
}

// RestoreBlobFromQuarantine clears the quarantined flag after a manual review.
func (s *Store) RestoreBlobFromQuarantine(hash string) error {
	res, err := s.db.Exec(
		`UPDATE blob_metadata SET quarantined = 0, scan_status = 'clean', scan_details = NULL WHERE hash = ?`,
		hash,
	)
	if err != nil {
		return fmt.Errorf("restore blob %s: %w", hash, err)
	}
	return requireRowsAffected(res, hash)
}

// MarkBlobScanned records the outcome of a security scan pass.
func (s *Store) MarkBlobScanned(hash, status, details string) error {
	res, err := s.db.Exec(
		`UPDATE blob_metadata SET scan_status = ?, scan_details = ?, scanned_at = CURRENT_TIMESTAMP WHERE hash = ?`,
		status, details, hash,
	)
	if err != nil {
		return fmt.Errorf("mark blob scanned %s: %w", hash, err)
	}
	return requireRowsAffected(res, hash)
}

// GetBlobsByHashes fetches multiple blob rows in one round trip, chunked to
// respect SQLite's bound-parameter ceiling.
func (s *Store) GetBlobsByHashes(hashes []string) (map[string]*BlobRecord, error) {
	out := make(map[string]*BlobRecord, len(hashes))
	err := queryInChunks(s.db, hashes, nil,
		`SELECT hash, size_bytes, path, ref_count, created_at, last_accessed,
		        quarantined, scan_status, scan_details, scanned_at
		 FROM blob_metadata WHERE hash IN (%s)`,
		func(rows *sql.Rows) error {
			var rec BlobRecord
			var quarantined int
			var scanDetails sql.NullString
			if err := rows.Scan(&rec.Hash, &rec.SizeBytes, &rec.Path, &rec.RefCount,
				&rec.CreatedAt, &rec.LastAccessed, &quarantined, &rec.ScanStatus,
				&scanDetails, &rec.ScannedAt); err != nil {
				return err
			}
			rec.Quarantined = quarantined != 0
			rec.ScanDetails = scanDetails.String
			out[rec.Hash] = &rec
			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("get blobs by hashes: %w", err)
	}
	return out, nil
}

func requireRowsAffected(res sql.Result, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
