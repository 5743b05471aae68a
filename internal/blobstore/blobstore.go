// Package blobstore implements a hash-addressed, deduplicated, reference-counted
// file store. Bytes are addressed by the lowercase hex SHA-256 of their content
// and fanned out two directory levels deep to keep any one directory small.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kestrelmail/mailcore/internal/mailerrors"
	"github.com/kestrelmail/mailcore/internal/store"
)

const (
	// ScanStatusPending means no scan has run yet.
	ScanStatusPending = "pending"
	// ScanStatusClean means the scan found nothing.
	ScanStatusClean = "clean"
	// ScanStatusInfected means the scan flagged a threat.
	ScanStatusInfected = "infected"
	// ScanStatusQuarantined means the blob was removed from the normal tree.
	ScanStatusQuarantined = "quarantined"
	// ScanStatusScanError means the scan backend itself failed.
	ScanStatusScanError = "scanError"
	// ScanStatusSkipped means scanning was deliberately bypassed.
	ScanStatusSkipped = "skipped"
)

// IsAllowedToDownload reports whether a blob in the given scan status may be
// served to a caller.
func IsAllowedToDownload(status string) bool {
	switch status {
	case ScanStatusClean, ScanStatusPending, ScanStatusSkipped:
		return true
	default:
		return false
	}
}

// Stats summarizes the blob store's contents.
type Stats struct {
	TotalBlobs         int64
	TotalSize          int64
	DeduplicatedCount  int64
	AvgSize            float64
}

// Store is the hash-addressed blob store.
type Store struct {
	baseDir string
	repo    Repository
	locks   *keyLock
	log     *slog.Logger
}

// Open prepares the on-disk directory tree under baseDir and returns a Store
// bound to repo for metadata. Mirrors the teacher's store.Open/Close lifecycle.
func Open(baseDir string, repo Repository, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	for _, sub := range []string{"", "quarantine", "scan_metadata"} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0755); err != nil {
			return nil, fmt.Errorf("create blob directory %s: %w", sub, err)
		}
	}
	return &Store{baseDir: baseDir, repo: repo, locks: newKeyLock(), log: log}, nil
}

func relativePath(blobID string) string {
	return filepath.Join(blobID[0:2], blobID[2:4], blobID)
}

func (s *Store) absPath(blobID string) string {
	return filepath.Join(s.baseDir, relativePath(blobID))
}

// Store writes bytes to the content-addressed tree, deduplicating on hash.
// Concurrent callers with identical content observe exactly one physical write.
func (s *Store) Store(content []byte) (string, error) {
	sum := sha256.Sum256(content)
	blobID := hex.EncodeToString(sum[:])

	unlock := s.locks.lock(blobID)
	defer unlock()

	if _, err := s.repo.GetBlob(blobID); err == nil {
		if err := s.repo.IncRefBlob(blobID); err != nil {
			return "", fmt.Errorf("incref existing blob %s: %w", blobID, err)
		}
		return blobID, nil
	} else if err != store.ErrNotFound {
		return "", fmt.Errorf("lookup blob %s: %w", blobID, err)
	}

	rel := relativePath(blobID)
	abs := filepath.Join(s.baseDir, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return "", fmt.Errorf("create blob dir for %s: %w", blobID, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), blobID+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file for %s: %w", blobID, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write temp file for %s: %w", blobID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close temp file for %s: %w", blobID, err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename temp file for %s: %w", blobID, err)
	}

	if err := s.repo.InsertBlob(blobID, int64(len(content)), rel); err != nil {
		if err == store.ErrAlreadyExists {
			// lost a race with a concurrent writer of identical content.
			if incErr := s.repo.IncRefBlob(blobID); incErr != nil {
				return "", fmt.Errorf("incref raced blob %s: %w", blobID, incErr)
			}
			return blobID, nil
		}
		os.Remove(abs)
		return "", fmt.Errorf("insert blob row %s: %w", blobID, err)
	}

	s.log.Debug("blob stored", "blob_id", blobID, "size_bytes", len(content))
	return blobID, nil
}

// StoreSafe enforces a size guard before delegating to Store.
func (s *Store) StoreSafe(content []byte, maxSize int64) (string, error) {
	if int64(len(content)) > maxSize {
		return "", fmt.Errorf("blob of %d bytes exceeds max %d: %w", len(content), maxSize, mailerrors.ErrSizeExceeded)
	}
	return s.Store(content)
}

// Retrieve reads and integrity-checks the bytes for blobID.
func (s *Store) Retrieve(blobID string) ([]byte, error) {
	unlock := s.locks.lock(blobID)
	defer unlock()

	rec, err := s.repo.GetBlob(blobID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, mailerrors.ErrNotFound
		}
		return nil, fmt.Errorf("lookup blob %s: %w", blobID, err)
	}

	content, err := os.ReadFile(filepath.Join(s.baseDir, rec.Path))
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", blobID, mailerrors.ErrIO)
	}

	sum := sha256.Sum256(content)
	if hex.EncodeToString(sum[:]) != blobID {
		return nil, fmt.Errorf("blob %s failed integrity check: %w", blobID, mailerrors.ErrIntegrity)
	}

	_ = s.repo.TouchBlob(blobID)
	return content, nil
}

// RetrieveSafe returns mailerrors.ErrSecurity fast without touching disk if
// the blob is quarantined or its scan status disallows download.
func (s *Store) RetrieveSafe(blobID string) ([]byte, error) {
	rec, err := s.repo.GetBlob(blobID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, mailerrors.ErrNotFound
		}
		return nil, fmt.Errorf("lookup blob %s: %w", blobID, err)
	}
	if rec.Quarantined || !IsAllowedToDownload(rec.ScanStatus) {
		return nil, fmt.Errorf("blob %s not safe to retrieve (status=%s): %w", blobID, rec.ScanStatus, mailerrors.ErrSecurity)
	}
	return s.Retrieve(blobID)
}

// Exists reports whether blobID has a metadata row.
func (s *Store) Exists(blobID string) bool {
	_, err := s.repo.GetBlob(blobID)
	return err == nil
}

// IncRef increments the reference count for blobID.
func (s *Store) IncRef(blobID string) error {
	unlock := s.locks.lock(blobID)
	defer unlock()
	return s.repo.IncRefBlob(blobID)
}

// DecRef decrements the reference count for blobID, clamped at zero.
func (s *Store) DecRef(blobID string) error {
	unlock := s.locks.lock(blobID)
	defer unlock()
	return s.repo.DecRefBlob(blobID)
}

// Delete removes the blob when its ref count would drop to zero or below;
// otherwise it only decrements.
func (s *Store) Delete(blobID string) error {
	unlock := s.locks.lock(blobID)
	defer unlock()

	rec, err := s.repo.GetBlob(blobID)
	if err != nil {
		if err == store.ErrNotFound {
			return mailerrors.ErrNotFound
		}
		return err
	}

	if rec.RefCount <= 1 {
		if err := os.Remove(filepath.Join(s.baseDir, rec.Path)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove blob file %s: %w", blobID, err)
		}
		return s.repo.DeleteBlob(blobID)
	}
	return s.repo.DecRefBlob(blobID)
}

// GC removes every blob with a ref count of zero. Safe to run concurrently
// with Store/Retrieve since each blob is independently locked.
func (s *Store) GC() (int, error) {
	orphans, err := s.repo.ListOrphanBlobs()
	if err != nil {
		return 0, fmt.Errorf("list orphan blobs: %w", err)
	}

	removed := 0
	for _, blobID := range orphans {
		unlock := s.locks.lock(blobID)
		rec, err := s.repo.GetBlob(blobID)
		if err != nil {
			unlock()
			continue
		}
		if rec.RefCount != 0 {
			unlock()
			continue
		}
		if err := os.Remove(filepath.Join(s.baseDir, rec.Path)); err != nil && !os.IsNotExist(err) {
			unlock()
			return removed, fmt.Errorf("remove orphan blob %s: %w", blobID, err)
		}
		if err := s.repo.DeleteBlob(blobID); err != nil {
			unlock()
			return removed, fmt.Errorf("delete orphan blob row %s: %w", blobID, err)
		}
		unlock()
		removed++
	}
	s.log.Info("blob gc complete", "removed", removed)
	return removed, nil
}

type quarantineMeta struct {
	BlobID        string `json:"original_hash"`
	QuarantinedAt string `json:"quarantine_date"`
	Reason        string `json:"reason"`
}

// Quarantine moves a blob's file out of the normal tree and records a reason.
func (s *Store) Quarantine(blobID, reason string) error {
	unlock := s.locks.lock(blobID)
	defer unlock()

	rec, err := s.repo.GetBlob(blobID)
	if err != nil {
		if err == store.ErrNotFound {
			return mailerrors.ErrNotFound
		}
		return err
	}

	src := filepath.Join(s.baseDir, rec.Path)
	dst := filepath.Join(s.baseDir, "quarantine", blobID)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("move blob %s to quarantine: %w", blobID, err)
	}

	meta := quarantineMeta{BlobID: blobID, QuarantinedAt: time.Now().UTC().Format(time.RFC3339), Reason: reason}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal quarantine meta %s: %w", blobID, err)
	}
	if err := os.WriteFile(dst+".meta", metaBytes, 0644); err != nil {
		return fmt.Errorf("write quarantine meta %s: %w", blobID, err)
	}

	return s.repo.QuarantineBlob(blobID, reason)
}

// RestoreFromQuarantine moves a blob's file back into the normal tree.
func (s *Store) RestoreFromQuarantine(blobID string) error {
	unlock := s.locks.lock(blobID)
	defer unlock()

	rec, err := s.repo.GetBlob(blobID)
	if err != nil {
		if err == store.ErrNotFound {
			return mailerrors.ErrNotFound
		}
		return err
	}

	src := filepath.Join(s.baseDir, "quarantine", blobID)
	dst := filepath.Join(s.baseDir, rec.Path)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("recreate blob dir for %s: %w", blobID, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("restore blob %s from quarantine: %w", blobID, err)
	}
	os.Remove(src + ".meta")

	return s.repo.RestoreBlobFromQuarantine(blobID)
}

// MarkScanned records the outcome of a security scan for blobID.
func (s *Store) MarkScanned(blobID, status, details string) error {
	return s.repo.MarkBlobScanned(blobID, status, details)
}

// GetScanStatus returns the current scan status for blobID.
func (s *Store) GetScanStatus(blobID string) (string, error) {
	rec, err := s.repo.GetBlob(blobID)
	if err != nil {
		if err == store.ErrNotFound {
			return "", mailerrors.ErrNotFound
		}
		return "", err
	}
	return rec.ScanStatus, nil
}

// ListAll returns every stored BlobId. Intended for maintenance tooling, not
// hot paths.
func (s *Store) ListAll() ([]string, error) {
	var hashes []string
	err := filepath.WalkDir(s.baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(s.baseDir, path)
		if relErr != nil {
			return relErr
		}
		if base := filepath.Base(rel); len(base) == 64 && rel == relativePath(base) {
			hashes = append(hashes, base)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk blob tree: %w", err)
	}
	return hashes, nil
}

// Stats computes aggregate blob-store statistics by scanning the metadata store.
func (s *Store) Stats() (*Stats, error) {
	hashes, err := s.ListAll()
	if err != nil {
		return nil, err
	}
	recs, err := s.repo.GetBlobsByHashes(hashes)
	if err != nil {
		return nil, fmt.Errorf("load blob records for stats: %w", err)
	}

	stats := &Stats{}
	for _, rec := range recs {
		stats.TotalBlobs++
		stats.TotalSize += rec.SizeBytes
		if rec.RefCount > 1 {
			stats.DeduplicatedCount++
		}
	}
	if stats.TotalBlobs > 0 {
		stats.AvgSize = float64(stats.TotalSize) / float64(stats.TotalBlobs)
	}
	return stats, nil
}

// OrphanScan sweeps files under baseDir with no matching metadata row (crash
// recovery after a write that created the file but never committed the row)
// and removes them. Returns the count removed.
func (s *Store) OrphanScan() (int, error) {
	hashes, err := s.ListAll()
	if err != nil {
		return 0, err
	}
	recs, err := s.repo.GetBlobsByHashes(hashes)
	if err != nil {
		return 0, fmt.Errorf("load blob records for orphan scan: %w", err)
	}

	removed := 0
	for _, blobID := range hashes {
		if _, ok := recs[blobID]; ok {
			continue
		}
		unlock := s.locks.lock(blobID)
		if err := os.Remove(s.absPath(blobID)); err != nil && !os.IsNotExist(err) {
			unlock()
			return removed, fmt.Errorf("remove orphan file %s: %w", blobID, err)
		}
		unlock()
		removed++
	}
	s.log.Info("orphan scan complete", "removed", removed)
	return removed, nil
}

