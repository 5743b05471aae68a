package blobstore

import "github.com/kestrelmail/mailcore/internal/store"

// Repository is the narrow view of the metadata store that the blob store
// depends on. Satisfied by *store.Store; exists so tests can substitute a
// fake without standing up a real database.
type Repository interface {
	InsertBlob(hash string, sizeBytes int64, path string) error
	GetBlob(hash string) (*store.BlobRecord, error)
	IncRefBlob(hash string) error
	DecRefBlob(hash string) error
	TouchBlob(hash string) error
	ListOrphanBlobs() ([]string, error)
	DeleteBlob(hash string) error
	QuarantineBlob(hash, reason string) error
	RestoreBlobFromQuarantine(hash string) error
	MarkBlobScanned(hash, status, details string) error
	GetBlobsByHashes(hashes []string) (map[string]*store.BlobRecord, error)
}
