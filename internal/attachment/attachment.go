// Package attachment implements the on-demand attachment downloader: a
// cache-first, deduplicated fetch path that pulls one deferred section at a
// time from a remote source, scans it, and binds it into the blob store.
package attachment

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kestrelmail/mailcore/internal/blobstore"
	"github.com/kestrelmail/mailcore/internal/fetchplanner"
	"github.com/kestrelmail/mailcore/internal/mailerrors"
	"github.com/kestrelmail/mailcore/internal/scanner"
	"github.com/kestrelmail/mailcore/internal/store"
)

// Source fetches raw section bytes from wherever the message actually
// lives (IMAP server, local cache, whatever transport the caller wires up).
// Ranged fetches are best-effort: a Source that ignores offset/length and
// returns the whole section is a valid implementation.
type Source interface {
	FetchSection(ctx context.Context, messageID string, section fetchplanner.SectionSpec, offset, length int64) ([]byte, error)
}

// Config bounds concurrency and chunking for large sections.
type Config struct {
	MaxConcurrent int
	ChunkSize     int64
}

const defaultMaxConcurrent = 4

// Downloader coordinates on-demand attachment fetches.
type Downloader struct {
	store   *store.Store
	blobs   *blobstore.Store
	scanner *scanner.Scanner
	source  Source
	cfg     Config
	group   singleflight.Group
}

// New constructs a Downloader. cfg zero values fall back to documented defaults.
func New(st *store.Store, blobs *blobstore.Store, sc *scanner.Scanner, source Source, cfg Config) *Downloader {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	return &Downloader{store: st, blobs: blobs, scanner: sc, source: source, cfg: cfg}
}

// Result describes the outcome of downloading one attachment.
type Result struct {
	PartID     string
	StorageKey string
	SizeBytes  int64
	FromCache  bool
	ScanStatus scanner.Status
}

// DownloadAttachment fetches one section on demand, coalescing concurrent
// requests for the same (messageID, partID) into a single in-flight fetch.
func (d *Downloader) DownloadAttachment(ctx context.Context, messageID string, section fetchplanner.SectionSpec) (Result, error) {
	key := messageID + "/" + section.PartID

	v, err, _ := d.group.Do(key, func() (interface{}, error) {
		return d.downloadOne(ctx, messageID, section)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (d *Downloader) downloadOne(ctx context.Context, messageID string, section fetchplanner.SectionSpec) (Result, error) {
	existing, err := d.store.GetAttachmentByPart(messageID, section.PartID)
	if err == nil && existing.StorageKey != "" && d.blobs.Exists(existing.StorageKey) {
		return Result{
			PartID:     section.PartID,
			StorageKey: existing.StorageKey,
			SizeBytes:  existing.SizeBytes,
			FromCache:  true,
			ScanStatus: scanner.Status(existing.VirusScanStatus),
		}, nil
	}
	if err != nil && err != mailerrors.ErrNotFound && err != store.ErrNotFound {
		return Result{}, fmt.Errorf("check existing attachment %s/%s: %w", messageID, section.PartID, err)
	}

	content, err := d.fetchContent(ctx, messageID, section)
	if err != nil {
		return Result{}, err
	}

	scanResult := d.scanner.Scan(content, section.MediaType, "")
	if scanResult.Status == scanner.StatusInfected {
		return Result{}, fmt.Errorf("%w: attachment %s flagged %s", mailerrors.ErrSecurity, section.PartID, scanResult.ThreatName)
	}

	blobID, err := d.blobs.Store(content)
	if err != nil {
		return Result{}, fmt.Errorf("store attachment %s/%s: %w", messageID, section.PartID, err)
	}

	if existing != nil && existing.ID != 0 {
		if err := d.store.SetAttachmentStorageKey(existing.ID, blobID, int64(len(content))); err != nil {
			return Result{}, fmt.Errorf("bind attachment storage key: %w", err)
		}
		_ = d.store.SetAttachmentScanStatus(existing.ID, string(scanResult.Status))
	}

	return Result{
		PartID:     section.PartID,
		StorageKey: blobID,
		SizeBytes:  int64(len(content)),
		ScanStatus: scanResult.Status,
	}, nil
}

// largeAttachmentThresholdBytes is the expected size above which a section
// is fetched in chunks rather than in one request.
const largeAttachmentThresholdBytes = 1 * 1024 * 1024

// fetchContent pulls the whole section in one shot for sections up to
// largeAttachmentThresholdBytes, or walks the planner's chunk boundaries for
// anything larger.
func (d *Downloader) fetchContent(ctx context.Context, messageID string, section fetchplanner.SectionSpec) ([]byte, error) {
	chunks := fetchplanner.ChunkSection(section, d.cfg.ChunkSize)
	if section.ExpectedSize <= largeAttachmentThresholdBytes || len(chunks) <= 1 {
		return d.source.FetchSection(ctx, messageID, section, 0, section.ExpectedSize)
	}

	out := make([]byte, 0, section.ExpectedSize)
	for _, c := range chunks {
		part, err := d.source.FetchSection(ctx, messageID, section, c.Offset, c.Length)
		if err != nil {
			return nil, fmt.Errorf("%w: fetch chunk %s@%d: %v", mailerrors.ErrNetwork, section.PartID, c.Offset, err)
		}
		out = append(out, part...)
	}
	return out, nil
}

// DownloadAll fetches every deferred section for a message, bounding
// in-flight fetches to cfg.MaxConcurrent. A failed section does not abort
// the rest; its error is returned in the accompanying slot.
func (d *Downloader) DownloadAll(ctx context.Context, messageID string, sections []fetchplanner.SectionSpec) ([]Result, []error) {
	results := make([]Result, len(sections))
	errs := make([]error, len(sections))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.MaxConcurrent)

	for i, section := range sections {
		i, section := i, section
		g.Go(func() error {
			res, err := d.DownloadAttachment(gctx, messageID, section)
			results[i] = res
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	return results, errs
}
