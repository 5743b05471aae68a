// Package rendercache implements the two-tier render artifact cache: a
// bounded in-memory LRU over a durable SQLite-backed table, with zlib
// compression for large artifacts.
package rendercache

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"time"

	"github.com/kestrelmail/mailcore/internal/store"
)

// zlib streams begin with a two-byte header; 0x78 is the common CMF value
// emitted by Go's compress/zlib writer at default compression levels.
const zlibMagic = 0x78

// Artifact is the in-memory, decompressed render artifact.
type Artifact struct {
	MessageID        string
	HTMLRendered     string
	TextRendered     string
	GeneratedAt      time.Time
	GeneratorVersion int
}

// Config controls cache sizing and compression behavior.
type Config struct {
	MaxMemoryItems         int
	MaxMemoryBytes         int64
	CompressionThresholdB  int
	ExpirationDays         int
	GeneratorVersion       int
}

// Cache is the two-tier render artifact cache.
type Cache struct {
	repo Repository
	mem  *memTier
	cfg  Config
}

// New constructs a Cache backed by repo.
func New(repo Repository, cfg Config) *Cache {
	return &Cache{
		repo: repo,
		mem:  newMemTier(cfg.MaxMemoryItems, cfg.MaxMemoryBytes),
		cfg:  cfg,
	}
}

func compress(data []byte) ([]byte, bool) {
	if data == nil {
		return nil, false
	}
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return data, false
	}
	if err := w.Close(); err != nil {
		return data, false
	}
	if buf.Len() < len(data) {
		return buf.Bytes(), true
	}
	return data, false
}

func decompress(data []byte, compressed bool) ([]byte, error) {
	if data == nil {
		return nil, nil
	}
	if !compressed || len(data) == 0 || data[0] != zlibMagic {
		return data, nil
	}
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zlib reader: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Store persists a render artifact for messageId, compressing fields larger
// than the configured threshold and refreshing the memory tier.
func (c *Cache) Store(messageID string, html, text string, generatorVersion int) error {
	var htmlBytes, textBytes []byte
	var htmlCompressed, textCompressed bool

	if html != "" {
		htmlBytes = []byte(html)
		if len(htmlBytes) > c.cfg.CompressionThresholdB {
			htmlBytes, htmlCompressed = compress(htmlBytes)
		}
	}
	if text != "" {
		textBytes = []byte(text)
		if len(textBytes) > c.cfg.CompressionThresholdB {
			textBytes, textCompressed = compress(textBytes)
		}
	}

	rec := &store.RenderCacheRecord{
		MessageID:        messageID,
		HTMLRendered:     htmlBytes,
		HTMLCompressed:   htmlCompressed,
		TextRendered:     textBytes,
		TextCompressed:   textCompressed,
		GeneratorVersion: generatorVersion,
	}
	if err := c.repo.UpsertRenderCache(rec); err != nil {
		return fmt.Errorf("store render cache %s: %w", messageID, err)
	}

	cost := int64(len(html) + len(text))
	c.mem.put(messageID, &Artifact{
		MessageID:        messageID,
		HTMLRendered:     html,
		TextRendered:     text,
		GeneratedAt:      time.Now(),
		GeneratorVersion: generatorVersion,
	}, cost)
	return nil
}

// Retrieve returns the render artifact for messageId, checking the memory
// tier before falling back to the durable store.
func (c *Cache) Retrieve(messageID string) (*Artifact, error) {
	if artifact, ok := c.mem.get(messageID); ok {
		return artifact, nil
	}

	rec, err := c.repo.GetRenderCache(messageID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("retrieve render cache %s: %w", messageID, err)
	}

	html, err := decompress(rec.HTMLRendered, rec.HTMLCompressed)
	if err != nil {
		return nil, fmt.Errorf("decompress html %s: %w", messageID, err)
	}
	text, err := decompress(rec.TextRendered, rec.TextCompressed)
	if err != nil {
		return nil, fmt.Errorf("decompress text %s: %w", messageID, err)
	}

	artifact := &Artifact{
		MessageID:        messageID,
		HTMLRendered:     string(html),
		TextRendered:     string(text),
		GeneratedAt:      rec.GeneratedAt,
		GeneratorVersion: rec.GeneratorVersion,
	}
	c.mem.put(messageID, artifact, int64(len(html)+len(text)))
	return artifact, nil
}

// HasValidCache reports whether a durable row exists at or above requiredVersion.
func (c *Cache) HasValidCache(messageID string, requiredVersion int) bool {
	rec, err := c.repo.GetRenderCache(messageID)
	if err != nil {
		return false
	}
	return rec.GeneratorVersion >= requiredVersion
}

// Invalidate removes both tiers' entries for messageId.
func (c *Cache) Invalidate(messageID string) error {
	c.mem.delete(messageID)
	if err := c.repo.InvalidateRenderCache(messageID); err != nil {
		return fmt.Errorf("invalidate render cache %s: %w", messageID, err)
	}
	return nil
}

// InvalidateAll clears both tiers entirely.
func (c *Cache) InvalidateAll() error {
	c.mem.clear()
	if err := c.repo.InvalidateAllRenderCache(); err != nil {
		return fmt.Errorf("invalidate all render cache: %w", err)
	}
	return nil
}

// InvalidateOlderThan bulk-deletes durable rows below generatorVersion.
// The memory tier is cleared wholesale because Retrieve serves memory hits
// without consulting the durable row.
func (c *Cache) InvalidateOlderThan(generatorVersion int) (int64, error) {
	n, err := c.repo.InvalidateRenderCacheOlderThan(generatorVersion)
	if err != nil {
		return 0, fmt.Errorf("invalidate render cache older than %d: %w", generatorVersion, err)
	}
	if n > 0 {
		c.mem.clear()
	}
	return n, nil
}

// InvalidateOlderThanAge bulk-deletes durable rows generated before cutoff.
func (c *Cache) InvalidateOlderThanAge(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	n, err := c.repo.InvalidateRenderCacheOlderThanAge(cutoff)
	if err != nil {
		return 0, fmt.Errorf("invalidate render cache older than age: %w", err)
	}
	if n > 0 {
		c.mem.clear()
	}
	return n, nil
}

// Preload warms the memory tier for a batch of messageIds in parallel.
func (c *Cache) Preload(messageIDs []string) {
	results := make(chan struct{}, len(messageIDs))
	for _, id := range messageIDs {
		go func(id string) {
			defer func() { results <- struct{}{} }()
			_, _ = c.Retrieve(id)
		}(id)
	}
	for range messageIDs {
		<-results
	}
}

// Stats reports cache occupancy.
type Stats struct {
	MemoryItems int
	DurableRows int64
}

// Stats returns current cache occupancy.
func (c *Cache) Stats() (Stats, error) {
	n, err := c.repo.CountRenderCache()
	if err != nil {
		return Stats{}, fmt.Errorf("count render cache: %w", err)
	}
	return Stats{MemoryItems: c.mem.len(), DurableRows: n}, nil
}

// Maintenance removes rows older than the configured expiration window.
func (c *Cache) Maintenance() (int64, error) {
	if c.cfg.ExpirationDays <= 0 {
		return 0, nil
	}
	return c.InvalidateOlderThanAge(time.Duration(c.cfg.ExpirationDays) * 24 * time.Hour)
}
