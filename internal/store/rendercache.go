package store

import (
	"database/sql"
	"fmt"
	"time"
)

// RenderCacheRecord mirrors one row of render_cache.
type RenderCacheRecord struct {
	MessageID        string
	HTMLRendered     []byte
	HTMLCompressed   bool
	TextRendered     []byte
	TextCompressed   bool
	GeneratedAt      time.Time
	GeneratorVersion int
}

// UpsertRenderCache stores or replaces the durable render-cache row for a message.
func (s *Store) UpsertRenderCache(rec *RenderCacheRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO render_cache (message_id, html_rendered, html_compressed, text_rendered, text_compressed, generated_at, generator_version)
		 VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, ?)
		 ON CONFLICT(message_id) DO UPDATE SET
		   html_rendered = excluded.html_rendered,
		   html_compressed = excluded.html_compressed,
		   text_rendered = excluded.text_rendered,
		   text_compressed = excluded.text_compressed,
		   generated_at = CURRENT_TIMESTAMP,
		   generator_version = excluded.generator_version`,
		rec.MessageID, rec.HTMLRendered, rec.HTMLCompressed, rec.TextRendered, rec.TextCompressed, rec.GeneratorVersion,
	)
	if err != nil {
		return fmt.Errorf("upsert render cache %s: %w", rec.MessageID, err)
	}
	return nil
}

// GetRenderCache fetches the durable render-cache row for a message.
func (s *Store) GetRenderCache(messageID string) (*RenderCacheRecord, error) {
	row := s.db.QueryRow(
		`SELECT message_id, html_rendered, html_compressed, text_rendered, text_compressed, generated_at, generator_version
		 FROM render_cache WHERE message_id = ?`, messageID,
	)
	var rec RenderCacheRecord
	var htmlCompressed, textCompressed int
	if err := row.Scan(&rec.MessageID, &rec.HTMLRendered, &htmlCompressed, &rec.TextRendered,
		&textCompressed, &rec.GeneratedAt, &rec.GeneratorVersion); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get render cache %s: %w", messageID, err)
	}
	rec.HTMLCompressed = htmlCompressed != 0
	rec.TextCompressed = textCompressed != 0
	return &rec, nil
}

// InvalidateRenderCache deletes the durable render-cache row for a message.
func (s *Store) InvalidateRenderCache(messageID string) error {
	_, err := s.db.Exec(`DELETE FROM render_cache WHERE message_id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("invalidate render cache %s: %w", messageID, err)
	}
	return nil
}

// InvalidateAllRenderCache truncates the entire durable render-cache table.
func (s *Store) InvalidateAllRenderCache() error {
	_, err := s.db.Exec(`DELETE FROM render_cache`)
	if err != nil {
		return fmt.Errorf("invalidate all render cache: %w", err)
	}
	return nil
}

// InvalidateRenderCacheOlderThan deletes durable render-cache rows generated
// before the given generator version, used after a rendering-logic upgrade.
func (s *Store) InvalidateRenderCacheOlderThan(generatorVersion int) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM render_cache WHERE generator_version < ?`, generatorVersion)
	if err != nil {
		return 0, fmt.Errorf("invalidate render cache older than %d: %w", generatorVersion, err)
	}
	return res.RowsAffected()
}

// InvalidateRenderCacheOlderThanAge deletes durable render-cache rows whose
// generated_at predates the cutoff, used for periodic cache maintenance.
func (s *Store) InvalidateRenderCacheOlderThanAge(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM render_cache WHERE generated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("invalidate render cache older than age: %w", err)
	}
	return res.RowsAffected()
}

// CountRenderCache returns the number of durable render-cache rows.
func (s *Store) CountRenderCache() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM render_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count render cache: %w", err)
	}
	return n, nil
}
