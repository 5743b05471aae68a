package rendercache

import (
	"time"

	"github.com/kestrelmail/mailcore/internal/store"
)

// Repository is the narrow view of the metadata store the render cache
// depends on for its durable tier.
type Repository interface {
	UpsertRenderCache(rec *store.RenderCacheRecord) error
	GetRenderCache(messageID string) (*store.RenderCacheRecord, error)
	InvalidateRenderCache(messageID string) error
	InvalidateAllRenderCache() error
	InvalidateRenderCacheOlderThan(generatorVersion int) (int64, error)
	InvalidateRenderCacheOlderThanAge(cutoff time.Time) (int64, error)
	CountRenderCache() (int64, error)
}
