// cache.go — LRU-кэш поиска дубликатов поверх FileRegistry.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/portfolio-uploads/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pu_registry_cache_hits_total",
		Help: "Общее количество попаданий в кэш поиска дубликатов.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pu_registry_cache_misses_total",
		Help: "Общее количество промахов кэша поиска дубликатов.",
	})
)

// lookup — закэшированный результат FindByHash. match == nil — дубликата нет.
type lookup struct {
	match *model.DuplicateMatch
}

// CachedRegistry кэширует результаты FindByHash, включая отрицательные.
// Register сбрасывает ключ (хэш, владелец), Remove — весь кэш.
type CachedRegistry struct {
	next  FileRegistry
	cache *expirable.LRU[string, lookup]
}

// NewCachedRegistry создаёт кэш на maxSize записей с временем жизни ttl.
func NewCachedRegistry(next FileRegistry, maxSize int, ttl time.Duration) *CachedRegistry {
	return &CachedRegistry{
		next:  next,
		cache: expirable.NewLRU[string, lookup](maxSize, nil, ttl),
	}
}

func cacheKey(hash, ownerID string) string {
	return hash + "|" + ownerID
}

// Register регистрирует файл и инвалидирует ключ его хэша.
func (c *CachedRegistry) Register(ctx context.Context, meta *model.FileMetadata) error {
	err := c.next.Register(ctx, meta)
	c.cache.Remove(cacheKey(meta.Hash, meta.OwnerID))
	return err
}

// FindByHash сначала ищет в кэше. Ошибки нижнего реестра не кэшируются.
func (c *CachedRegistry) FindByHash(ctx context.Context, hash, ownerID string) (*model.DuplicateMatch, error) {
	key := cacheKey(hash, ownerID)
	if v, ok := c.cache.Get(key); ok {
		cacheHitsTotal.Inc()
		return copyMatch(v.match), nil
	}
	cacheMissesTotal.Inc()

	match, err := c.next.FindByHash(ctx, hash, ownerID)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, lookup{match: copyMatch(match)})
	return match, nil
}

// Remove забывает файл и очищает кэш: по file_id ключ не восстановить.
func (c *CachedRegistry) Remove(ctx context.Context, fileID string) error {
	err := c.next.Remove(ctx, fileID)
	c.cache.Purge()
	return err
}

// CountByCategory не кэшируется.
func (c *CachedRegistry) CountByCategory(ctx context.Context) (map[string]int, error) {
	return c.next.CountByCategory(ctx)
}

// Len — число записей в кэше.
func (c *CachedRegistry) Len() int {
	return c.cache.Len()
}

func copyMatch(m *model.DuplicateMatch) *model.DuplicateMatch {
	if m == nil {
		return nil
	}
	copied := *m
	return &copied
}
