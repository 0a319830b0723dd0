// Пакет service — бизнес-логика File Manager.
// CacheService — LRU-кэш записей каталога по UUID с TTL.
package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fm_cache_hits_total",
		Help: "Попадания в LRU-кэш записей каталога.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fm_cache_misses_total",
		Help: "Промахи LRU-кэша записей каталога.",
	})
)

// CacheService — кэш StoredFile по внешнему UUID.
// Кэш локален для экземпляра; любые изменения записи вызывают Delete.
type CacheService struct {
	cache *expirable.LRU[uuid.UUID, *model.StoredFile]
}

// NewCacheService создаёт кэш на maxSize записей с временем жизни ttl.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	return &CacheService{
		cache: expirable.NewLRU[uuid.UUID, *model.StoredFile](maxSize, nil, ttl),
	}
}

// Get возвращает запись из кэша.
func (c *CacheService) Get(id uuid.UUID) (*model.StoredFile, bool) {
	f, ok := c.cache.Get(id)
	if ok {
		cacheHitsTotal.Inc()
		return f, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или обновляет запись.
func (c *CacheService) Set(f *model.StoredFile) {
	c.cache.Add(f.UUID, f)
}

// Delete инвалидирует запись.
func (c *CacheService) Delete(id uuid.UUID) {
	c.cache.Remove(id)
}

// Len возвращает количество записей в кэше.
func (c *CacheService) Len() int {
	return c.cache.Len()
}
