package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/medvault/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mr_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш метаданных записей.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mr_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша метаданных записей.",
	})
)

// CacheService — per-instance LRU-кэш метаданных записей с TTL.
// Запись меняется только при привязке хеша транзакции, кэш тогда инвалидируется.
type CacheService struct {
	cache *expirable.LRU[int64, *model.Record]
}

// NewCacheService создаёт LRU-кэш с максимальным размером maxSize и TTL.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	return &CacheService{
		cache: expirable.NewLRU[int64, *model.Record](maxSize, nil, ttl),
	}
}

// Get возвращает запись по record_id и обновляет метрики hit/miss.
func (c *CacheService) Get(recordID int64) (*model.Record, bool) {
	val, ok := c.cache.Get(recordID)
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или обновляет запись.
func (c *CacheService) Set(recordID int64, rec *model.Record) {
	c.cache.Add(recordID, rec)
}

// Delete удаляет запись из кэша.
func (c *CacheService) Delete(recordID int64) {
	c.cache.Remove(recordID)
}
