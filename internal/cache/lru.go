// Package cache provides read caches for priority records. Writers always go through the record
// store and refresh the cache after commit, so a cache entry is never newer than the store.
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/organ-match-server/internal/domain"
)

// DefaultLocalSize is the LRU capacity used when none is configured.
const DefaultLocalSize = 1024

// LRUCache implements domain.PriorityCache in process with a bounded, expiring LRU.
type LRUCache struct {
	lru *expirable.LRU[string, domain.PriorityRecord]
}

// NewLRUCache creates a new in-process priority cache.
func NewLRUCache(size int, ttl time.Duration) *LRUCache {
	if size <= 0 {
		size = DefaultLocalSize
	}
	return &LRUCache{lru: expirable.NewLRU[string, domain.PriorityRecord](size, nil, ttl)}
}

// Get returns a copy of the cached record.
func (c *LRUCache) Get(_ context.Context, recipientID string) (*domain.PriorityRecord, bool) {
	rec, ok := c.lru.Get(recipientID)
	if !ok {
		return nil, false
	}
	return &rec, true
}

// Set stores a copy of the record.
func (c *LRUCache) Set(_ context.Context, r *domain.PriorityRecord) {
	if r == nil {
		return
	}
	c.lru.Add(r.RecipientID, *r)
}

// Invalidate removes the cached record for a recipient.
func (c *LRUCache) Invalidate(_ context.Context, recipientID string) {
	c.lru.Remove(recipientID)
}

// Len returns the number of cached records.
func (c *LRUCache) Len() int {
	return c.lru.Len()
}

// New selects the cache backend from config: Redis when a URL is set and reachable, otherwise
// the in-process LRU. The returned close function releases the backend.
func New(ctx context.Context, config domain.CacheConfig, logger *logrus.Logger) (domain.PriorityCache, func() error) {
	local := NewLRUCache(config.LocalSize, config.DefaultTTL)
	if config.RedisURL == "" {
		return local, func() error { return nil }
	}

	redisCache, err := NewRedisCache(config, logger)
	if err != nil {
		logger.WithError(err).Warn("Invalid Redis configuration, using in-process priority cache")
		return local, func() error { return nil }
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisCache.Ping(pingCtx); err != nil {
		logger.WithError(err).Warn("Redis unreachable, using in-process priority cache")
		redisCache.Close()
		return local, func() error { return nil }
	}

	logger.Info("Using Redis priority cache")
	return redisCache, redisCache.Close
}
