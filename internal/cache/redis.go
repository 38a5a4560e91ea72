package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/organ-match-server/internal/domain"
)

const keyPrefix = "organ-match:priority:"

// cachedPriority is the stored form of a priority record.
type cachedPriority struct {
	Record   *domain.PriorityRecord `json:"record"`
	CachedAt time.Time              `json:"cached_at"`
}

// RedisCache implements domain.PriorityCache on Redis. Every call goes through a circuit
// breaker; while it is open reads miss and writes are dropped, so callers fall back to the store.
type RedisCache struct {
	redis      *redis.Client
	breaker    *gobreaker.CircuitBreaker
	defaultTTL time.Duration
	logger     *logrus.Logger
}

// NewRedisCache creates a new Redis priority cache. It does not contact the server; use Ping
// to check reachability.
func NewRedisCache(config domain.CacheConfig, logger *logrus.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	if config.MaxRetries != 0 {
		opts.MaxRetries = config.MaxRetries
	}
	if logger == nil {
		logger = logrus.New()
	}

	threshold := config.BreakerThreshold
	if threshold == 0 {
		threshold = 5
	}
	timeout := config.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ttl := config.DefaultTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-priority-cache",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker changed state")
		},
	})

	return &RedisCache{
		redis:      redis.NewClient(opts),
		breaker:    breaker,
		defaultTTL: ttl,
		logger:     logger,
	}, nil
}

// Get returns the cached record for a recipient.
func (c *RedisCache) Get(ctx context.Context, recipientID string) (*domain.PriorityRecord, bool) {
	key := priorityKey(recipientID)
	val, err := c.breaker.Execute(func() (interface{}, error) {
		return c.redis.Get(ctx, key).Bytes()
	})
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).WithField("recipient_id", recipientID).Debug("Priority cache read failed")
		}
		return nil, false
	}

	var cached cachedPriority
	if err := json.Unmarshal(val.([]byte), &cached); err != nil || cached.Record == nil {
		// Remove corrupted cache entry
		c.redis.Del(ctx, key)
		return nil, false
	}
	return cached.Record, true
}

// Set stores a copy of the record with the default TTL.
func (c *RedisCache) Set(ctx context.Context, r *domain.PriorityRecord) {
	if r == nil {
		return
	}
	data, err := json.Marshal(cachedPriority{Record: r, CachedAt: time.Now().UTC()})
	if err != nil {
		c.logger.WithError(err).Error("Failed to marshal priority cache entry")
		return
	}
	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.redis.Set(ctx, priorityKey(r.RecipientID), data, c.defaultTTL).Err()
	})
	if err != nil {
		c.logger.WithError(err).WithField("recipient_id", r.RecipientID).Debug("Priority cache write failed")
	}
}

// Invalidate removes the cached record for a recipient.
func (c *RedisCache) Invalidate(ctx context.Context, recipientID string) {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.redis.Del(ctx, priorityKey(recipientID)).Err()
	})
	if err != nil {
		c.logger.WithError(err).WithField("recipient_id", recipientID).Debug("Priority cache invalidation failed")
	}
}

// Ping checks if Redis connection is alive
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// BreakerState reports the state of the circuit breaker guarding Redis.
func (c *RedisCache) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.redis.Close()
}

func priorityKey(recipientID string) string {
	return keyPrefix + recipientID
}
