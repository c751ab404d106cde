package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/orderline/api/internal/services"
)

const keyPrefix = "orderline:tracking:"

// TrackingCache is a Redis read-through cache for public tracking lookups.
// Concurrent misses for one tracking id share a single load. Redis failures
// degrade to loading from the store; only load errors reach the caller.
type TrackingCache struct {
	client *redis.Client
	ttl    time.Duration
	jitter time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

var _ services.TrackingCache = (*TrackingCache)(nil)

// NewTrackingCache constructs the cache. Entries live for ttl plus up to 20% jitter.
func NewTrackingCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) (*TrackingCache, error) {
	if client == nil {
		return nil, errors.New("tracking cache: redis client is required")
	}
	if ttl <= 0 {
		return nil, errors.New("tracking cache: ttl must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrackingCache{
		client: client,
		ttl:    ttl,
		jitter: ttl / 5,
		logger: logger,
	}, nil
}

// Get returns the cached view or calls load and caches its result.
func (c *TrackingCache) Get(ctx context.Context, trackingID string, load func(context.Context) (services.OrderTracking, error)) (services.OrderTracking, error) {
	key := cacheKey(trackingID)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var view services.OrderTracking
		if err := json.Unmarshal(data, &view); err == nil {
			return view, nil
		}
		c.logger.Warn("tracking cache: discarding undecodable entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("tracking cache: get failed", zap.String("key", key), zap.Error(err))
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		view, err := load(ctx)
		if err != nil {
			return services.OrderTracking{}, err
		}
		c.store(ctx, key, view)
		return view, nil
	})
	if err != nil {
		return services.OrderTracking{}, err
	}
	return v.(services.OrderTracking), nil
}

// Invalidate drops the entry for trackingID.
func (c *TrackingCache) Invalidate(ctx context.Context, trackingID string) error {
	if err := c.client.Del(ctx, cacheKey(trackingID)).Err(); err != nil {
		return fmt.Errorf("tracking cache: delete: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (c *TrackingCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *TrackingCache) store(ctx context.Context, key string, view services.OrderTracking) {
	data, err := json.Marshal(view)
	if err != nil {
		c.logger.Warn("tracking cache: marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	ttl := c.ttl
	if c.jitter > 0 {
		ttl += rand.N(c.jitter)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Warn("tracking cache: set failed", zap.String("key", key), zap.Error(err))
	}
}

func cacheKey(trackingID string) string {
	return keyPrefix + strings.ToUpper(strings.TrimSpace(trackingID))
}
