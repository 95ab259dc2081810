package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/quant-ingest/pkg/config"
	"github.com/quant-ingest/pkg/models"
)

// RedisCache caches raw upstream responses in Redis so that re-runs against
// unchanged upstreams reuse prior responses.
type RedisCache struct {
	client *redis.Client
	logger *logrus.Entry
	ttl    time.Duration
}

// NewRedisCache creates and pings a Redis-backed cache.
func NewRedisCache(cfg *config.RedisConfig, logger *logrus.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisCache{
		client: client,
		logger: logger.WithField("component", "redis-cache"),
		ttl:    cfg.CacheTTL,
	}, nil
}

// GetRawFrame returns a cached frame, or (nil, false) on miss or decode error.
func (rc *RedisCache) GetRawFrame(ctx context.Context, key string) (*models.RawFrame, bool) {
	data, err := rc.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		rc.logger.WithError(err).WithField("key", key).Warn("Cache read failed")
		return nil, false
	}

	var frame models.RawFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		rc.logger.WithError(err).WithField("key", key).Warn("Cache entry corrupt, ignoring")
		return nil, false
	}
	return &frame, true
}

// SetRawFrame stores a frame with the configured TTL.
func (rc *RedisCache) SetRawFrame(ctx context.Context, key string, frame *models.RawFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal raw frame: %w", err)
	}
	return rc.client.Set(ctx, key, data, rc.ttl).Err()
}

// Health checks Redis connectivity.
func (rc *RedisCache) Health(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}
