package rates

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheConfig holds Redis connection configuration.
type CacheConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	TTL      time.Duration
}

// Cache wraps Redis for price caching.
type Cache struct {
	rdb *redis.Client
}

// NewCache creates a Redis-backed price cache.
func NewCache(cfg CacheConfig) (*Cache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Cache{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// Health checks Redis reachability.
func (c *Cache) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func rateKey(asset, fiat string) string {
	return fmt.Sprintf("rate:%s-%s", asset, fiat)
}

// GetPrice returns a cached price string, if present.
func (c *Cache) GetPrice(ctx context.Context, asset, fiat string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, rateKey(asset, fiat)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get failed: %w", err)
	}
	return val, true, nil
}

// SetPrice stores a price string with a TTL.
func (c *Cache) SetPrice(ctx context.Context, asset, fiat, price string, ttl time.Duration) error {
	return c.rdb.Set(ctx, rateKey(asset, fiat), price, ttl).Err()
}
