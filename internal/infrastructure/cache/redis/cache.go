// Package redis fronts the result store with a content-hash keyed cache so
// repeated submissions of identical bytes skip extraction.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

const keyPrefix = "taxdoc:result:"

type Options struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	TTL      time.Duration
}

type ResultCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New connects and verifies the server with a PING.
func New(ctx context.Context, opts Options) (*ResultCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewWithClient(rdb, opts.TTL), nil
}

func NewWithClient(rdb *redis.Client, ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ResultCache{
		rdb:    rdb,
		ttl:    ttl,
		logger: slog.Default().With("component", "result-cache"),
	}
}

func (c *ResultCache) Get(ctx context.Context, contentHash string) (*domain.ExtractionResult, bool, error) {
	data, err := c.rdb.Get(ctx, keyPrefix+contentHash).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var result domain.ExtractionResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Warn("cache_decode_failed", "hash", contentHash, "error", err)
		return nil, false, nil
	}
	return &result, true, nil
}

func (c *ResultCache) Set(ctx context.Context, contentHash string, result *domain.ExtractionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode cached result: %w", err)
	}
	if err := c.rdb.Set(ctx, keyPrefix+contentHash, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *ResultCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *ResultCache) Close() error {
	return c.rdb.Close()
}
