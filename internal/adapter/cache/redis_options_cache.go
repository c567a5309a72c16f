package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smallbiznis/httpauth/internal/repository"
)

// OptionsCache is a read-through Redis cache in front of an OptionsRepository.
// Writes go to the backing repository first and then drop the cached copy.
type OptionsCache struct {
	next   repository.OptionsRepository
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

var _ repository.OptionsRepository = (*OptionsCache)(nil)

// NewOptionsCache wraps next with a Redis cache keyed on name.
func NewOptionsCache(next repository.OptionsRepository, client redis.UniversalClient, name string, ttl time.Duration, logger *zap.Logger) *OptionsCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OptionsCache{
		next:   next,
		client: client,
		key:    "httpauth:options:" + name,
		ttl:    ttl,
		logger: logger,
	}
}

// Read serves from Redis when possible. Cache failures fall back to the
// backing repository.
func (c *OptionsCache) Read(ctx context.Context) ([]byte, error) {
	cached, err := c.client.Get(ctx, c.key).Bytes()
	switch {
	case err == nil:
		return cached, nil
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("options cache read failed", zap.Error(err))
	}

	record, err := c.next.Read(ctx)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	if err := c.client.Set(ctx, c.key, record, c.ttl).Err(); err != nil {
		c.logger.Warn("options cache fill failed", zap.Error(err))
	}
	return record, nil
}

func (c *OptionsCache) Write(ctx context.Context, record []byte) error {
	if err := c.next.Write(ctx, record); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

func (c *OptionsCache) Update(ctx context.Context, fn func(current []byte) ([]byte, error)) error {
	if err := c.next.Update(ctx, fn); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

func (c *OptionsCache) invalidate(ctx context.Context) {
	if err := c.client.Del(ctx, c.key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("options cache invalidate failed", zap.Error(fmt.Errorf("del %s: %w", c.key, err)))
	}
}
