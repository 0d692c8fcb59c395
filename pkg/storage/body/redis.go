package body

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	bserrors "github.com/vnykmshr/bufstream/pkg/common/errors"
	"github.com/vnykmshr/bufstream/pkg/common/validation"
	"github.com/vnykmshr/bufstream/pkg/metrics"
)

// RedisConfig holds configuration for RedisStore.
type RedisConfig struct {
	// Redis is the client used for all operations.
	Redis redis.Cmdable

	// KeyPrefix is prepended to every key.
	// Default: "bufstream:body:"
	KeyPrefix string

	// Timeout bounds each Redis round trip.
	// Default: 2 seconds
	Timeout time.Duration

	// Metrics receives store metrics. Nil disables metrics.
	Metrics *metrics.Registry
}

// DefaultRedisConfig returns a default configuration without a client.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		KeyPrefix: "bufstream:body:",
		Timeout:   2 * time.Second,
	}
}

// RedisStore is a Store backed by Redis string values.
type RedisStore struct {
	config RedisConfig
	closer func() error
}

// NewRedisStore creates a RedisStore. If the client implements Close, it is
// closed by RedisStore.Close.
func NewRedisStore(config RedisConfig) (*RedisStore, error) {
	if err := validation.ValidateNotNil("body", "redis", config.Redis); err != nil {
		return nil, err
	}
	defaults := DefaultRedisConfig()
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaults.KeyPrefix
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}

	s := &RedisStore{config: config}
	if c, ok := config.Redis.(interface{ Close() error }); ok {
		s.closer = c.Close
	}
	return s, nil
}

func (s *RedisStore) key(key string) string {
	return s.config.KeyPrefix + key
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	data, err := s.config.Redis.Get(ctx, s.key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		s.observe("miss")
		return nil, bserrors.NewOperationError("body", "Get", bserrors.ErrNotFound).WithContext("key=" + key)
	case err != nil:
		s.observe("error")
		return nil, s.fail("Get", key, err)
	}
	s.observe("hit")
	return data, nil
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	if err := s.config.Redis.Set(ctx, s.key(key), data, ttl).Err(); err != nil {
		return s.fail("Put", key, err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	if err := s.config.Redis.Del(ctx, s.key(key)).Err(); err != nil {
		return s.fail("Delete", key, err)
	}
	return nil
}

// fail wraps a Redis error. A round trip cut off by a deadline wraps
// errors.ErrTimeout so callers can treat it as retryable.
func (s *RedisStore) fail(op, key string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", bserrors.ErrTimeout, err)
	}
	return bserrors.NewOperationError("body", op, err).WithContext("key=" + key)
}

// Close implements Store.
func (s *RedisStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

func (s *RedisStore) observe(result string) {
	if s.config.Metrics != nil {
		s.config.Metrics.StoreFetches.WithLabelValues("redis", result).Inc()
	}
}
