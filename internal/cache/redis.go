package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

// RedisOptions locates the shared cache.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisLevel is a SecondLevel stored in Redis as JSON. A circuit breaker
// stops calling Redis after repeated failures so a down server costs nothing
// per search.
type RedisLevel[V any] struct {
	client  redis.UniversalClient
	prefix  string
	breaker *kberrors.CircuitBreaker
}

var _ SecondLevel[int] = (*RedisLevel[int])(nil)

// NewRedisClient connects and pings.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, kberrors.New(kberrors.ErrCodeNetworkUnavailable,
			fmt.Sprintf("failed to connect to redis at %s", opts.Addr), err).
			WithSuggestion("Start Redis or set cache.backend: memory")
	}
	return client, nil
}

// NewRedisLevel wraps client. Keys are prefix + sha256(key).
func NewRedisLevel[V any](client redis.UniversalClient, prefix string, breaker *kberrors.CircuitBreaker) *RedisLevel[V] {
	if breaker == nil {
		breaker = kberrors.NewCircuitBreaker("redis-cache")
	}
	return &RedisLevel[V]{client: client, prefix: prefix, breaker: breaker}
}

func (r *RedisLevel[V]) key(k string) string {
	sum := sha256.Sum256([]byte(k))
	return r.prefix + hex.EncodeToString(sum[:])
}

// Get implements SecondLevel.
func (r *RedisLevel[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	data, err := kberrors.CircuitExecute(r.breaker, func() ([]byte, error) {
		data, err := r.client.Get(ctx, r.key(key)).Bytes()
		if err == redis.Nil {
			return nil, nil
		}
		return data, err
	})
	if err != nil {
		return zero, false, fmt.Errorf("redis get: %w", err)
	}
	if data == nil {
		return zero, false, nil
	}

	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return v, true, nil
}

// Set implements SecondLevel.
func (r *RedisLevel[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return r.breaker.Execute(func() error {
		return r.client.Set(ctx, r.key(key), data, ttl).Err()
	})
}

// Purge implements SecondLevel by deleting every key under the prefix.
func (r *RedisLevel[V]) Purge(ctx context.Context) error {
	return r.breaker.Execute(func() error {
		iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
		var batch []string
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
			if len(batch) == 100 {
				if err := r.client.Del(ctx, batch...).Err(); err != nil {
					return err
				}
				batch = batch[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to iterate cache keys: %w", err)
		}
		if len(batch) > 0 {
			return r.client.Del(ctx, batch...).Err()
		}
		return nil
	})
}
