// Package ratelimit throttles chat sends and deduplicates retried requests
// using counters kept in redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the subset of redis operations the limiter and the idempotency
// guard need.
type Store interface {
	// Incr bumps key and (re)arms its expiry, returning the new count.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	// PutNX sets key only if it is absent.
	PutNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
}

type RedisStore struct {
	rdb redis.Cmdable
}

func NewRedisStore(rdb redis.Cmdable) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Dial connects to addr and verifies the server answers.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	return rdb, nil
}

func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}

	return incr.Val(), nil
}

func (s *RedisStore) PutNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}

	return ok, nil
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}

	return nil
}

// Limiter allows at most limit events per key in each fixed window.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
}

func NewLimiter(store Store, limit int, window time.Duration) *Limiter {
	return &Limiter{store: store, limit: limit, window: window}
}

// Allow counts one event for userId under action.
func (l *Limiter) Allow(ctx context.Context, action string, userId int) (bool, error) {
	n, err := l.store.Incr(ctx, fmt.Sprintf("rl:%s:%d", action, userId), l.window)
	if err != nil {
		return false, err
	}

	return n <= int64(l.limit), nil
}

const DefaultIdempotencyTTL = 10 * time.Minute

// Idempotency remembers client supplied request keys so a retried request
// is applied at most once.
type Idempotency struct {
	store Store
	ttl   time.Duration
}

func NewIdempotency(store Store, ttl time.Duration) *Idempotency {
	return &Idempotency{store: store, ttl: ttl}
}

func idemKey(userId int, key string) string {
	return fmt.Sprintf("idem:%d:%s", userId, key)
}

// Claim reports whether this is the first request carrying key for userId.
func (i *Idempotency) Claim(ctx context.Context, userId int, key string) (bool, error) {
	return i.store.PutNX(ctx, idemKey(userId, key), i.ttl)
}

// Release gives up a claim whose request was not applied, so a retry with
// the same key goes through.
func (i *Idempotency) Release(ctx context.Context, userId int, key string) error {
	return i.store.Del(ctx, idemKey(userId, key))
}
