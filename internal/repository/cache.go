package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("balance not found in cache")

const (
	defaultBalanceTTL = 30 * time.Second
	generationTTL     = 24 * time.Hour
)

// BalanceCache is a read-through cache in front of Store.Balance.
//
// Readers take Version before reading the store and hand it back to Fill, which
// only writes when no Invalidate happened in between. Writers invalidate before
// the mutation commits and again after.
type BalanceCache interface {
	Get(ctx context.Context, userID string) (int64, error)
	Version(ctx context.Context, userID string) (int64, error)
	Fill(ctx context.Context, userID string, version, balance int64) (bool, error)
	Invalidate(ctx context.Context, userID string) error
}

// fillScript sets the balance only while the generation still matches ARGV[1].
var fillScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// invalidateScript bumps the generation and drops the cached balance atomically.
var invalidateScript = redis.NewScript(`
redis.call('INCR', KEYS[2])
redis.call('PEXPIRE', KEYS[2], ARGV[1])
redis.call('DEL', KEYS[1])
return 1
`)

type RedisBalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisBalanceCache(client *redis.Client, ttl time.Duration) *RedisBalanceCache {
	if ttl <= 0 {
		ttl = defaultBalanceTTL
	}
	return &RedisBalanceCache{client: client, ttl: ttl}
}

// Both keys share a hash tag so the scripts also run on a cluster.
func balanceKey(userID string) string {
	return fmt.Sprintf("balance:{%s}", userID)
}

func generationKey(userID string) string {
	return fmt.Sprintf("balance:{%s}:gen", userID)
}

func (c *RedisBalanceCache) Get(ctx context.Context, userID string) (int64, error) {
	v, err := c.client.Get(ctx, balanceKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrCacheMiss
		}
		return 0, fmt.Errorf("redis get balance: %w", err)
	}
	return v, nil
}

func (c *RedisBalanceCache) Version(ctx context.Context, userID string) (int64, error) {
	v, err := c.client.Get(ctx, generationKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis get balance generation: %w", err)
	}
	return v, nil
}

func (c *RedisBalanceCache) Fill(ctx context.Context, userID string, version, balance int64) (bool, error) {
	n, err := fillScript.Run(ctx, c.client,
		[]string{balanceKey(userID), generationKey(userID)},
		version, balance, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis fill balance: %w", err)
	}
	return n == 1, nil
}

func (c *RedisBalanceCache) Invalidate(ctx context.Context, userID string) error {
	err := invalidateScript.Run(ctx, c.client,
		[]string{balanceKey(userID), generationKey(userID)},
		generationTTL.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("redis invalidate balance: %w", err)
	}
	return nil
}

// NopBalanceCache always misses.
type NopBalanceCache struct{}

func (NopBalanceCache) Get(context.Context, string) (int64, error)     { return 0, ErrCacheMiss }
func (NopBalanceCache) Version(context.Context, string) (int64, error) { return 0, nil }
func (NopBalanceCache) Fill(context.Context, string, int64, int64) (bool, error) {
	return false, nil
}
func (NopBalanceCache) Invalidate(context.Context, string) error { return nil }
