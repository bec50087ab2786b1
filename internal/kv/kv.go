// Package kv is the adapter for the external key-value store backing the
// maintenance engine. It selects a numbered logical database at startup and
// exposes hash, set, and sorted-set primitives plus an atomic multi-op.
package kv

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds KV connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Member is a sorted-set member with its score.
type Member struct {
	Member string
	Score  float64
}

// Pipe is the subset of commands available inside a Tx block. Commands are
// queued and executed atomically when the block returns nil.
type Pipe interface {
	HSet(key string, fieldvals ...any)
	HIncrBy(key, field string, incr int64)
	SAdd(key string, members ...any)
	SRem(key string, members ...any)
	ZAdd(key string, score float64, member string)
	ZRem(key string, members ...any)
	Del(keys ...string)
}

// Client wraps a pooled connection to the KV store. All methods propagate
// transient connection errors upward.
type Client struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// New creates a client against the configured logical database. The
// underlying pool hands out connections per operation.
func New(cfg Config, logger *zap.Logger) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Client{rdb: rdb, logger: logger}
}

// Ping verifies connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("kv ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// -- Hashes --

func (c *Client) HGet(ctx context.Context, key, field string) (string, bool, error) {
	val, err := c.rdb.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("hget %s %s: %w", key, field, err)
	}
	return val, true, nil
}

func (c *Client) HSet(ctx context.Context, key string, fieldvals ...any) error {
	if err := c.rdb.HSet(ctx, key, fieldvals...).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

// HGetAll returns the hash at key; an absent key yields an empty map.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	vals, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	return vals, nil
}

// HIncrBy atomically increments a hash field and returns the new value.
func (c *Client) HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	val, err := c.rdb.HIncrBy(ctx, key, field, incr).Result()
	if err != nil {
		return 0, fmt.Errorf("hincrby %s %s: %w", key, field, err)
	}
	return val, nil
}

// -- Sets --

func (c *Client) SAdd(ctx context.Context, key string, members ...any) error {
	if err := c.rdb.SAdd(ctx, key, members...).Err(); err != nil {
		return fmt.Errorf("sadd %s: %w", key, err)
	}
	return nil
}

func (c *Client) SRem(ctx context.Context, key string, members ...any) error {
	if err := c.rdb.SRem(ctx, key, members...).Err(); err != nil {
		return fmt.Errorf("srem %s: %w", key, err)
	}
	return nil
}

func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := c.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers %s: %w", key, err)
	}
	return members, nil
}

// -- Sorted sets --

func (c *Client) ZAdd(ctx context.Context, key string, score float64, member string) error {
	if err := c.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("zadd %s: %w", key, err)
	}
	return nil
}

func (c *Client) ZRem(ctx context.Context, key string, members ...any) error {
	if err := c.rdb.ZRem(ctx, key, members...).Err(); err != nil {
		return fmt.Errorf("zrem %s: %w", key, err)
	}
	return nil
}

// ZRangeWithScores returns members ordered by ascending score.
func (c *Client) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]Member, error) {
	zs, err := c.rdb.ZRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange %s: %w", key, err)
	}
	members := make([]Member, len(zs))
	for i, z := range zs {
		members[i] = Member{Member: fmt.Sprint(z.Member), Score: z.Score}
	}
	return members, nil
}

// -- Keys --

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("del %v: %w", keys, err)
	}
	return nil
}

func (c *Client) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := c.rdb.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("keys %s: %w", pattern, err)
	}
	return keys, nil
}

// Tx queues the commands issued inside fn and executes them atomically
// (MULTI/EXEC): either all enclosed commands apply or none do.
func (c *Client) Tx(ctx context.Context, fn func(p Pipe) error) error {
	_, err := c.rdb.TxPipelined(ctx, func(rp redis.Pipeliner) error {
		return fn(&pipe{ctx: ctx, p: rp})
	})
	if err != nil {
		return fmt.Errorf("kv tx: %w", err)
	}
	return nil
}

type pipe struct {
	ctx context.Context
	p   redis.Pipeliner
}

func (p *pipe) HSet(key string, fieldvals ...any) { p.p.HSet(p.ctx, key, fieldvals...) }
func (p *pipe) HIncrBy(key, field string, incr int64) {
	p.p.HIncrBy(p.ctx, key, field, incr)
}
func (p *pipe) SAdd(key string, members ...any) { p.p.SAdd(p.ctx, key, members...) }
func (p *pipe) SRem(key string, members ...any) { p.p.SRem(p.ctx, key, members...) }
func (p *pipe) ZAdd(key string, score float64, member string) {
	p.p.ZAdd(p.ctx, key, redis.Z{Score: score, Member: member})
}
func (p *pipe) ZRem(key string, members ...any) { p.p.ZRem(p.ctx, key, members...) }
func (p *pipe) Del(keys ...string)              { p.p.Del(p.ctx, keys...) }
