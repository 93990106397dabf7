package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrKeyNotFound is returned by Conn.Get for missing keys.
var ErrKeyNotFound = errors.New("key not found")

// Conn is the key/value backend the store runs on.
type Conn interface {
	Get(ctx context.Context, key string) (string, error)
	// MGet returns one value per key; missing keys yield "".
	MGet(ctx context.Context, keys ...string) ([]string, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	Set(ctx context.Context, key, value string) error
	SAdd(ctx context.Context, key string, members ...string) error
	Close() error
}

// Dialer opens a Conn.
type Dialer func(ctx context.Context) (Conn, error)

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	URL          string `split_words:"true" default:"redis://localhost:6379/0"`
	ReadTimeout  int    `split_words:"true" default:"3"`
	WriteTimeout int    `split_words:"true" default:"3"`
	DialTimeout  int    `split_words:"true" default:"5"`
}

// Options converts the config into go-redis client options.
func (c RedisConfig) Options() (*redis.Options, error) {
	opts, err := redis.ParseURL(c.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	opts.ReadTimeout = time.Duration(c.ReadTimeout) * time.Second
	opts.WriteTimeout = time.Duration(c.WriteTimeout) * time.Second
	opts.DialTimeout = time.Duration(c.DialTimeout) * time.Second
	return opts, nil
}

// RedisDialer returns a Dialer that connects to Redis and pings it.
func RedisDialer(cfg RedisConfig) Dialer {
	return func(ctx context.Context) (Conn, error) {
		opts, err := cfg.Options()
		if err != nil {
			return nil, err
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("pinging redis: %w", err)
		}
		return &redisConn{rdb: client}, nil
	}
}

type redisConn struct {
	rdb *redis.Client
}

func (c *redisConn) Get(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	return v, err
}

func (c *redisConn) MGet(ctx context.Context, keys ...string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(vals))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[i] = s
		}
	}
	return out, nil
}

func (c *redisConn) SMembers(ctx context.Context, key string) ([]string, error) {
	return c.rdb.SMembers(ctx, key).Result()
}

func (c *redisConn) Set(ctx context.Context, key, value string) error {
	return c.rdb.Set(ctx, key, value, 0).Err()
}

func (c *redisConn) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return c.rdb.SAdd(ctx, key, args...).Err()
}

func (c *redisConn) Close() error {
	return c.rdb.Close()
}

func docKey(entity, id string) string {
	return entity + ":" + id
}

func idsKey(entity string) string {
	return entity + ":ids"
}

func indexKey(entity, field, value string) string {
	return entity + ":idx:" + field + ":" + value
}
