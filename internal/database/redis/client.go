// Package redis wraps go-redis for the relay: the authorised-users hash that
// gates which miners' shares are relayed.
package redis

import (
	"context"
	stderrors "errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bardlex/gomp-relay/pkg/errors"
)

// Client wraps Redis operations for the relay
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration
type Config struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns pool settings suited to one lookup per relayed share
func DefaultConfig() *Config {
	return &Config{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// ConfigFromURL parses a redis:// or rediss:// URL on top of DefaultConfig
func ConfigFromURL(url string) (*Config, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "parse_redis_url", "invalid Redis URL")
	}

	cfg := DefaultConfig()
	cfg.Addr = opts.Addr
	cfg.Username = opts.Username
	cfg.Password = opts.Password
	cfg.DB = opts.DB
	return cfg, nil
}

// NewClient creates a client and verifies the connection
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeRedis, "ping", "failed to ping Redis").
			WithContext("addr", cfg.Addr)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// UserID returns the id stored for user in the hash at key. A missing field
// yields zero and no error.
func (c *Client) UserID(ctx context.Context, key, user string) (uint64, error) {
	raw, err := c.rdb.HGet(ctx, key, user).Result()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, errors.Wrap(err, errors.ErrorTypeRedis, "hget", "failed to read authorised user").
			WithContext("key", key)
	}

	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeValidation, "parse_user_id", "authorised user id is not an integer").
			WithContext("key", key).
			WithContext("user", user)
	}
	return id, nil
}

// AuthorizeUser stores id for user. A zero id marks the user as not authorised.
func (c *Client) AuthorizeUser(ctx context.Context, key, user string, id uint64) error {
	if err := c.rdb.HSet(ctx, key, user, strconv.FormatUint(id, 10)).Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeRedis, "hset", "failed to authorise user").
			WithContext("key", key)
	}
	return nil
}

// RevokeUser removes user from the hash. It reports whether the user existed.
func (c *Client) RevokeUser(ctx context.Context, key, user string) (bool, error) {
	n, err := c.rdb.HDel(ctx, key, user).Result()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeRedis, "hdel", "failed to revoke user").
			WithContext("key", key)
	}
	return n > 0, nil
}

// CountUsers returns the number of entries in the hash at key
func (c *Client) CountUsers(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.HLen(ctx, key).Result()
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeRedis, "hlen", "failed to count users").
			WithContext("key", key)
	}
	return n, nil
}
