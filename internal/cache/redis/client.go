// Package redis implements the ledger lock and event bus on go-redis/v9 so
// several tradeledger processes can share one ledger.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "tradeledger"

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool

	// KeyPrefix namespaces every lock key and pub/sub channel. Defaults to
	// "tradeledger".
	KeyPrefix string
}

// Client wraps a go-redis Client and provides connectivity helpers.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// New creates a new Redis Client, pings it to verify connectivity, and returns
// the wrapper. It returns an error if the connection cannot be established.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &Client{rdb: rdb, prefix: keyPrefix(cfg.KeyPrefix)}, nil
}

func keyPrefix(p string) string {
	if p == "" {
		return defaultKeyPrefix
	}
	return p
}

// Health checks the Redis connection.
func (c *Client) Health(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// key joins the namespace prefix and parts with colons.
func (c *Client) key(parts ...string) string {
	return namespaced(c.prefix, parts...)
}

func namespaced(prefix string, parts ...string) string {
	k := prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}
