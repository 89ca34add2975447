// Package redis implements Redis caching, pub/sub and distributed locking
// for the power-index services.
//
// Key components:
//   - Cache: the shared client, JSON reads and SET NX locks
//   - BoardMirror: ranked leaderboard snapshot in a sorted set
//   - PubSub: event transport for the Redis event bus
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config mirrors the REDIS_* settings. Zero pool and timeout values keep
// go-redis defaults.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig points at a local Redis.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Addr is host:port, brackets included for IPv6 hosts.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) options() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr(),
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
		MaxRetries:   c.MaxRetries,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// KEYS AND ERRORS
// ══════════════════════════════════════════════════════════════════════════════

const (
	PrefixLeaderboard = "leaderboard:"
	PrefixLock        = "lock:"
	PrefixPubSub      = "pubsub:"
)

// TTLDistributedLock applies when AcquireLock gets no TTL.
const TTLDistributedLock = 30 * time.Second

func LeaderboardKey(part string) string { return PrefixLeaderboard + part }
func LockKey(resource string) string    { return PrefixLock + resource }
func PubSubChannel(name string) string  { return PrefixPubSub + name }

var (
	ErrCacheMiss          = errors.New("cache: key not found")
	ErrCacheConnection    = errors.New("cache: connection failed")
	ErrCacheSerialization = errors.New("cache: serialization failed")
	ErrCacheKeyEmpty      = errors.New("cache: key cannot be empty")

	// ErrLockNotHeld means the lock expired or another owner took it over.
	ErrLockNotHeld = errors.New("cache: lock not held")
)

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Cache owns the Redis client shared by the mirror, the event transport
// and the rebuild lock.
type Cache struct {
	client *redis.Client
}

// NewCache connects and pings once within DialTimeout.
func NewCache(cfg Config) (*Cache, error) {
	client := redis.NewClient(cfg.options())

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	return &Cache{client: client}, nil
}

func (c *Cache) Client() *redis.Client          { return c.client }
func (c *Cache) Close() error                   { return c.client.Close() }
func (c *Cache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

// Get decodes the JSON value at key into dest. A missing key is ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	if key == "" {
		return ErrCacheKeyEmpty
	}
	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return ErrCacheMiss
	case err != nil:
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// DISTRIBUTED LOCK
// ══════════════════════════════════════════════════════════════════════════════

// compareAndDelete removes KEYS[1] only while it still holds ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireLock sets lock:<resource> to a fresh token with NX. ok is false
// when somebody else holds it.
func (c *Cache) AcquireLock(ctx context.Context, resource string, ttl time.Duration) (token string, ok bool, err error) {
	if resource == "" {
		return "", false, ErrCacheKeyEmpty
	}
	if ttl <= 0 {
		ttl = TTLDistributedLock
	}

	token = uuid.NewString()
	ok, err = c.client.SetNX(ctx, LockKey(resource), token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// ReleaseLock deletes the lock if token still owns it, ErrLockNotHeld otherwise.
func (c *Cache) ReleaseLock(ctx context.Context, resource, token string) error {
	n, err := compareAndDelete.Run(ctx, c.client, []string{LockKey(resource)}, token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
