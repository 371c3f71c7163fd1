// Package redis implements the worker coordination store: a
// distributed lock serializing grade sweeps across workers, and
// per-activity sweep checkpoints. Learning records are never cached
// here; the LRS stays the single source of truth.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds Redis connection configuration.
type Config struct {
	// URL is the full connection URL; when set it wins over Host/Port.
	URL string

	// Host is the Redis server hostname.
	Host string

	// Port is the Redis server port.
	Port int

	// Password is the Redis authentication password (empty if no auth).
	Password string

	// DB is the Redis database number.
	DB int

	// PoolSize is the maximum number of socket connections.
	PoolSize int

	// MinIdleConns is the minimum number of idle connections.
	MinIdleConns int

	// DialTimeout is the timeout for establishing new connections.
	DialTimeout time.Duration

	// ReadTimeout is the timeout for socket reads.
	ReadTimeout time.Duration

	// WriteTimeout is the timeout for socket writes.
	WriteTimeout time.Duration
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewClient creates a go-redis client from the configuration and
// verifies the connection.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	var opts *redis.Options
	if cfg.URL != "" {
		var err error
		opts, err = redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("redis: parse URL: %w", err)
		}
	} else {
		opts = &redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return client, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CHECKPOINT STORE
// ══════════════════════════════════════════════════════════════════════════════

// Key prefixes for namespacing.
const (
	prefixLock       = "tincan:lock:"
	prefixCheckpoint = "tincan:checked:"
)

// releaseScript deletes the lock only if the caller still owns it.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// CheckpointStore coordinates grade sweeps across worker processes.
type CheckpointStore struct {
	client *redis.Client
}

// NewCheckpointStore creates a new store.
func NewCheckpointStore(client *redis.Client) *CheckpointStore {
	return &CheckpointStore{client: client}
}

// AcquireLock takes the named lock for ttl, identifying this holder by
// token. It reports false when another worker already holds the lock.
func (s *CheckpointStore) AcquireLock(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, prefixLock+name, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: acquire lock: %w", err)
	}
	return ok, nil
}

// ReleaseLock releases the named lock if this holder still owns it. A
// lock that expired and was re-acquired elsewhere is left alone.
func (s *CheckpointStore) ReleaseLock(ctx context.Context, name, token string) error {
	if err := releaseScript.Run(ctx, s.client, []string{prefixLock + name}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis: release lock: %w", err)
	}
	return nil
}

// MarkChecked records when an activity's grade sweep last completed.
func (s *CheckpointStore) MarkChecked(ctx context.Context, activityID int64, at time.Time) error {
	key := fmt.Sprintf("%s%d", prefixCheckpoint, activityID)
	if err := s.client.Set(ctx, key, at.UTC().Format(time.RFC3339), 0).Err(); err != nil {
		return fmt.Errorf("redis: mark checked: %w", err)
	}
	return nil
}

// LastChecked returns when an activity's sweep last completed, or a
// zero time when it never has.
func (s *CheckpointStore) LastChecked(ctx context.Context, activityID int64) (time.Time, error) {
	key := fmt.Sprintf("%s%d", prefixCheckpoint, activityID)
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("redis: last checked: %w", err)
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, fmt.Errorf("redis: parse checkpoint: %w", err)
	}
	return t, nil
}
