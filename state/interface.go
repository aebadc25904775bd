package state

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get for missing or expired keys.
	ErrNotFound = errors.New("state: key not found")
	// ErrConflict is returned by SetIfMatch when the stored etag differs.
	ErrConflict = errors.New("state: etag mismatch")
)

// Item is a stored value with its concurrency token.
type Item struct {
	Value []byte
	ETag  string
}

// Store is the shared key-value store with expiry used for the geocode cache,
// the liveness beacon and crawl checkpoints.
type Store interface {
	Get(ctx context.Context, key string) (Item, error)

	// Set writes value. A zero ttl means the key does not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetIfMatch writes value only if the stored etag equals etag. An empty
	// etag requires the key to be absent. Returns ErrConflict otherwise.
	SetIfMatch(ctx context.Context, key string, value []byte, etag string) error

	Delete(ctx context.Context, key string) error

	Close() error
}

// StoreFactory creates the configured Store implementation.
type StoreFactory interface {
	Create(config Config) (Store, error)
}

// Backend names accepted in Config.Backend.
const (
	BackendDapr   = "dapr"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config contains common configuration for all store implementations
type Config struct {
	Backend string

	// KeyPrefix namespaces every key, e.g. "atlas/".
	KeyPrefix string

	DaprConfig  *DaprConfig
	RedisConfig *RedisConfig
}

// DaprConfig contains Dapr-specific configuration
type DaprConfig struct {
	StateStoreName   string
	GRPCPort         string
	MaxMessageSizeMB int
}

// RedisConfig contains Redis-specific configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}
