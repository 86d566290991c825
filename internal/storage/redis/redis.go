package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/scrollcap/internal/clock"
	"github.com/goodtune/scrollcap/internal/config"
	"github.com/goodtune/scrollcap/internal/storage"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces every key written by the store.
const DefaultKeyPrefix = "scrollcap:"

// DefaultGlobalLimit is reported until a global limit is stored.
const DefaultGlobalLimit = 100.0

// Store implements the storage.Store interface using Redis
type Store struct {
	client        *redis.Client
	usageStore    *usageStore
	settingsStore *settingsStore
}

// Option adjusts a Store at construction time
type Option func(*Store)

// WithClock sets the clock used to evaluate settings locks
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.settingsStore.clock = c }
}

// WithDefaultGlobalLimit sets the global limit reported when none is stored
func WithDefaultGlobalLimit(limit float64) Option {
	return func(s *Store) { s.settingsStore.defaultGlobalLimit = limit }
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig, opts ...Option) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := parseTimeout(cfg.DialTimeout, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := parseTimeout(cfg.ReadTimeout, 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := parseTimeout(cfg.WriteTimeout, 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Determine address
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	// Create Redis client
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewWithClient(client, cfg.KeyPrefix, opts...), nil
}

// NewWithClient wraps an existing client. An empty prefix selects
// DefaultKeyPrefix.
func NewWithClient(client *redis.Client, prefix string, opts ...Option) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	keys := keyspace{prefix: prefix}

	s := &Store{
		client:     client,
		usageStore: &usageStore{client: client, keys: keys},
		settingsStore: &settingsStore{
			client:             client,
			keys:               keys,
			clock:              clock.RealClock{},
			defaultGlobalLimit: DefaultGlobalLimit,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Usage returns the UsageStore implementation
func (s *Store) Usage() storage.UsageStore {
	return s.usageStore
}

// Settings returns the SettingsStore implementation
func (s *Store) Settings() storage.SettingsStore {
	return s.settingsStore
}

func parseTimeout(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}
