package callback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/illmade-knight/go-batchrelay/pkg/types"
	"github.com/rs/zerolog"
)

// MemoryLedger is a Ledger for a single process.
type MemoryLedger struct {
	mu     sync.Mutex
	tokens map[types.CallbackToken]struct{}
}

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{tokens: make(map[types.CallbackToken]struct{})}
}

func (l *MemoryLedger) Claim(_ context.Context, token types.CallbackToken) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tokens[token]; ok {
		return false, nil
	}
	l.tokens[token] = struct{}{}
	return true, nil
}

func (l *MemoryLedger) Release(_ context.Context, token types.CallbackToken) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.tokens, token)
	return nil
}

// RedisConfig holds configuration for the Redis ledger.
type RedisConfig struct {
	Addr      string        // e.g., "localhost:6379"
	Password  string        // Leave empty if no password
	DB        int           // e.g., 0
	TTL       time.Duration // How long a consumed token is remembered
	KeyPrefix string
}

// DefaultLedgerTTL outlives the longest task token lifetime of common orchestrators.
const DefaultLedgerTTL = 24 * time.Hour

// RedisLedger shares token claims between processes with SETNX.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger zerolog.Logger
}

// NewRedisLedger connects to Redis and verifies the connection.
func NewRedisLedger(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisLedger, error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis for callback ledger")
	return NewRedisLedgerFromClient(rdb, cfg.TTL, cfg.KeyPrefix, logger), nil
}

// NewRedisLedgerFromClient wraps an existing client; the ledger takes ownership of it.
func NewRedisLedgerFromClient(client *redis.Client, ttl time.Duration, prefix string, logger zerolog.Logger) *RedisLedger {
	if ttl <= 0 {
		ttl = DefaultLedgerTTL
	}
	if prefix == "" {
		prefix = "callback:"
	}
	return &RedisLedger{
		client: client,
		ttl:    ttl,
		prefix: prefix,
		logger: logger.With().Str("component", "RedisLedger").Logger(),
	}
}

func (l *RedisLedger) key(token types.CallbackToken) string {
	return l.prefix + string(token)
}

func (l *RedisLedger) Claim(ctx context.Context, token types.CallbackToken) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(token), time.Now().UTC().Format(time.RFC3339Nano), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (l *RedisLedger) Release(ctx context.Context, token types.CallbackToken) error {
	if err := l.client.Del(ctx, l.key(token)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (l *RedisLedger) Close() error {
	l.logger.Info().Msg("Closing Redis client connection...")
	return l.client.Close()
}
