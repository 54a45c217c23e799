package db

import (
	"context"
	"errors"
	"fmt"

	"agent-pairtrack/internal/config"
)

// ErrNotFound is returned by KV implementations when a key has no value.
var ErrNotFound = errors.New("key not found")

// KV is the durable byte store the timeline persists through. The SQLite,
// Postgres and Redis implementations all satisfy it.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// OpenKV selects the durable backend from configuration. SQLite is the
// default since the agent usually persists to a local file.
func OpenKV(ctx context.Context, cfg config.Config) (KV, error) {
	switch cfg.KVBackend {
	case "", "sqlite":
		return OpenSQLite(cfg.SQLitePath)
	case "postgres":
		pool, err := ConnectPostgres(cfg)
		if err != nil {
			return nil, err
		}
		return NewPostgresKV(ctx, pool, pool.Close)
	case "redis":
		client := ConnectRedis(cfg)
		if client == nil {
			return nil, errors.New("redis backend selected but REDIS_ADDR is empty")
		}
		return NewRedisKV(client), nil
	default:
		return nil, fmt.Errorf("unknown kv backend %q", cfg.KVBackend)
	}
}
