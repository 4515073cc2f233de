package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Backend names accepted by Open.
const (
	BackendNone     = "none"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

type OpenOptions struct {
	Backend     string
	Dir         string // file
	RedisAddr   string // redis
	DatabaseURL string // postgres
	SQLitePath  string // sqlite
}

// redisSnapshotTTL bounds how long an unused snapshot lingers in Redis.
const redisSnapshotTTL = 7 * 24 * time.Hour

// Open builds the Persister named by opts.Backend. The returned func releases any
// connection it opened and is never nil.
func Open(ctx context.Context, opts OpenOptions) (Persister, func() error, error) {
	noop := func() error { return nil }

	switch opts.Backend {
	case "", BackendNone:
		return Nop{}, noop, nil
	case BackendFile:
		fs, err := NewFileStore(opts.Dir)
		if err != nil {
			return nil, noop, fmt.Errorf("file snapshots: %w", err)
		}
		return fs, noop, nil
	case BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, noop, fmt.Errorf("redis snapshots: %w", err)
		}
		return NewRedisStore(rdb, "scriptmarket:", redisSnapshotTTL), rdb.Close, nil
	case BackendPostgres:
		pool, err := pgxpool.New(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("postgres snapshots: %w", err)
		}
		ps, err := NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, noop, err
		}
		return ps, func() error { pool.Close(); return nil }, nil
	case BackendSQLite:
		s, err := OpenSQLite(ctx, opts.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown snapshot backend %q", opts.Backend)
	}
}
