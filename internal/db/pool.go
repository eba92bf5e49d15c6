package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/stock-importer/internal/resilience"
)

// Pool is the subset of *pgxpool.Pool used by the importer. pgxmock pools
// satisfy it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Ping(ctx context.Context) error
	Close()
}

// ConnectConfig holds connection pool settings.
type ConnectConfig struct {
	URL      string
	MaxConns int32
	Retries  int
}

// Connect opens a pgx pool and pings it, retrying transient failures.
func Connect(ctx context.Context, cfg ConnectConfig) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, eris.New("db: no database url configured")
	}

	pgxCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, eris.Wrap(err, "db: parse config")
	}
	if cfg.MaxConns > 0 {
		pgxCfg.MaxConns = cfg.MaxConns
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	policy := resilience.ConnectPolicy()
	if cfg.Retries > 0 {
		policy.Attempts = cfg.Retries
	}
	policy.OnRetry = resilience.LogRetry("postgres")

	return resilience.Retry(ctx, policy, func(ctx context.Context) (*pgxpool.Pool, error) {
		pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
		if err != nil {
			return nil, eris.Wrap(err, "db: create pool")
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, eris.Wrap(err, "db: ping")
		}
		return pool, nil
	})
}
