package db

import (
	"context"
	"embed"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationLockID = 5120731

// Migrate runs all pending SQL migrations in lexicographic order, recording
// each applied file in importer_schema_migrations. The whole pass runs in one
// transaction under a transaction-scoped advisory lock, so the lock lives on
// the same connection as the DDL and a failed migration applies nothing.
func Migrate(ctx context.Context, pool Pool) error {
	log := zap.L().With(zap.String("component", "db.migrate"))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "db: begin migration tx")
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			log.Warn("db: migration rollback failed", zap.Error(rbErr))
		}
	}()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "db: acquire migration advisory lock")
	}

	if err := ensureMigrationTable(ctx, tx); err != nil {
		return err
	}

	names, err := migrationNames()
	if err != nil {
		return err
	}

	applied, err := appliedMigrations(ctx, tx)
	if err != nil {
		return err
	}

	for _, name := range names {
		if applied[name] {
			continue
		}

		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "db: read migration %s", name)
		}

		log.Info("applying migration", zap.String("file", name))

		if _, err := tx.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "db: apply migration %s", name)
		}

		if _, err := tx.Exec(ctx,
			"INSERT INTO importer_schema_migrations (filename, applied_at) VALUES ($1, now())",
			name,
		); err != nil {
			return eris.Wrapf(err, "db: record migration %s", name)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "db: commit migrations")
	}
	committed = true
	return nil
}

func migrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, eris.Wrap(err, "db: read migration dir")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// execQuerier is the part of pgx.Tx the migration helpers use.
type execQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func ensureMigrationTable(ctx context.Context, q execQuerier) error {
	sql := `
		CREATE TABLE IF NOT EXISTS importer_schema_migrations (
			id         SERIAL PRIMARY KEY,
			filename   TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`
	if _, err := q.Exec(ctx, sql); err != nil {
		return eris.Wrap(err, "db: ensure migration table")
	}
	return nil
}

func appliedMigrations(ctx context.Context, q execQuerier) (map[string]bool, error) {
	rows, err := q.Query(ctx, "SELECT filename FROM importer_schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "db: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "db: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
