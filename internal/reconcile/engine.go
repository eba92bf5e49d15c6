// Package reconcile merges extracted rows into target tables: stage into
// temporary tables, run the schema's ordered merge phases and commit, all
// inside one transaction.
package reconcile

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/stock-importer/internal/db"
	"github.com/sells-group/stock-importer/internal/model"
)

// ErrNoRows is returned when Sync is called without primary rows. Callers
// skip the sync for files with no valid rows.
var ErrNoRows = eris.New("reconcile: no rows to sync")

// Batch holds COPY-ready rows per staging source.
type Batch map[Source][][]any

// Result maps a phase counter name to the number of rows it affected.
type Result map[string]int64

// Engine runs the staging/merge protocol against a pool.
type Engine struct {
	pool      db.Pool
	batchSize int
}

// NewEngine creates an Engine loading staging tables batchSize rows per COPY.
func NewEngine(pool db.Pool, batchSize int) *Engine {
	if batchSize <= 0 {
		batchSize = db.DefaultBatchSize
	}
	return &Engine{pool: pool, batchSize: batchSize}
}

// Sync applies batch to the schema's target tables atomically. Phases gated on
// a control flag run only when that flag is set. On any error the
// transaction is rolled back and the error returned; nothing is applied.
func (e *Engine) Sync(ctx context.Context, schema Schema, batch Batch, flags model.ControlFlags) (Result, error) {
	if len(batch[SourceRows]) == 0 {
		return nil, ErrNoRows
	}

	log := zap.L().With(
		zap.String("component", "reconcile"),
		zap.String("domain", string(schema.Domain)),
		zap.String("table", schema.Table),
	)
	start := time.Now()

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: %s: begin tx", schema.Domain)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// Roll back even if ctx was cancelled so the connection returns clean.
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			log.Error("rollback failed", zap.Error(rbErr))
			return
		}
		log.Warn("transaction rolled back")
	}()

	if err := e.stage(ctx, tx, schema, batch); err != nil {
		return nil, err
	}

	res, err := e.merge(ctx, tx, schema, flags)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrapf(err, "reconcile: %s: commit", schema.Domain)
	}
	committed = true

	fields := []zap.Field{zap.Bool("delete", flags.Delete), zap.Bool("reset", flags.Reset), zap.Duration("elapsed", time.Since(start))}
	for name, n := range res {
		fields = append(fields, zap.Int64(name, n))
	}
	log.Info("sync committed", fields...)

	return res, nil
}

// stage creates every staging table and bulk-loads its rows.
func (e *Engine) stage(ctx context.Context, tx pgx.Tx, schema Schema, batch Batch) error {
	for _, st := range schema.Staging {
		if _, err := tx.Exec(ctx, st.Create); err != nil {
			return eris.Wrapf(err, "reconcile: %s: create staging %s", schema.Domain, st.Name)
		}
		n, err := db.CopyBatches(ctx, tx, st.Name, st.Columns, batch[st.Source], e.batchSize)
		if err != nil {
			return eris.Wrapf(err, "reconcile: %s: load staging %s", schema.Domain, st.Name)
		}
		zap.L().Debug("staging loaded", zap.String("staging", st.Name), zap.Int64("rows", n))
	}
	return nil
}

// merge runs the phases in declared order. Flag-gated phases are the
// snapshot reconciliation step: they remove or zero target rows missing
// from staging and are skipped when the file is an incremental update.
func (e *Engine) merge(ctx context.Context, tx pgx.Tx, schema Schema, flags model.ControlFlags) (Result, error) {
	res := make(Result, len(schema.Phases))
	for _, p := range schema.Phases {
		if _, ok := res[p.Name]; !ok {
			res[p.Name] = 0
		}
		if !p.When.Applies(flags) {
			continue
		}
		tag, err := tx.Exec(ctx, p.SQL)
		if err != nil {
			return nil, eris.Wrapf(err, "reconcile: %s: phase %s", schema.Domain, p.Name)
		}
		res[p.Name] += tag.RowsAffected()
	}
	return res, nil
}
