package main

import (
	"context"
	"io/fs"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/afero"

	"github.com/sells-group/stock-importer/internal/db"
	"github.com/sells-group/stock-importer/internal/extract"
	"github.com/sells-group/stock-importer/internal/importer"
	"github.com/sells-group/stock-importer/internal/model"
	"github.com/sells-group/stock-importer/internal/monitoring"
	"github.com/sells-group/stock-importer/internal/reconcile"
	"github.com/sells-group/stock-importer/internal/report"
	"github.com/sells-group/stock-importer/internal/sqltmpl"
)

// loadTemplates resolves every schema descriptor up front so a missing
// template fails the command before any file is touched.
func loadTemplates() (*sqltmpl.Store, error) {
	scope, err := sqltmpl.ParseScope(cfg.Import.StockDeleteScope)
	if err != nil {
		return nil, err
	}
	var override fs.FS
	if cfg.Templates.Dir != "" {
		override = os.DirFS(cfg.Templates.Dir)
	}
	store, err := sqltmpl.Load(sqltmpl.Default(), override, scope)
	if err != nil {
		return nil, err
	}
	for domain := range cfg.Import.Files {
		if _, err := store.Schema(model.Domain(domain)); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func openHistory(fsys afero.Fs) *report.History {
	return report.NewHistory(fsys, cfg.Report.Path, cfg.Report.Retention())
}

func newChecker(history *report.History) *monitoring.Checker {
	return monitoring.NewChecker(
		monitoring.NewCollector(history),
		monitoring.NewAlerter(cfg.Monitoring),
		cfg.Monitoring,
	)
}

func connectPool(ctx context.Context) (*pgxpool.Pool, error) {
	return db.Connect(ctx, db.ConnectConfig{
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
		Retries:  cfg.Database.ConnectRetries,
	})
}

func extractOptions() extract.Options {
	return extract.Options{RowTag: cfg.Import.RowTag, HeaderOffset: cfg.Import.HeaderOffset}
}

func importerOptions() (importer.Options, error) {
	loc, err := cfg.Report.Location()
	if err != nil {
		return importer.Options{}, err
	}
	files := make(map[model.Domain]string, len(cfg.Import.Files))
	for domain, name := range cfg.Import.Files {
		files[model.Domain(domain)] = name
	}
	return importer.Options{
		Dir:             cfg.Import.Dir,
		FailedDir:       cfg.Import.FailedDir,
		UnknownDir:      cfg.Import.UnknownDir,
		Files:           files,
		Extract:         extractOptions(),
		DeleteProcessed: cfg.Import.DeleteProcessed,
		Location:        loc,
	}, nil
}

// importEnv holds what a batch pass needs. Callers should defer env.Close().
type importEnv struct {
	Pool     *pgxpool.Pool
	History  *report.History
	Importer *importer.Importer
}

// Close releases the connection pool.
func (e *importEnv) Close() {
	if e.Pool != nil {
		e.Pool.Close()
	}
}

// initImport validates config, loads templates, connects and optionally
// migrates the target schema.
func initImport(ctx context.Context, migrate bool) (*importEnv, error) {
	if err := cfg.Validate("run"); err != nil {
		return nil, err
	}
	store, err := loadTemplates()
	if err != nil {
		return nil, err
	}
	opts, err := importerOptions()
	if err != nil {
		return nil, err
	}

	pool, err := connectPool(ctx)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, eris.Wrap(err, "migrate target schema")
		}
	}

	osfs := afero.NewOsFs()
	history := openHistory(osfs)
	engine := reconcile.NewEngine(pool, cfg.Import.BatchSize)
	return &importEnv{
		Pool:     pool,
		History:  history,
		Importer: importer.New(osfs, engine, store, history, opts),
	}, nil
}
