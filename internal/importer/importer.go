// Package importer runs one batch pass over the import directory: route each
// XML file to its domain, extract, sync, report and dispose of the file.
package importer

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sells-group/stock-importer/internal/extract"
	"github.com/sells-group/stock-importer/internal/model"
	"github.com/sells-group/stock-importer/internal/reconcile"
	"github.com/sells-group/stock-importer/internal/report"
)

// Failure kinds recorded for errors that carry no type of their own.
const (
	KindUnknownFile  = "UnknownFile"
	KindMalformedXML = "MalformedXML"
	KindSchema       = "SchemaError"
	KindCancelled    = "Cancelled"
)

// Syncer applies one extracted document to the database.
type Syncer interface {
	Sync(ctx context.Context, schema reconcile.Schema, batch reconcile.Batch, flags model.ControlFlags) (reconcile.Result, error)
}

// Schemas resolves a domain's target-schema descriptor.
type Schemas interface {
	Schema(domain model.Domain) (reconcile.Schema, error)
}

// Options configures an Importer.
type Options struct {
	Dir        string
	FailedDir  string
	UnknownDir string
	// Files maps each domain to the file name it is read from.
	Files           map[model.Domain]string
	Extract         extract.Options
	DeleteProcessed bool
	Location        *time.Location
}

// Summary is the outcome of one Run.
type Summary struct {
	RunID      string          `json:"run_id"`
	Processed  int             `json:"processed"`
	Succeeded  int             `json:"succeeded"`
	WithErrors int             `json:"completed_with_errors"`
	Failed     int             `json:"failed"`
	Unknown    int             `json:"unknown"`
	Reports    []report.Record `json:"reports"`
}

// Importer processes files one at a time. Each file owns exactly one
// transaction; nothing is shared across files.
type Importer struct {
	fs      afero.Fs
	syncer  Syncer
	schemas Schemas
	history *report.History
	opts    Options
	routes  map[string]model.Domain
	now     func() time.Time
}

// New creates an Importer.
func New(fsys afero.Fs, syncer Syncer, schemas Schemas, history *report.History, opts Options) *Importer {
	routes := make(map[string]model.Domain, len(opts.Files))
	for domain, name := range opts.Files {
		routes[strings.ToLower(name)] = domain
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Importer{
		fs:      fsys,
		syncer:  syncer,
		schemas: schemas,
		history: history,
		opts:    opts,
		routes:  routes,
		now:     time.Now,
	}
}

// Discover lists the XML files waiting in the import directory, sorted by name.
func (im *Importer) Discover() ([]string, error) {
	entries, err := afero.ReadDir(im.fs, im.opts.Dir)
	if err != nil {
		return nil, eris.Wrapf(err, "importer: list %s", im.opts.Dir)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".xml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Run processes every discovered file, appends one report per file to the
// history and saves it once. Failed files are reported, not returned as
// errors; the returned error covers disposition, history failures and
// cancellation of ctx.
func (im *Importer) Run(ctx context.Context) (*Summary, error) {
	log := zap.L().With(zap.String("component", "importer"))

	names, err := im.Discover()
	if err != nil {
		return nil, err
	}

	sum := &Summary{RunID: report.NewRunID()}
	if len(names) == 0 {
		log.Warn("no xml files found", zap.String("dir", im.opts.Dir))
		return sum, nil
	}
	log.Info("xml files discovered", zap.Int("count", len(names)), zap.String("run_id", sum.RunID))

	var errs error
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}

		rep, dispErr := im.processFile(ctx, sum.RunID, name)
		errs = multierr.Append(errs, dispErr)

		sum.Processed++
		switch rep.Status() {
		case report.StatusSuccess:
			sum.Succeeded++
		case report.StatusCompletedWithErrors:
			sum.WithErrors++
		default:
			sum.Failed++
			if f := rep.Failure(); f != nil && f.Kind == KindUnknownFile {
				sum.Unknown++
			}
		}
		sum.Reports = append(sum.Reports, rep.Record())
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		errs = multierr.Append(errs, eris.Wrap(ctxErr, "importer: run interrupted"))
	}

	if im.history != nil && len(sum.Reports) > 0 {
		if err := im.history.Append(sum.Reports...); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	log.Info("import run complete",
		zap.String("run_id", sum.RunID),
		zap.Int("processed", sum.Processed),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("with_errors", sum.WithErrors),
		zap.Int("failed", sum.Failed),
		zap.Int("unknown", sum.Unknown),
	)
	return sum, errs
}

// processFile imports one file and disposes of it. It always returns a
// finished report; the error is only about moving or deleting the file.
// A file interrupted by cancellation stays in the import directory.
func (im *Importer) processFile(ctx context.Context, runID, name string) (*report.ImportReport, error) {
	path := filepath.Join(im.opts.Dir, name)
	rep := report.New(name,
		report.WithRunID(runID),
		report.WithLocation(im.opts.Location),
		report.WithClock(im.now),
	)
	log := zap.L().With(zap.String("component", "importer"), zap.String("file", name))

	domain, ok := im.routes[strings.ToLower(name)]
	if !ok {
		log.Warn("unknown file, moving aside", zap.String("dir", im.opts.UnknownDir))
		rep.SetFailed(report.WithKind(KindUnknownFile, eris.Errorf("importer: no domain mapped for %s", name)))
		return rep, im.move(path, im.opts.UnknownDir)
	}
	log = log.With(zap.String("domain", string(domain)))
	log.Info("import started")

	if err := im.importFile(ctx, rep, domain, path); err != nil {
		if ctx.Err() != nil {
			log.Warn("import interrupted, file left for the next run", zap.Error(err))
			rep.SetFailed(report.WithKind(KindCancelled, err))
			return rep, nil
		}
		log.Error("import failed", zap.Error(err))
		rep.SetFailed(err)
		return rep, im.move(path, im.opts.FailedDir)
	}

	log.Info("import finished",
		zap.String("status", string(rep.Status())),
		zap.Int("parsed", rep.Parsed()),
		zap.Int("row_errors", len(rep.RowErrors())),
	)
	if !im.opts.DeleteProcessed {
		return rep, nil
	}
	if err := im.fs.Remove(path); err != nil {
		return rep, eris.Wrapf(err, "importer: remove %s", path)
	}
	return rep, nil
}

// importFile runs extraction then sync for one file. Extraction completes
// before any database work starts.
func (im *Importer) importFile(ctx context.Context, rep *report.ImportReport, domain model.Domain, path string) error {
	schema, err := im.schemas.Schema(domain)
	if err != nil {
		return report.WithKind(KindSchema, err)
	}
	fn, err := extract.For(domain)
	if err != nil {
		return report.WithKind(KindSchema, err)
	}

	doc, err := extract.File(im.fs, path, fn, im.opts.Extract)
	if err != nil {
		if errors.Is(err, extract.ErrMalformedXML) {
			return report.WithKind(KindMalformedXML, err)
		}
		return err
	}

	rep.SetInfoDate(doc.InfoDate)
	rep.AddRowErrors(doc.Errors)
	rep.SetParsed(len(doc.Rows))

	if len(doc.Rows) == 0 {
		zap.L().Warn("no valid rows, sync skipped",
			zap.String("file", rep.File()),
			zap.Int("lines", doc.Lines),
		)
		return rep.SetSuccess()
	}

	batch := reconcile.Batch{
		reconcile.SourceRows:     model.Values(doc.Rows),
		reconcile.SourceChildren: model.Values(doc.Children),
	}
	res, err := im.syncer.Sync(ctx, schema, batch, doc.Flags)
	if err != nil {
		return err
	}

	rep.SetMetrics(res)
	return rep.SetSuccess()
}

// move relocates path into dir, replacing any earlier file of the same name.
func (im *Importer) move(path, dir string) error {
	if dir == "" {
		return nil
	}
	if err := im.fs.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "importer: create %s", dir)
	}
	dst := filepath.Join(dir, filepath.Base(path))
	if err := im.fs.Rename(path, dst); err != nil {
		return eris.Wrapf(err, "importer: move %s to %s", path, dir)
	}
	zap.L().Info("file moved", zap.String("from", path), zap.String("to", dst))
	return nil
}
