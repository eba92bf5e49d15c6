// Package report tracks the outcome of one file import and persists recent
// outcomes as a JSON history.
package report

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/stock-importer/internal/model"
)

// Status is the lifecycle state of an ImportReport.
type Status string

const (
	StatusPending             Status = "pending"
	StatusSuccess             Status = "success"
	StatusCompletedWithErrors Status = "completed_with_errors"
	StatusFailed              Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool { return s != StatusPending }

// Failure describes the fatal error that ended an import.
type Failure struct {
	Kind    string `json:"type"`
	Message string `json:"message"`
	Stack   string `json:"traceback"`
}

// Kinder is implemented by errors that name their own failure kind.
type Kinder interface {
	Kind() string
}

type kindedError struct {
	kind string
	err  error
}

func (e *kindedError) Error() string { return e.err.Error() }
func (e *kindedError) Unwrap() error { return e.err }
func (e *kindedError) Kind() string  { return e.kind }

// WithKind tags err with an explicit failure kind.
func WithKind(kind string, err error) error {
	if err == nil {
		return nil
	}
	return &kindedError{kind: kind, err: err}
}

// Kind names the failure class of err: an explicit Kinder wins, then
// Postgres errors, then the Go type of the root cause.
func Kind(err error) string {
	var k Kinder
	if errors.As(err, &k) {
		return k.Kind()
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return "PgError"
	}
	name := strings.TrimPrefix(fmt.Sprintf("%T", eris.Cause(err)), "*")
	if strings.HasPrefix(name, "eris.") {
		return "Error"
	}
	return name
}

// Option configures an ImportReport.
type Option func(*ImportReport)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *ImportReport) { r.now = now }
}

// WithLocation sets the timezone timestamps are rendered in.
func WithLocation(loc *time.Location) Option {
	return func(r *ImportReport) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// WithRunID groups reports produced by the same batch run.
func WithRunID(id string) Option {
	return func(r *ImportReport) { r.runID = id }
}

// NewRunID returns a fresh batch run identifier.
func NewRunID() string { return uuid.NewString() }

// ImportReport is the per-file outcome. It is owned by a single import run
// and not safe for concurrent use.
type ImportReport struct {
	runID      string
	file       string
	infoDate   string
	status     Status
	startedAt  time.Time
	finishedAt time.Time
	parsed     int
	metrics    map[string]int64
	rowErrors  []model.RowError
	failure    *Failure

	now func() time.Time
	loc *time.Location
}

// New creates a pending report for file, stamped with the start time.
func New(file string, opts ...Option) *ImportReport {
	r := &ImportReport{
		file:    file,
		status:  StatusPending,
		metrics: map[string]int64{},
		now:     time.Now,
		loc:     time.UTC,
	}
	for _, o := range opts {
		o(r)
	}
	if r.runID == "" {
		r.runID = NewRunID()
	}
	r.startedAt = r.now()
	return r
}

func (r *ImportReport) File() string      { return r.file }
func (r *ImportReport) Status() Status    { return r.status }
func (r *ImportReport) Parsed() int       { return r.parsed }
func (r *ImportReport) Failure() *Failure { return r.failure }

// RowErrors returns the recorded row errors in order.
func (r *ImportReport) RowErrors() []model.RowError { return r.rowErrors }

// Metrics returns the sync counters.
func (r *ImportReport) Metrics() map[string]int64 { return r.metrics }

// SetInfoDate records the source-declared as-of date.
func (r *ImportReport) SetInfoDate(date string) { r.infoDate = date }

// SetParsed records the number of materialized rows.
func (r *ImportReport) SetParsed(n int) { r.parsed = n }

// SetMetrics records the sync counters.
func (r *ImportReport) SetMetrics(m map[string]int64) {
	r.metrics = make(map[string]int64, len(m))
	for k, v := range m {
		r.metrics[k] = v
	}
}

// AddRowError appends a row error. Row errors never change the status on
// their own.
func (r *ImportReport) AddRowError(line int, message string) {
	r.rowErrors = append(r.rowErrors, model.RowError{Line: line, Message: message})
	zap.L().Warn("row error",
		zap.String("file", r.file),
		zap.Int("line", line),
		zap.String("message", message),
	)
}

// AddRowErrors appends errs in order.
func (r *ImportReport) AddRowErrors(errs []model.RowError) {
	for _, e := range errs {
		r.AddRowError(e.Line, e.Message)
	}
}

// SetSuccess finishes a pending report. It becomes completed_with_errors if
// any row error was recorded.
func (r *ImportReport) SetSuccess() error {
	if r.status.Terminal() {
		return eris.Errorf("report: %s: already %s", r.file, r.status)
	}
	r.finishedAt = r.now()
	r.status = StatusSuccess
	if len(r.rowErrors) > 0 {
		r.status = StatusCompletedWithErrors
	}
	return nil
}

// SetFailed finishes a pending report as failed with err as the fatal
// descriptor. Finished reports are left unchanged.
func (r *ImportReport) SetFailed(err error) {
	if r.status.Terminal() {
		zap.L().Warn("report already finished, failure not recorded",
			zap.String("file", r.file),
			zap.String("status", string(r.status)),
			zap.Error(err),
		)
		return
	}
	if err == nil {
		err = eris.New("report: failed without error")
	}
	r.finishedAt = r.now()
	r.status = StatusFailed
	r.failure = &Failure{
		Kind:    Kind(err),
		Message: err.Error(),
		Stack:   eris.ToString(err, true),
	}
}

// Record is the serialized, immutable form of a report.
type Record struct {
	RunID          string           `json:"run_id,omitempty"`
	InfoUpdateDate *string          `json:"info_update_date"`
	File           string           `json:"file"`
	Status         Status           `json:"status"`
	StartedAt      string           `json:"started_at"`
	FinishedAt     *string          `json:"finished_at"`
	ProductsParsed int              `json:"products_parsed"`
	Metrics        map[string]int64 `json:"metrics"`
	RowErrors      []model.RowError `json:"row_errors"`
	Error          *Failure         `json:"error"`
}

// Record snapshots the report for history.
func (r *ImportReport) Record() Record {
	rec := Record{
		RunID:          r.runID,
		File:           r.file,
		Status:         r.status,
		StartedAt:      r.format(r.startedAt),
		ProductsParsed: r.parsed,
		Metrics:        make(map[string]int64, len(r.metrics)),
		RowErrors:      append([]model.RowError{}, r.rowErrors...),
	}
	for k, v := range r.metrics {
		rec.Metrics[k] = v
	}
	if r.infoDate != "" {
		d := r.infoDate
		rec.InfoUpdateDate = &d
	}
	if !r.finishedAt.IsZero() {
		f := r.format(r.finishedAt)
		rec.FinishedAt = &f
	}
	if r.failure != nil {
		f := *r.failure
		rec.Error = &f
	}
	return rec
}

func (r *ImportReport) format(t time.Time) string {
	return t.In(r.loc).Truncate(time.Second).Format(time.RFC3339)
}
