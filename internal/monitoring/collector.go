package monitoring

import (
	"sort"
	"time"

	"github.com/sells-group/stock-importer/internal/importer"
	"github.com/sells-group/stock-importer/internal/report"
)

// MetricsSnapshot holds a point-in-time view of import health.
type MetricsSnapshot struct {
	// Import reports within the lookback window.
	Total      int `json:"total"`
	Succeeded  int `json:"succeeded"`
	WithErrors int `json:"completed_with_errors"`
	Failed     int `json:"failed"`
	Unknown    int `json:"unknown"`
	// Interrupted counts imports stopped by shutdown; the file is retried.
	Interrupted int     `json:"interrupted"`
	FailRate    float64 `json:"fail_rate"`
	RowErrors   int     `json:"row_errors"`

	// FailedFiles lists distinct files with a failed report, unknown and
	// interrupted files excluded.
	FailedFiles []string `json:"failed_files,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RecordSource abstracts the report history read by the collector.
type RecordSource interface {
	Load() []report.Record
}

// Collector gathers metrics from the report history.
type Collector struct {
	source RecordSource
	now    func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(source RecordSource) *Collector {
	return &Collector{source: source, now: time.Now}
}

// Collect summarizes the reports finished within the lookback window.
func (c *Collector) Collect(lookbackHours int) *MetricsSnapshot {
	now := c.now()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now.UTC(),
	}

	window := time.Duration(lookbackHours) * time.Hour
	failed := make(map[string]struct{})
	for _, rec := range report.FilterRetention(c.source.Load(), window, now) {
		snap.Total++
		snap.RowErrors += len(rec.RowErrors)
		switch rec.Status {
		case report.StatusSuccess:
			snap.Succeeded++
		case report.StatusCompletedWithErrors:
			snap.WithErrors++
		case report.StatusFailed:
			if rec.Error != nil {
				switch rec.Error.Kind {
				case importer.KindUnknownFile:
					snap.Unknown++
					continue
				case importer.KindCancelled:
					snap.Interrupted++
					continue
				}
			}
			snap.Failed++
			failed[rec.File] = struct{}{}
		}
	}

	if finished := snap.Succeeded + snap.WithErrors + snap.Failed; finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
	}
	for f := range failed {
		snap.FailedFiles = append(snap.FailedFiles, f)
	}
	sort.Strings(snap.FailedFiles)

	return snap
}
