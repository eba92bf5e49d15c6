package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/stock-importer/internal/importer"
	"github.com/sells-group/stock-importer/internal/model"
	"github.com/sells-group/stock-importer/internal/report"
)

type staticSource []report.Record

func (s staticSource) Load() []report.Record { return s }

var collectNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func finishedAgo(d time.Duration) *string {
	s := collectNow.Add(-d).Format(time.RFC3339)
	return &s
}

func newTestCollector(records ...report.Record) *Collector {
	c := NewCollector(staticSource(records))
	c.now = func() time.Time { return collectNow }
	return c
}

func TestCollector_Collect(t *testing.T) {
	c := newTestCollector(
		report.Record{File: "prod_dop.xml", Status: report.StatusSuccess, FinishedAt: finishedAgo(time.Hour)},
		report.Record{
			File: "warehouses.xml", Status: report.StatusCompletedWithErrors, FinishedAt: finishedAgo(2 * time.Hour),
			RowErrors: []model.RowError{{Line: 7, Message: "a"}, {Line: 9, Message: "b"}},
		},
		report.Record{
			File: "stock_prices.xml", Status: report.StatusFailed, FinishedAt: finishedAgo(3 * time.Hour),
			Error: &report.Failure{Kind: "PgError", Message: "boom"},
		},
		report.Record{
			File: "stock_prices.xml", Status: report.StatusFailed, FinishedAt: finishedAgo(4 * time.Hour),
			Error: &report.Failure{Kind: importer.KindMalformedXML, Message: "bad"},
		},
		report.Record{
			File: "junk.xml", Status: report.StatusFailed, FinishedAt: finishedAgo(time.Hour),
			Error: &report.Failure{Kind: importer.KindUnknownFile, Message: "unmapped"},
		},
		report.Record{
			File: "prod_dop.xml", Status: report.StatusFailed, FinishedAt: finishedAgo(time.Hour),
			Error: &report.Failure{Kind: importer.KindCancelled, Message: "context canceled"},
		},
	)

	snap := c.Collect(24)
	assert.Equal(t, 6, snap.Total)
	assert.Equal(t, 1, snap.Succeeded)
	assert.Equal(t, 1, snap.WithErrors)
	assert.Equal(t, 2, snap.Failed)
	assert.Equal(t, 1, snap.Unknown)
	assert.Equal(t, 1, snap.Interrupted)
	assert.Equal(t, 2, snap.RowErrors)
	assert.InDelta(t, 0.5, snap.FailRate, 0.001)
	assert.Equal(t, []string{"stock_prices.xml"}, snap.FailedFiles)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, collectNow, snap.CollectedAt)
}

func TestCollector_Collect_LookbackWindow(t *testing.T) {
	c := newTestCollector(
		report.Record{File: "a.xml", Status: report.StatusSuccess, FinishedAt: finishedAgo(time.Hour)},
		report.Record{File: "b.xml", Status: report.StatusFailed, FinishedAt: finishedAgo(5 * time.Hour)},
		report.Record{File: "c.xml", Status: report.StatusFailed},
	)

	snap := c.Collect(2)
	assert.Equal(t, 1, snap.Total)
	assert.Equal(t, 0, snap.Failed)
	assert.Zero(t, snap.FailRate)
	assert.Empty(t, snap.FailedFiles)
}

func TestCollector_Collect_Empty(t *testing.T) {
	snap := newTestCollector().Collect(24)
	assert.Equal(t, 0, snap.Total)
	assert.Zero(t, snap.FailRate)
}
