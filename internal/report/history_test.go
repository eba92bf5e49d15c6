package report

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func finishedAt(t time.Time) *string {
	s := t.Format(time.RFC3339)
	return &s
}

func TestFilterRetention(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	records := []Record{
		{File: "a.xml", FinishedAt: finishedAt(now.Add(-1 * time.Hour))},
		{File: "b.xml", FinishedAt: finishedAt(now.Add(-25 * time.Hour))},
		{File: "c.xml", FinishedAt: finishedAt(now.Add(-48 * time.Hour))},
	}

	kept := FilterRetention(records, 24*time.Hour, now)
	require.Len(t, kept, 1)
	assert.Equal(t, "a.xml", kept[0].File)
}

func TestFilterRetention_DropsMissingAndBadTimestamps(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	bad := "yesterday"
	local := now.Add(-time.Hour).In(time.Local).Format("2006-01-02T15:04:05")
	records := []Record{
		{File: "pending.xml"},
		{File: "bad.xml", FinishedAt: &bad},
		{File: "naive.xml", FinishedAt: &local},
		{File: "offset.xml", FinishedAt: finishedAt(now.Add(-2 * time.Hour).In(moscow))},
	}

	kept := FilterRetention(records, 24*time.Hour, now)
	require.Len(t, kept, 2)
	assert.Equal(t, "naive.xml", kept[0].File)
	assert.Equal(t, "offset.xml", kept[1].File)
}

func newTestHistory(fs afero.Fs, now time.Time) *History {
	h := NewHistory(fs, "reports/report.json", 24*time.Hour)
	h.now = func() time.Time { return now }
	return h
}

func TestHistory_LoadMissingAndCorrupt(t *testing.T) {
	fs := afero.NewMemMapFs()
	h := newTestHistory(fs, time.Now())
	assert.Empty(t, h.Load())

	require.NoError(t, afero.WriteFile(fs, "reports/report.json", []byte("{not json"), 0o644))
	assert.Empty(t, h.Load())
	assert.NotNil(t, h.Load())
}

func TestHistory_AppendPrunesAndPersists(t *testing.T) {
	fs := afero.NewMemMapFs()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	h := newTestHistory(fs, now)

	require.NoError(t, h.Save([]Record{
		{File: "old.xml", Status: StatusSuccess, FinishedAt: finishedAt(now.Add(-30 * time.Hour))},
		{File: "recent.xml", Status: StatusSuccess, FinishedAt: finishedAt(now.Add(-3 * time.Hour))},
	}))
	require.NoError(t, h.Append(Record{File: "new.xml", Status: StatusFailed, FinishedAt: finishedAt(now)}))

	got := h.Load()
	require.Len(t, got, 2)
	assert.Equal(t, "recent.xml", got[0].File)
	assert.Equal(t, "new.xml", got[1].File)
	assert.Equal(t, StatusFailed, got[1].Status)

	// Only the document remains; temp files are renamed away.
	entries, err := afero.ReadDir(fs, "reports")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "report.json", entries[0].Name())
}

func TestHistory_SaveEmptyWritesArray(t *testing.T) {
	fs := afero.NewMemMapFs()
	h := newTestHistory(fs, time.Now())
	require.NoError(t, h.Save(nil))

	b, err := afero.ReadFile(fs, "reports/report.json")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(b))
}

func TestHistory_Recent(t *testing.T) {
	fs := afero.NewMemMapFs()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	h := newTestHistory(fs, now)
	require.NoError(t, h.Save([]Record{{File: "a.xml", FinishedAt: finishedAt(now.Add(-time.Hour))}}))

	h.now = func() time.Time { return now.Add(24 * time.Hour) }
	assert.Empty(t, h.Recent())
}

func TestNewHistory_DefaultRetention(t *testing.T) {
	h := NewHistory(afero.NewMemMapFs(), "r.json", 0)
	assert.Equal(t, DefaultRetention, h.retention)
}
