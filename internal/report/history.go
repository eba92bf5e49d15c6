package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// DefaultRetention is the history window used when none is configured.
const DefaultRetention = 24 * time.Hour

// History is the JSON report document on disk.
type History struct {
	fs        afero.Fs
	path      string
	retention time.Duration
	now       func() time.Time
}

// NewHistory creates a History stored at path on fsys.
func NewHistory(fsys afero.Fs, path string, retention time.Duration) *History {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &History{fs: fsys, path: path, retention: retention, now: time.Now}
}

// Path returns the history document path.
func (h *History) Path() string { return h.path }

// Load reads the history. A missing or unreadable document yields an empty
// history rather than an error.
func (h *History) Load() []Record {
	b, err := afero.ReadFile(h.fs, h.path)
	if err != nil {
		if !os.IsNotExist(err) {
			zap.L().Warn("report history unreadable, starting empty", zap.String("path", h.path), zap.Error(err))
		}
		return []Record{}
	}
	var records []Record
	if err := json.Unmarshal(b, &records); err != nil {
		zap.L().Warn("report history corrupt, starting empty", zap.String("path", h.path), zap.Error(err))
		return []Record{}
	}
	if records == nil {
		records = []Record{}
	}
	return records
}

// Recent returns the history entries within the retention window.
func (h *History) Recent() []Record {
	return FilterRetention(h.Load(), h.retention, h.now())
}

// Append adds records to the stored history, prunes it and saves it.
func (h *History) Append(records ...Record) error {
	all := append(h.Load(), records...)
	return h.Save(all)
}

// Save prunes records to the retention window and atomically replaces the
// document.
func (h *History) Save(records []Record) error {
	kept := FilterRetention(records, h.retention, h.now())

	b, err := json.MarshalIndent(kept, "", "  ")
	if err != nil {
		return eris.Wrap(err, "report: marshal history")
	}

	dir := filepath.Dir(h.path)
	if err := h.fs.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "report: create dir %s", dir)
	}

	tmp, err := afero.TempFile(h.fs, dir, filepath.Base(h.path)+".*.tmp")
	if err != nil {
		return eris.Wrap(err, "report: create temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = h.fs.Remove(tmpName)
		return eris.Wrap(err, "report: write history")
	}
	if err := tmp.Close(); err != nil {
		_ = h.fs.Remove(tmpName)
		return eris.Wrap(err, "report: close history")
	}
	if err := h.fs.Rename(tmpName, h.path); err != nil {
		_ = h.fs.Remove(tmpName)
		return eris.Wrap(err, "report: replace history")
	}

	zap.L().Debug("report history saved",
		zap.String("path", h.path),
		zap.Int("kept", len(kept)),
		zap.Int("dropped", len(records)-len(kept)),
	)
	return nil
}

// FilterRetention keeps records finished strictly within window before now.
// Records without a finish time or with an unparsable one are dropped.
func FilterRetention(records []Record, window time.Duration, now time.Time) []Record {
	cutoff := now.Add(-window)
	kept := make([]Record, 0, len(records))
	for _, rec := range records {
		if rec.FinishedAt == nil {
			continue
		}
		finished, ok := parseTimestamp(*rec.FinishedAt)
		if !ok {
			continue
		}
		if finished.After(cutoff) {
			kept = append(kept, rec)
		}
	}
	return kept
}

// parseTimestamp accepts RFC 3339 and zone-less timestamps, which are taken
// as local time.
func parseTimestamp(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.Local); err == nil {
		return t, true
	}
	return time.Time{}, false
}
