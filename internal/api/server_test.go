package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/stock-importer/internal/report"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type staticReports []report.Record

func (s staticReports) Recent() []report.Record { return s }

func ts(s string) *string { return &s }

func testServer() *Server {
	return NewServer(staticReports{
		{File: "prod_dop.xml", Status: report.StatusSuccess, FinishedAt: ts("2026-03-01T10:00:00+03:00"), RunID: "r1"},
		{File: "warehouses.xml", Status: report.StatusFailed, FinishedAt: ts("2026-03-01T10:00:05+03:00"), RunID: "r1",
			Error: &report.Failure{Kind: "PgError", Message: "deadlock detected"}},
		{File: "prod_dop.xml", Status: report.StatusCompletedWithErrors, FinishedAt: ts("2026-03-01T11:00:00+03:00"), RunID: "r2"},
	}, []string{"*"})
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, testServer(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListReports(t *testing.T) {
	rec := get(t, testServer(), "/reports")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []report.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 3)
}

func TestListReports_StatusFilter(t *testing.T) {
	rec := get(t, testServer(), "/reports?status=failed")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []report.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "warehouses.xml", got[0].File)
	assert.Equal(t, "PgError", got[0].Error.Kind)
}

func TestListReports_UnknownStatus(t *testing.T) {
	rec := get(t, testServer(), "/reports?status=exploded")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown status")
}

func TestListReports_EmptyHistory(t *testing.T) {
	rec := get(t, NewServer(staticReports{}, nil), "/reports")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestLatestReport(t *testing.T) {
	rec := get(t, testServer(), "/reports/prod_dop.xml")
	require.Equal(t, http.StatusOK, rec.Code)

	var got report.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "r2", got.RunID)
	assert.Equal(t, report.StatusCompletedWithErrors, got.Status)
}

func TestLatestReport_NotFound(t *testing.T) {
	rec := get(t, testServer(), "/reports/stock_prices.xml")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/reports", nil)
	req.Header.Set("Origin", "https://monitor.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	testServer().ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
