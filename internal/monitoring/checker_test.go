package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/stock-importer/internal/config"
	"github.com/sells-group/stock-importer/internal/report"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{
		CheckIntervalSecs:    1,
		LookbackWindowHours:  24,
		FailureRateThreshold: 0.10,
	}
	checker := NewChecker(newTestCollector(), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	checker := NewChecker(newTestCollector(), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	assert.NotNil(t, checker)

	// Zero interval falls back to the default; a cancelled ctx returns at once.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}

func TestChecker_Check_SendsAlerts(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	cfg := config.MonitoringConfig{
		WebhookURL:           ts.URL,
		LookbackWindowHours:  24,
		FailureRateThreshold: 0.10,
	}
	collector := newTestCollector(
		report.Record{File: "prod_dop.xml", Status: report.StatusFailed, FinishedAt: finishedAgo(time.Hour),
			Error: &report.Failure{Kind: "PgError", Message: "deadlock"}},
	)

	sent := NewChecker(collector, NewAlerter(cfg), cfg).Check(context.Background())
	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(1), received.Load())
}

func TestChecker_Check_Healthy(t *testing.T) {
	cfg := config.MonitoringConfig{WebhookURL: "http://127.0.0.1:0", LookbackWindowHours: 24}
	collector := newTestCollector(
		report.Record{File: "prod_dop.xml", Status: report.StatusSuccess, FinishedAt: finishedAgo(time.Hour)},
	)

	assert.Equal(t, 0, NewChecker(collector, NewAlerter(cfg), cfg).Check(context.Background()))
}
