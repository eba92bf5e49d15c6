package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/stock-importer/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate   AlertType = "import_failure_rate"
	AlertImportFailure AlertType = "import_failure"
	AlertUnknownFile   AlertType = "unknown_file"
	AlertRowErrors     AlertType = "row_errors"
)

// webhookRate caps alert posts per second.
const webhookRate = rate.Limit(2)

// minFinished is the number of finished imports below which the failure
// rate is not evaluated.
const minFinished = 3

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg     config.MonitoringConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(webhookRate, 1),
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.Succeeded + snap.WithErrors + snap.Failed
	if finished >= minFinished && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Import failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.Failed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.Failed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if snap.Failed > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertImportFailure,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d import(s) failed in last %dh: %s",
				snap.Failed, snap.LookbackHours, strings.Join(snap.FailedFiles, ", "),
			),
			Details: map[string]any{
				"failed_count": snap.Failed,
				"files":        snap.FailedFiles,
			},
			Timestamp: now,
		})
	}

	if snap.Unknown > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertUnknownFile,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d unrecognized file(s) quarantined in last %dh",
				snap.Unknown, snap.LookbackHours,
			),
			Details: map[string]any{
				"unknown_count": snap.Unknown,
			},
			Timestamp: now,
		})
	}

	if a.cfg.RowErrorThreshold > 0 && snap.RowErrors > a.cfg.RowErrorThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRowErrors,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d rejected rows exceed threshold %d in last %dh",
				snap.RowErrors, a.cfg.RowErrorThreshold, snap.LookbackHours,
			),
			Details: map[string]any{
				"row_errors": snap.RowErrors,
				"threshold":  a.cfg.RowErrorThreshold,
				"reports":    snap.Total,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.limiter.Wait(ctx); err != nil {
			zap.L().Warn("monitoring: alert delivery interrupted", zap.Error(err))
			break
		}
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
