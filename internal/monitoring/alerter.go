package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/equity-research/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertAbortRate   AlertType = "abort_rate"
	AlertStaleReview AlertType = "stale_review"
)

// minFinishedRuns is the sample size below which the abort rate is not alerted on.
const minFinishedRuns = 5

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
	cfg  config.MonitoringConfig
	http *resty.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg: cfg,
		http: resty.New().
			SetTimeout(10*time.Second).
			SetHeader("Content-Type", "application/json"),
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.RunsDone + snap.RunsAborted
	if finished >= minFinishedRuns && a.cfg.AbortRateThreshold > 0 && snap.AbortRate > a.cfg.AbortRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertAbortRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run abort rate %.1f%% exceeds threshold %.1f%% (%d aborted / %d finished in last %dh)",
				snap.AbortRate*100, a.cfg.AbortRateThreshold*100,
				snap.RunsAborted, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"abort_rate": snap.AbortRate,
				"threshold":  a.cfg.AbortRateThreshold,
				"aborted":    snap.RunsAborted,
				"finished":   finished,
			},
			Timestamp: now,
		})
	}

	if len(snap.StaleReviews) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertStaleReview,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d run(s) waiting for review longer than %dh",
				len(snap.StaleReviews), a.cfg.StaleReviewHours,
			),
			Details: map[string]any{
				"run_ids": snap.StaleReviews,
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

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(alert).
		Post(a.cfg.WebhookURL)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	if resp.StatusCode() >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode())
	}
	return nil
}
