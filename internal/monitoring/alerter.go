package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-match/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertScanFailureRate   AlertType = "scan_failure_rate"
	AlertScanGroupErrors   AlertType = "scan_group_errors"
	AlertConflictBacklog   AlertType = "conflict_backlog"
	AlertScanStuck         AlertType = "scan_stuck"
	minFinishedForFailRate           = 3
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Thresholds configure alert evaluation.
type Thresholds struct {
	// FailureRate alerts when the share of failed scans exceeds it.
	FailureRate float64
	// HighPriorityBacklog alerts when more high-priority conflicts are open.
	// Zero disables the check.
	HighPriorityBacklog int
	// StuckAfter alerts on a running scan without progress for this long.
	StuckAfter time.Duration
}

// Alerter evaluates snapshots against thresholds and delivers alerts to an
// optional webhook.
type Alerter struct {
	thresholds Thresholds
	webhookURL string
	client     *http.Client
}

// NewAlerter creates an Alerter. An empty webhookURL only logs alerts.
func NewAlerter(t Thresholds, webhookURL string) *Alerter {
	return &Alerter{
		thresholds: t,
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt

	finished := snap.ScansCompleted + snap.ScansFailed
	if finished >= minFinishedForFailRate && snap.ScanFailRate > a.thresholds.FailureRate {
		alerts = append(alerts, Alert{
			Type:     AlertScanFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Scan failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.ScanFailRate*100, a.thresholds.FailureRate*100,
				snap.ScansFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.ScanFailRate,
				"threshold":    a.thresholds.FailureRate,
				"failed":       snap.ScansFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if last := snap.LastScan; last != nil {
		if last.Status == model.ScanCompleted && last.Stats.GroupErrors > 0 {
			alerts = append(alerts, Alert{
				Type:     AlertScanGroupErrors,
				Severity: "medium",
				Message: fmt.Sprintf("Last scan %s skipped %d of %d groups after errors",
					last.ID, last.Stats.GroupErrors, last.Stats.GroupsEvaluated),
				Details: map[string]any{
					"job_id":       last.ID,
					"group_errors": last.Stats.GroupErrors,
				},
				Timestamp: now,
			})
		}
		if last.Status == model.ScanRunning && a.thresholds.StuckAfter > 0 && now.Sub(last.UpdatedAt) > a.thresholds.StuckAfter {
			alerts = append(alerts, Alert{
				Type:     AlertScanStuck,
				Severity: "high",
				Message: fmt.Sprintf("Scan %s has made no progress since %s",
					last.ID, last.UpdatedAt.UTC().Format(time.RFC3339)),
				Details:   map[string]any{"job_id": last.ID},
				Timestamp: now,
			})
		}
	}

	high := snap.ConflictsByPriority[model.PriorityHigh]
	if a.thresholds.HighPriorityBacklog > 0 && high > a.thresholds.HighPriorityBacklog {
		alerts = append(alerts, Alert{
			Type:     AlertConflictBacklog,
			Severity: "medium",
			Message: fmt.Sprintf("%d high-priority conflicts awaiting review (threshold %d)",
				high, a.thresholds.HighPriorityBacklog),
			Details: map[string]any{
				"high_priority": high,
				"open_total":    snap.ConflictsOpen,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts logs every alert and delivers it to the webhook when one is
// configured. Returns the number of alerts delivered to the webhook.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	log := zap.L().With(zap.String("component", "monitoring"))
	sent := 0
	for _, alert := range alerts {
		log.Warn("monitoring: alert",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
			zap.String("message", alert.Message),
		)
		if a.webhookURL == "" {
			continue
		}
		if err := a.sendWebhook(ctx, alert); err != nil {
			log.Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
