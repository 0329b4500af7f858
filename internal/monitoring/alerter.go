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

	"github.com/sells-group/ledger-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertStalledDocuments AlertType = "stalled_documents"
	AlertPostingFailures  AlertType = "posting_failures"
)

// maxListed caps the document ids included in one alert.
const maxListed = 20

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
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if n := len(snap.Stalled); n > 0 {
		ids := make([]string, 0, min(n, maxListed))
		for _, s := range snap.Stalled[:min(n, maxListed)] {
			ids = append(ids, s.DocumentID)
		}
		alerts = append(alerts, Alert{
			Type:     AlertStalledDocuments,
			Severity: "high",
			Message: fmt.Sprintf("%d document(s) have not advanced in %s",
				n, snap.StalledAfter.Round(time.Minute)),
			Details: map[string]any{
				"count":        n,
				"document_ids": ids,
			},
			Timestamp: now,
		})
	}

	if snap.PostingFailed > a.cfg.MaxPostingFailures {
		alerts = append(alerts, Alert{
			Type:     AlertPostingFailures,
			Severity: "high",
			Message: fmt.Sprintf("%d document(s) failed to post to the ERP (threshold %d)",
				snap.PostingFailed, a.cfg.MaxPostingFailures),
			Details: map[string]any{
				"posting_failed":  snap.PostingFailed,
				"needs_attention": snap.NeedsAttention,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts logs every alert and delivers it to the webhook when one is
// configured. Returns the number of alerts delivered to the webhook.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	for _, alert := range alerts {
		zap.L().Warn("monitoring: alert",
			zap.String("type", string(alert.Type)),
			zap.String("message", alert.Message),
		)
	}
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
