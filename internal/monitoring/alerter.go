package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dialer-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertDeadLetter        AlertType = "dead_letter"
	AlertConstructTimeout  AlertType = "construct_timeout"
	AlertSweepExhausted    AlertType = "sweep_exhausted"
	AlertDeadLetterBacklog AlertType = "dead_letter_backlog"
	AlertTaskFailure       AlertType = "task_failure"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notifier delivers a single alert.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// Alerter posts alerts to a Slack incoming webhook. With no webhook
// configured it only logs.
type Alerter struct {
	cfg    config.SlackConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given Slack config.
func NewAlerter(cfg config.SlackConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if a.cfg.DeadLetterThreshold > 0 && snap.DeadLetters >= a.cfg.DeadLetterThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertDeadLetterBacklog,
			Severity: "high",
			Message: fmt.Sprintf("%d send chunks waiting in the dead-letter queue (threshold %d)",
				snap.DeadLetters, a.cfg.DeadLetterThreshold),
			Details:   map[string]any{"depth": snap.DeadLetters},
			Timestamp: now,
		})
	}

	if snap.Failed > 0 || snap.PartialFailure > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertTaskFailure,
			Severity: "high",
			Message: fmt.Sprintf("%s: %d dialer task(s) failed, %d partially failed",
				snap.TaskDate.Format("2006-01-02"), snap.Failed, snap.PartialFailure),
			Details: map[string]any{
				"failed":          snap.Failed,
				"partial_failure": snap.PartialFailure,
				"total":           snap.Total,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// Notify sends one alert. A missing webhook is not an error.
func (a *Alerter) Notify(ctx context.Context, alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}
	if a.cfg.WebhookURL == "" {
		zap.L().Warn("monitoring: alert (slack disabled)",
			zap.String("type", string(alert.Type)),
			zap.String("message", alert.Message),
		)
		return nil
	}
	if err := a.sendWebhook(ctx, alert); err != nil {
		return err
	}
	zap.L().Info("monitoring: alert sent",
		zap.String("type", string(alert.Type)),
		zap.String("severity", alert.Severity),
	)
	return nil
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.Notify(ctx, alert); err != nil {
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

type slackMessage struct {
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text"`
}

// slackText renders an alert as Slack mrkdwn. Details are sorted by key.
func slackText(alert Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, ":rotating_light: *[%s] %s*\n%s", strings.ToUpper(alert.Severity), alert.Type, alert.Message)
	keys := make([]string, 0, len(alert.Details))
	for k := range alert.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n• %s: `%v`", k, alert.Details[k])
	}
	return b.String()
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(slackMessage{Channel: a.cfg.Channel, Text: slackText(alert)})
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
