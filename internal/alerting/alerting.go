// Package alerting posts stale calculation reports to a chat or generic
// webhook and, optionally, by email through SendGrid.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config holds alerting configuration.
type Config struct {
	// WebhookURL is a Slack, Discord or custom endpoint. Empty disables alerts.
	WebhookURL string
	// WebhookType is "slack", "discord" or "generic". Empty detects it from the URL.
	WebhookType string
	// MinStale is the number of stale calculations needed to alert.
	MinStale int
	Timeout  time.Duration
	Email    EmailConfig
}

func (c Config) webhookType() string {
	if c.WebhookType != "" {
		return strings.ToLower(c.WebhookType)
	}
	switch {
	case strings.Contains(c.WebhookURL, "slack.com"):
		return "slack"
	case strings.Contains(c.WebhookURL, "discord.com"):
		return "discord"
	default:
		return "generic"
	}
}

// Alerter sends alerts to the configured webhook.
type Alerter struct {
	cfg    Config
	kind   string
	client *http.Client
	log    *zap.Logger
}

func NewAlerter(cfg Config, log *zap.Logger) *Alerter {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MinStale <= 0 {
		cfg.MinStale = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Alerter{
		cfg:    cfg,
		kind:   cfg.webhookType(),
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log.Named("alerting"),
	}
}

// Enabled reports whether a webhook or an email channel is configured.
func (a *Alerter) Enabled() bool {
	return a != nil && (a.cfg.WebhookURL != "" || a.cfg.Email.enabled())
}

// StaleAlert describes one sweep that found calculations without a total.
type StaleAlert struct {
	JobName      string
	Count        int
	StaleAfter   time.Duration
	Calculations []StaleCalculation
	Timestamp    time.Time
}

type StaleCalculation struct {
	ID        string    `json:"id"`
	HouseID   string    `json:"house_id"`
	CreatedAt time.Time `json:"created_at"`
}

// maxListed caps the calculations named in a single message.
const maxListed = 20

// SendStaleAlert delivers alert to every configured channel unless the count
// is below the threshold. A failing channel does not stop the others.
func (a *Alerter) SendStaleAlert(ctx context.Context, alert StaleAlert) error {
	if !a.Enabled() {
		return nil
	}
	if alert.Count < a.cfg.MinStale {
		a.log.Debug("stale count below threshold, not alerting",
			zap.Int("stale", alert.Count), zap.Int("threshold", a.cfg.MinStale))
		return nil
	}

	var errs []error
	if a.cfg.WebhookURL != "" {
		if err := a.postWebhook(ctx, alert); err != nil {
			errs = append(errs, fmt.Errorf("webhook: %w", err))
		}
	}
	if a.cfg.Email.enabled() {
		if err := a.sendEmail(ctx, alert); err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *Alerter) postWebhook(ctx context.Context, alert StaleAlert) error {
	var payload []byte
	var err error
	switch a.kind {
	case "slack":
		payload, err = slackPayload(alert)
	case "discord":
		payload, err = discordPayload(alert)
	default:
		payload, err = genericPayload(alert)
	}
	if err != nil {
		return fmt.Errorf("build payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	a.log.Info("stale calculation alert sent", zap.Int("stale", alert.Count), zap.String("webhook_type", a.kind))
	return nil
}

func listed(alert StaleAlert, bullet func(StaleCalculation) string) string {
	var b strings.Builder
	for i, c := range alert.Calculations {
		if i == maxListed {
			fmt.Fprintf(&b, "… and %d more\n", len(alert.Calculations)-maxListed)
			break
		}
		b.WriteString(bullet(c))
	}
	return b.String()
}

func slackPayload(alert StaleAlert) ([]byte, error) {
	list := listed(alert, func(c StaleCalculation) string {
		return fmt.Sprintf("• `%s` house *%s* since %s\n", c.ID, c.HouseID, c.CreatedAt.Format(time.RFC3339))
	})
	return json.Marshal(map[string]any{
		"blocks": []map[string]any{
			{
				"type": "header",
				"text": map[string]string{
					"type": "plain_text",
					"text": fmt.Sprintf(":warning: %d energy calculations still pending", alert.Count),
				},
			},
			{
				"type": "section",
				"fields": []map[string]string{
					{"type": "mrkdwn", "text": fmt.Sprintf("*Job:*\n%s", alert.JobName)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Older than:*\n%s", alert.StaleAfter)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Timestamp:*\n%s", alert.Timestamp.Format(time.RFC3339))},
				},
			},
			{
				"type": "section",
				"text": map[string]string{"type": "mrkdwn", "text": "*Calculations:*\n" + list},
			},
		},
	})
}

func discordPayload(alert StaleAlert) ([]byte, error) {
	list := listed(alert, func(c StaleCalculation) string {
		return fmt.Sprintf("• **%s** house %s since %s\n", c.ID, c.HouseID, c.CreatedAt.Format(time.RFC3339))
	})
	return json.Marshal(map[string]any{
		"embeds": []map[string]any{
			{
				"title":       "Stale energy calculations: " + alert.JobName,
				"description": fmt.Sprintf("%d calculations pending for more than %s", alert.Count, alert.StaleAfter),
				"color":       16776960,
				"fields": []map[string]any{
					{"name": "Calculations", "value": list, "inline": false},
				},
				"timestamp": alert.Timestamp.Format(time.RFC3339),
			},
		},
	})
}

func genericPayload(alert StaleAlert) ([]byte, error) {
	return json.Marshal(map[string]any{
		"alert_type":         "stale_pending_calculations",
		"job_name":           alert.JobName,
		"stale_count":        alert.Count,
		"stale_after_sec":    int64(alert.StaleAfter.Seconds()),
		"timestamp":          alert.Timestamp.Format(time.RFC3339),
		"stale_calculations": alert.Calculations,
	})
}
