package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

// EmailConfig configures the SendGrid channel. It is enabled when an API
// key, a sender and at least one recipient are set.
type EmailConfig struct {
	APIKey      string
	FromName    string
	FromAddress string
	To          []string
	// BaseURL overrides https://api.sendgrid.com.
	BaseURL string
}

func (c EmailConfig) enabled() bool {
	return c.APIKey != "" && c.FromAddress != "" && len(c.To) > 0
}

func (a *Alerter) sendEmail(ctx context.Context, alert StaleAlert) error {
	cfg := a.cfg.Email
	client := sendgrid.NewSendClient(cfg.APIKey)
	if cfg.BaseURL != "" {
		client.Request.BaseURL = strings.TrimRight(cfg.BaseURL, "/") + "/v3/mail/send"
	}

	resp, err := client.SendWithContext(ctx, staleEmail(cfg, alert))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: %d %s", resp.StatusCode, resp.Body)
	}
	a.log.Info("stale calculation email sent", zap.Int("stale", alert.Count), zap.Int("recipients", len(cfg.To)))
	return nil
}

func staleEmail(cfg EmailConfig, alert StaleAlert) *mail.SGMailV3 {
	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(cfg.FromName, cfg.FromAddress))
	m.Subject = fmt.Sprintf("[energybill] %d energy calculations still pending", alert.Count)

	p := mail.NewPersonalization()
	for _, to := range cfg.To {
		p.AddTos(mail.NewEmail("", to))
	}
	m.AddPersonalizations(p)

	body := fmt.Sprintf("%d calculations have had no total for more than %s (job %s, %s).\n\n",
		alert.Count, alert.StaleAfter, alert.JobName, alert.Timestamp.Format(time.RFC3339))
	body += listed(alert, func(c StaleCalculation) string {
		return fmt.Sprintf("- %s house %s since %s\n", c.ID, c.HouseID, c.CreatedAt.Format(time.RFC3339))
	})
	m.AddContent(mail.NewContent("text/plain", body))
	return m
}
