package alerting

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleAlert(n int) StaleAlert {
	a := StaleAlert{
		JobName:    "sweep_stale_pending",
		Count:      n,
		StaleAfter: time.Hour,
		Timestamp:  time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}
	for i := 0; i < n; i++ {
		a.Calculations = append(a.Calculations, StaleCalculation{ID: "c" + string(rune('a'+i)), HouseID: "h1"})
	}
	return a
}

func TestWebhookType(t *testing.T) {
	assert.Equal(t, "slack", Config{WebhookURL: "https://hooks.slack.com/services/x"}.webhookType())
	assert.Equal(t, "discord", Config{WebhookURL: "https://discord.com/api/webhooks/x"}.webhookType())
	assert.Equal(t, "generic", Config{WebhookURL: "https://example.org/hook"}.webhookType())
	assert.Equal(t, "slack", Config{WebhookURL: "https://example.org", WebhookType: "Slack"}.webhookType())
}

func TestSendStaleAlert_Generic(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
	}))
	defer srv.Close()

	a := NewAlerter(Config{WebhookURL: srv.URL}, zap.NewNop())
	require.NoError(t, a.SendStaleAlert(context.Background(), sampleAlert(2)))

	assert.Equal(t, "stale_pending_calculations", got["alert_type"])
	assert.Equal(t, float64(2), got["stale_count"])
	assert.Equal(t, float64(3600), got["stale_after_sec"])
	assert.Len(t, got["stale_calculations"], 2)
}

func TestSendStaleAlert_BelowThreshold(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	a := NewAlerter(Config{WebhookURL: srv.URL, MinStale: 5}, zap.NewNop())
	require.NoError(t, a.SendStaleAlert(context.Background(), sampleAlert(2)))
	assert.False(t, called)
}

func TestSendStaleAlert_Disabled(t *testing.T) {
	var a *Alerter
	assert.False(t, a.Enabled())
	assert.NoError(t, NewAlerter(Config{}, nil).SendStaleAlert(context.Background(), sampleAlert(3)))
}

func TestSendStaleAlert_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewAlerter(Config{WebhookURL: srv.URL}, zap.NewNop()).SendStaleAlert(context.Background(), sampleAlert(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestSlackPayload_TruncatesList(t *testing.T) {
	alert := sampleAlert(maxListed + 3)
	raw, err := slackPayload(alert)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "and 3 more")
}

func TestSendStaleAlert_Email(t *testing.T) {
	var (
		auth string
		path string
		got  struct {
			Personalizations []struct {
				To []struct {
					Email string `json:"email"`
				} `json:"to"`
			} `json:"personalizations"`
			From struct {
				Email string `json:"email"`
			} `json:"from"`
			Subject string `json:"subject"`
			Content []struct {
				Type  string `json:"type"`
				Value string `json:"value"`
			} `json:"content"`
		}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	a := NewAlerter(Config{Email: EmailConfig{
		APIKey:      "SG.test",
		FromName:    "energybill",
		FromAddress: "bills@example.org",
		To:          []string{"ops@example.org", "oncall@example.org"},
		BaseURL:     srv.URL,
	}}, zap.NewNop())
	require.True(t, a.Enabled())
	require.NoError(t, a.SendStaleAlert(context.Background(), sampleAlert(2)))

	assert.Equal(t, "Bearer SG.test", auth)
	assert.Equal(t, "/v3/mail/send", path)
	assert.Equal(t, "bills@example.org", got.From.Email)
	assert.Equal(t, "[energybill] 2 energy calculations still pending", got.Subject)
	require.Len(t, got.Personalizations, 1)
	assert.Len(t, got.Personalizations[0].To, 2)
	require.Len(t, got.Content, 1)
	assert.Contains(t, got.Content[0].Value, "ca house h1")
}

func TestSendStaleAlert_EmailFailureDoesNotBlockWebhook(t *testing.T) {
	hooked := false
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hooked = true }))
	defer hook.Close()
	sg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer sg.Close()

	a := NewAlerter(Config{
		WebhookURL: hook.URL,
		Email:      EmailConfig{APIKey: "bad", FromAddress: "a@example.org", To: []string{"b@example.org"}, BaseURL: sg.URL},
	}, zap.NewNop())

	err := a.SendStaleAlert(context.Background(), sampleAlert(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email: sendgrid error: 401")
	assert.True(t, hooked)
}

func TestEmailConfig_Enabled(t *testing.T) {
	assert.False(t, EmailConfig{APIKey: "k", FromAddress: "a@example.org"}.enabled())
	assert.True(t, EmailConfig{APIKey: "k", FromAddress: "a@example.org", To: []string{"b@example.org"}}.enabled())
}
