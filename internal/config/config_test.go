package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	// empty values count as unset
	t.Setenv("PORT", "")
	t.Setenv("AWS_REGION", "")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, ":8000", cfg.Addr())
	assert.Equal(t, "memory", cfg.DBDriver)
	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "*/15 * * * *", cfg.SweepSchedule)
	assert.Equal(t, time.Hour, cfg.SweepStaleAfter)
	assert.Empty(t, cfg.APITokens)
	assert.Equal(t, "us-east-1", cfg.AWSRegion)
	assert.Empty(t, cfg.AlertWebhookURL)
	assert.Equal(t, 1, cfg.AlertMinStale)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("ENERGYBILL_DB_DRIVER", "SQLite")
	t.Setenv("ENERGYBILL_DB_DSN", "/tmp/bills.db")
	t.Setenv("ENERGYBILL_AUTO_MIGRATE", "false")
	t.Setenv("ENERGYBILL_SWEEP_STALE_AFTER", "30m")
	t.Setenv("ENERGYBILL_SWEEP_SCHEDULE", "300")
	t.Setenv("ENERGYBILL_API_TOKENS", "ops:operator:$2a$10$abc , viewer:viewer:$2a$10$def,")
	t.Setenv("ENERGYBILL_DYNAMODB_TABLE_PREFIX", "dev_")
	t.Setenv("ENERGYBILL_ALERT_WEBHOOK_URL", "https://hooks.slack.com/services/T/B/x")
	t.Setenv("ENERGYBILL_ALERT_MIN_STALE", "3")
	t.Setenv("ENERGYBILL_ALERT_SENDGRID_API_KEY", "SG.key")
	t.Setenv("ENERGYBILL_ALERT_EMAIL_FROM", "bills@example.org")
	t.Setenv("ENERGYBILL_ALERT_EMAIL_TO", "ops@example.org, oncall@example.org")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "/tmp/bills.db", cfg.DBDSN)
	assert.False(t, cfg.AutoMigrate)
	assert.Equal(t, 30*time.Minute, cfg.SweepStaleAfter)
	assert.Equal(t, "300", cfg.SweepSchedule)
	assert.Equal(t, []string{"ops:operator:$2a$10$abc", "viewer:viewer:$2a$10$def"}, cfg.APITokens)
	assert.Equal(t, "dev_", cfg.DynamoTablePrefix)
	assert.Equal(t, "https://hooks.slack.com/services/T/B/x", cfg.AlertWebhookURL)
	assert.Equal(t, 3, cfg.AlertMinStale)
	assert.Equal(t, "SG.key", cfg.AlertSendGridAPIKey)
	assert.Equal(t, "energybill", cfg.AlertEmailFromName)
	assert.Equal(t, "bills@example.org", cfg.AlertEmailFrom)
	assert.Equal(t, []string{"ops@example.org", "oncall@example.org"}, cfg.AlertEmailTo)
}

func TestFromEnv_UnprefixedFallbacks(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("AWS_REGION", "sa-east-1")
	t.Setenv("DYNAMODB_ENDPOINT", "http://localhost:8000")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr())
	assert.Equal(t, "sa-east-1", cfg.AWSRegion)
	assert.Equal(t, "http://localhost:8000", cfg.DynamoEndpoint)
}

func TestFromEnv_PrefixedWinsOverFallback(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENERGYBILL_PORT", "127.0.0.1:7000")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr())
}

func TestFromEnv_Invalid(t *testing.T) {
	t.Run("driver", func(t *testing.T) {
		t.Setenv("ENERGYBILL_DB_DRIVER", "mongo")
		_, err := FromEnv()
		assert.ErrorContains(t, err, "DB_DRIVER")
	})
	t.Run("stale after", func(t *testing.T) {
		t.Setenv("ENERGYBILL_SWEEP_STALE_AFTER", "soon")
		_, err := FromEnv()
		assert.ErrorContains(t, err, "SWEEP_STALE_AFTER")
	})
}
