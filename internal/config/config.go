package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the process configuration. Every key is read from
// ENERGYBILL_<KEY>; a few also honour their conventional unprefixed names.
type Config struct {
	Port        string
	DBDriver    string
	DBDSN       string
	AutoMigrate bool
	CatalogPath string
	LogLevel    string

	SweepSchedule   string
	SweepStaleAfter time.Duration

	// APITokens holds "name:role:bcrypt-hash" entries. Empty disables auth.
	APITokens []string

	DynamoEndpoint    string
	AWSRegion         string
	DynamoTablePrefix string

	AlertWebhookURL  string
	AlertWebhookType string
	AlertMinStale    int

	// SendGrid email channel for stale calculation alerts.
	AlertSendGridAPIKey string
	AlertEmailFromName  string
	AlertEmailFrom      string
	AlertEmailTo        []string
}

var drivers = map[string]bool{
	"memory": true, "sqlite": true, "postgres": true, "postgrespool": true, "dynamodb": true,
}

// FromEnv builds a Config from environment variables, with sane defaults.
func FromEnv() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ENERGYBILL")
	v.AutomaticEnv()

	v.SetDefault("port", "8000")
	v.SetDefault("db_driver", "memory")
	v.SetDefault("db_dsn", "")
	v.SetDefault("auto_migrate", true)
	v.SetDefault("catalog_path", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("sweep_schedule", "*/15 * * * *")
	v.SetDefault("sweep_stale_after", "1h")
	v.SetDefault("api_tokens", "")
	v.SetDefault("dynamodb_endpoint", "")
	v.SetDefault("aws_region", "us-east-1")
	v.SetDefault("dynamodb_table_prefix", "")
	v.SetDefault("alert_webhook_url", "")
	v.SetDefault("alert_webhook_type", "")
	v.SetDefault("alert_min_stale", 1)
	v.SetDefault("alert_sendgrid_api_key", "")
	v.SetDefault("alert_email_from_name", "energybill")
	v.SetDefault("alert_email_from", "")
	v.SetDefault("alert_email_to", "")

	// Unprefixed fallbacks used by container platforms and the AWS SDK.
	_ = v.BindEnv("port", "ENERGYBILL_PORT", "PORT")
	_ = v.BindEnv("aws_region", "ENERGYBILL_AWS_REGION", "AWS_REGION")
	_ = v.BindEnv("dynamodb_endpoint", "ENERGYBILL_DYNAMODB_ENDPOINT", "DYNAMODB_ENDPOINT")

	cfg := Config{
		Port:              v.GetString("port"),
		DBDriver:          strings.ToLower(strings.TrimSpace(v.GetString("db_driver"))),
		DBDSN:             v.GetString("db_dsn"),
		AutoMigrate:       v.GetBool("auto_migrate"),
		CatalogPath:       v.GetString("catalog_path"),
		LogLevel:          v.GetString("log_level"),
		SweepSchedule:     strings.TrimSpace(v.GetString("sweep_schedule")),
		APITokens:         splitList(v.GetString("api_tokens")),
		DynamoEndpoint:    v.GetString("dynamodb_endpoint"),
		AWSRegion:         v.GetString("aws_region"),
		DynamoTablePrefix: v.GetString("dynamodb_table_prefix"),
		AlertWebhookURL:   v.GetString("alert_webhook_url"),
		AlertWebhookType:  v.GetString("alert_webhook_type"),
		AlertMinStale:     v.GetInt("alert_min_stale"),

		AlertSendGridAPIKey: v.GetString("alert_sendgrid_api_key"),
		AlertEmailFromName:  v.GetString("alert_email_from_name"),
		AlertEmailFrom:      v.GetString("alert_email_from"),
		AlertEmailTo:        splitList(v.GetString("alert_email_to")),
	}

	if !drivers[cfg.DBDriver] {
		return Config{}, fmt.Errorf("config: unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	stale, err := time.ParseDuration(v.GetString("sweep_stale_after"))
	if err != nil || stale <= 0 {
		return Config{}, fmt.Errorf("config: invalid SWEEP_STALE_AFTER %q", v.GetString("sweep_stale_after"))
	}
	cfg.SweepStaleAfter = stale

	return cfg, nil
}

// Addr returns the listen address for Port.
func (c Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
