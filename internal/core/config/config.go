package config

import (
	"time"

	"github.com/velora-io/dispatch/internal/core/domain"
	redisclient "github.com/velora-io/dispatch/internal/infra/redis"
	"github.com/velora-io/dispatch/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Gateways []GatewayConfig    `yaml:"gateways"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
	Health   HealthConfig       `yaml:"health"`
	Speed    SpeedConfig        `yaml:"speed"`
	Alert    AlertConfig        `yaml:"alert"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// GatewayConfig holds settings for one external gateway.
type GatewayConfig struct {
	ID   domain.GatewayID `yaml:"id"`
	Name string           `yaml:"name"`
}

// HealthConfig holds the gateway health transition thresholds. Zero
// values fall back to the shipped policy defaults.
type HealthConfig struct {
	WindowSize                  int     `yaml:"window_size"`
	OfflineConsecutiveFailures  int     `yaml:"offline_consecutive_failures"`
	OfflineSuccessRate          float64 `yaml:"offline_success_rate"`
	DegradedConsecutiveFailures int     `yaml:"degraded_consecutive_failures"`
	DegradedSuccessRate         float64 `yaml:"degraded_success_rate"`
	MinSamples                  int     `yaml:"min_samples"`
	RecoverySuccesses           int     `yaml:"recovery_successes"`
}

// SpeedConfig holds plan-cache settings.
type SpeedConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// AlertConfig holds notification settings.
type AlertConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}
