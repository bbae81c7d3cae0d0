package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/pkg-warden/warden/pkg/errors"
)

// Config is the top-level configuration struct for the daemon.
// It holds settings for logging, the API, telemetry collection, detection,
// validation, backups, mitigation and alerting. Tags are used by Viper to
// map YAML keys to struct fields. The loaded value is immutable: components
// receive it (or one of its sub-structs) at construction and never reload
// configuration mid-operation.
type Config struct {
	LogLevel   string           `mapstructure:"log_level"`
	APIPort    string           `mapstructure:"api_port"`
	Monitors   []MonitorConfig  `mapstructure:"monitors"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Detection  DetectionConfig  `mapstructure:"detection"`
	Validation ValidationConfig `mapstructure:"validation"`
	Backup     BackupConfig     `mapstructure:"backup"`
	Mitigation MitigationConfig `mapstructure:"mitigation"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
}

// MonitorConfig defines the configuration for a single monitor.
// It includes the monitor's name, whether it's enabled, its run interval,
// and an optional free-form settings block passed to monitors that accept
// configuration.
type MonitorConfig struct {
	Name     string                 `mapstructure:"name"`
	Enabled  bool                   `mapstructure:"enabled"`
	Interval string                 `mapstructure:"interval"`
	Config   map[string]interface{} `mapstructure:"config"`
}

// GetMonitorConfig returns the configuration block for the named monitor,
// or nil when no block with that name exists.
func (c *Config) GetMonitorConfig(name string) *MonitorConfig {
	for i := range c.Monitors {
		if c.Monitors[i].Name == name {
			return &c.Monitors[i]
		}
	}
	return nil
}

// TelemetryConfig controls which packages are sampled and where samples go.
type TelemetryConfig struct {
	Packages     []string `mapstructure:"packages"`
	PackageRoots []string `mapstructure:"package_roots"`
	StorePath    string   `mapstructure:"store_path"`
}

// DetectionConfig holds the windowing and model parameters.
type DetectionConfig struct {
	WindowSize  int      `mapstructure:"window_size"`
	Features    []string `mapstructure:"features"`
	Threshold   float64  `mapstructure:"threshold"`
	KernelSize  int      `mapstructure:"kernel_size"`
	HiddenSize  int      `mapstructure:"hidden_size"`
	GRULayers   int      `mapstructure:"gru_layers"`
	WeightsPath string   `mapstructure:"weights_path"`
}

// ValidationConfig holds the registry endpoint and the trusted source list.
type ValidationConfig struct {
	RegistryURL    string   `mapstructure:"registry_url"`
	AllowedSources []string `mapstructure:"allowed_sources"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
}

// BackupConfig holds the backup ledger location and its history bound.
type BackupConfig struct {
	Dir        string `mapstructure:"dir"`
	MaxHistory int    `mapstructure:"max_history"`
}

// MitigationConfig maps risk tiers to ordered response actions and carries
// the notification channels. Threshold and action-list keys use the tier
// names high_risk, medium_risk and low_risk.
type MitigationConfig struct {
	Thresholds      RiskThresholds      `mapstructure:"thresholds"`
	ResponseActions map[string][]string `mapstructure:"response_actions"`
	Notification    NotificationConfig  `mapstructure:"notification"`
	PinDir          string              `mapstructure:"pin_dir"`
}

// RiskThresholds are the ascending score cutoffs for the three risk tiers.
type RiskThresholds struct {
	HighRisk   float64 `mapstructure:"high_risk"`
	MediumRisk float64 `mapstructure:"medium_risk"`
	LowRisk    float64 `mapstructure:"low_risk"`
}

// NotificationConfig controls the notify action's channels.
type NotificationConfig struct {
	Email   EmailConfig      `mapstructure:"email"`
	Logging LogChannelConfig `mapstructure:"logging"`
}

type EmailConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Recipients []string `mapstructure:"recipients"`
}

type LogChannelConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// AlertingConfig points at the downstream SIEM collector. An empty endpoint
// disables the HTTP sink; the log sink is always on.
type AlertingConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// LoadConfig reads the configuration from a YAML file (e.g., config.yaml) and
// environment variables. It uses Viper for robust configuration management,
// allowing for defaults and environment variable overrides. A missing config
// file is not an error: every key has a hardcoded fallback default, so the
// daemon always starts.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")
	v.AddConfigPath(".")                // Search in current directory
	v.AddConfigPath("/etc/pkg-warden/") // Search in /etc/pkg-warden/

	// Set default values
	v.SetDefault("log_level", "info")
	v.SetDefault("api_port", "8080")

	v.SetDefault("monitors", []map[string]interface{}{
		{"name": "packages", "enabled": true, "interval": "60s"},
	})

	v.SetDefault("telemetry.packages", []string{})
	v.SetDefault("telemetry.package_roots", []string{})
	v.SetDefault("telemetry.store_path", "data/metrics.json")

	v.SetDefault("detection.window_size", 10)
	v.SetDefault("detection.features", []string{
		"package_size",
		"dependency_count",
		"update_frequency",
		"size_change",
		"dependency_volatility",
		"resource_intensity",
	})
	v.SetDefault("detection.threshold", 0.8)
	v.SetDefault("detection.kernel_size", 7)
	v.SetDefault("detection.hidden_size", 64)
	v.SetDefault("detection.gru_layers", 2)
	v.SetDefault("detection.weights_path", "models/detector_weights.json")

	v.SetDefault("validation.registry_url", "https://pypi.org")
	v.SetDefault("validation.allowed_sources", []string{"pypi.org", "github.com", "gitlab.com"})
	v.SetDefault("validation.timeout_seconds", 30)

	v.SetDefault("backup.dir", "backups")
	v.SetDefault("backup.max_history", 5)

	v.SetDefault("mitigation.thresholds.high_risk", 0.8)
	v.SetDefault("mitigation.thresholds.medium_risk", 0.6)
	v.SetDefault("mitigation.thresholds.low_risk", 0.3)
	v.SetDefault("mitigation.response_actions.high_risk", []string{"rollback", "block_updates", "notify"})
	v.SetDefault("mitigation.response_actions.medium_risk", []string{"validate", "notify"})
	v.SetDefault("mitigation.response_actions.low_risk", []string{"notify"})
	v.SetDefault("mitigation.notification.email.enabled", false)
	v.SetDefault("mitigation.notification.email.recipients", []string{})
	v.SetDefault("mitigation.notification.logging.enabled", true)
	v.SetDefault("mitigation.notification.logging.path", "logs/mitigation.log")
	v.SetDefault("mitigation.pin_dir", "/etc/apt/preferences.d")

	v.SetDefault("alerting.endpoint", "")
	v.SetDefault("alerting.timeout_seconds", 10)

	// Read environment variables
	v.SetEnvPrefix("WARDEN")                           // Look for WARDEN_ prefix
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // Replace dots with underscores for nested keys
	v.AutomaticEnv()                                   // Automatically bind environment variables to config keys

	// Read configuration file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			errors.NewConfigError("config", err, nil).Log(log.Logger)
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
