package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	// Create a temporary config file for testing
	testConfigContent := `
log_level: debug
api_port: "9090"
monitors:
  - name: packages
    enabled: true
    interval: 30s
    config:
      packages: ["left-pad"]
telemetry:
  packages: ["requests", "numpy"]
  store_path: /var/lib/pkg-warden/metrics.json
detection:
  window_size: 12
  threshold: 0.75
validation:
  allowed_sources: ["pypi.org", "internal.example.com"]
backup:
  dir: /var/lib/pkg-warden/backups
  max_history: 3
mitigation:
  thresholds:
    high_risk: 0.9
    medium_risk: 0.7
    low_risk: 0.4
  response_actions:
    high_risk: ["rollback", "notify"]
  notification:
    email:
      enabled: true
      recipients: ["secops@example.com"]
`

	err := os.WriteFile("config.yaml", []byte(testConfigContent), 0644)
	assert.NoError(t, err)
	defer os.Remove("config.yaml") // Clean up the test config file

	cfg, err := LoadConfig()
	assert.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "9090", cfg.APIPort)
	assert.Len(t, cfg.Monitors, 1)
	assert.Equal(t, "packages", cfg.Monitors[0].Name)
	assert.True(t, cfg.Monitors[0].Enabled)
	assert.Equal(t, "30s", cfg.Monitors[0].Interval)
	assert.Contains(t, cfg.Monitors[0].Config, "packages")

	monitorCfg := cfg.GetMonitorConfig("packages")
	assert.NotNil(t, monitorCfg)
	assert.Equal(t, "30s", monitorCfg.Interval)
	assert.Nil(t, cfg.GetMonitorConfig("no_such_monitor"))

	assert.Equal(t, []string{"requests", "numpy"}, cfg.Telemetry.Packages)
	assert.Equal(t, "/var/lib/pkg-warden/metrics.json", cfg.Telemetry.StorePath)

	assert.Equal(t, 12, cfg.Detection.WindowSize)
	assert.Equal(t, 0.75, cfg.Detection.Threshold)
	// Keys absent from the file keep their defaults.
	assert.Equal(t, 7, cfg.Detection.KernelSize)
	assert.Equal(t, 64, cfg.Detection.HiddenSize)

	assert.Equal(t, []string{"pypi.org", "internal.example.com"}, cfg.Validation.AllowedSources)
	assert.Equal(t, "https://pypi.org", cfg.Validation.RegistryURL)

	assert.Equal(t, "/var/lib/pkg-warden/backups", cfg.Backup.Dir)
	assert.Equal(t, 3, cfg.Backup.MaxHistory)

	assert.Equal(t, 0.9, cfg.Mitigation.Thresholds.HighRisk)
	assert.Equal(t, 0.7, cfg.Mitigation.Thresholds.MediumRisk)
	assert.Equal(t, 0.4, cfg.Mitigation.Thresholds.LowRisk)
	assert.Equal(t, []string{"rollback", "notify"}, cfg.Mitigation.ResponseActions["high_risk"])
	assert.True(t, cfg.Mitigation.Notification.Email.Enabled)
	assert.Equal(t, []string{"secops@example.com"}, cfg.Mitigation.Notification.Email.Recipients)
	assert.True(t, cfg.Mitigation.Notification.Logging.Enabled)
	assert.Equal(t, "logs/mitigation.log", cfg.Mitigation.Notification.Logging.Path)

	// Test with environment variable override
	os.Setenv("WARDEN_API_PORT", "9091")
	defer os.Unsetenv("WARDEN_API_PORT")

	cfg, err = LoadConfig()
	assert.NoError(t, err)
	assert.Equal(t, "9091", cfg.APIPort)
}

func TestLoadConfigDefaults(t *testing.T) {
	// No config file present: every key falls back to its built-in default
	// and loading never fails.
	wd, err := os.Getwd()
	assert.NoError(t, err)
	defer os.Chdir(wd)
	assert.NoError(t, os.Chdir(t.TempDir()))

	cfg, err := LoadConfig()
	assert.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "8080", cfg.APIPort)

	// The packages monitor is scheduled out of the box.
	assert.Len(t, cfg.Monitors, 1)
	assert.Equal(t, "packages", cfg.Monitors[0].Name)
	assert.True(t, cfg.Monitors[0].Enabled)
	assert.Equal(t, "60s", cfg.Monitors[0].Interval)

	assert.Equal(t, 10, cfg.Detection.WindowSize)
	assert.Equal(t, 0.8, cfg.Detection.Threshold)
	assert.Equal(t, []string{
		"package_size",
		"dependency_count",
		"update_frequency",
		"size_change",
		"dependency_volatility",
		"resource_intensity",
	}, cfg.Detection.Features)

	assert.Equal(t, []string{"pypi.org", "github.com", "gitlab.com"}, cfg.Validation.AllowedSources)
	assert.Equal(t, 30, cfg.Validation.TimeoutSeconds)

	assert.Equal(t, "backups", cfg.Backup.Dir)
	assert.Equal(t, 5, cfg.Backup.MaxHistory)

	assert.Equal(t, 0.8, cfg.Mitigation.Thresholds.HighRisk)
	assert.Equal(t, 0.6, cfg.Mitigation.Thresholds.MediumRisk)
	assert.Equal(t, 0.3, cfg.Mitigation.Thresholds.LowRisk)
	assert.Equal(t, []string{"rollback", "block_updates", "notify"}, cfg.Mitigation.ResponseActions["high_risk"])
	assert.Equal(t, []string{"validate", "notify"}, cfg.Mitigation.ResponseActions["medium_risk"])
	assert.Equal(t, []string{"notify"}, cfg.Mitigation.ResponseActions["low_risk"])
	assert.False(t, cfg.Mitigation.Notification.Email.Enabled)
	assert.Equal(t, "/etc/apt/preferences.d", cfg.Mitigation.PinDir)

	assert.Equal(t, "", cfg.Alerting.Endpoint)
	assert.Equal(t, 10, cfg.Alerting.TimeoutSeconds)
}
