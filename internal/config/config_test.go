package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "harvest.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Harvest.CheckCompatibility)
	assert.Equal(t, uint32(3), cfg.Harvest.BreakerFailures)
	assert.Equal(t, 60, cfg.Harvest.BreakerTimeoutSecs)
	assert.Equal(t, 3, cfg.Harvest.ImportAttempts)
	assert.Equal(t, 500, cfg.Harvest.ImportBackoffMs)
	assert.Equal(t, 120, cfg.Fetch.TimeoutSecs)
	assert.Equal(t, 3, cfg.Fetch.MaxRetries)
	assert.Equal(t, "sensor-harvest-events", cfg.Events.Topic)
	assert.Empty(t, cfg.Events.Brokers)
	assert.InDelta(t, 0.25, cfg.Monitoring.FailureRateThreshold, 0.001)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.Equal(t, 6, cfg.Monitoring.StaleRunHours)
	assert.Empty(t, cfg.Services)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  database_url: /var/lib/harvest/harvest.db
services:
  - id: sos-1
    label: Coastal SOS
    database_url: postgres://sos@db/sos
    schema: coastal
  - id: sos-2
    database_url: postgres://sos@db/sos
    schema: offshore
harvest:
  temp_dir: /tmp/h
  default_services: [sos-1]
schedules:
  - name: buoys
    cron: "0 * * * *"
    source: /data/buoys
    store_kind: csv
    mapping_file: buoys.yaml
    services: [sos-1, sos-2]
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/harvest/harvest.db", cfg.Store.DatabaseURL)
	require.Len(t, cfg.Services, 2)
	assert.Equal(t, "Coastal SOS", cfg.Services[0].Label)
	assert.Equal(t, "offshore", cfg.Services[1].Schema)
	assert.Equal(t, "/tmp/h", cfg.Harvest.TempDir)
	assert.Equal(t, []string{"sos-1"}, cfg.Harvest.DefaultServices)
	require.Len(t, cfg.Schedules, 1)
	assert.Equal(t, []string{"sos-1", "sos-2"}, cfg.Schedules[0].Services)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values
	assert.Equal(t, 120, cfg.Fetch.TimeoutSecs)

	svc, ok := cfg.Service("sos-2")
	assert.True(t, ok)
	assert.Equal(t, "offshore", svc.Schema)
	_, ok = cfg.Service("missing")
	assert.False(t, ok)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	t.Setenv("HARVEST_LOG_LEVEL", "warn")
	t.Setenv("HARVEST_FETCH_MAX_RETRIES", "7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 7, cfg.Fetch.MaxRetries)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("HARVEST_HARVEST_TEMP_DIR=/srv/harvest\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("HARVEST_HARVEST_TEMP_DIR") }) //nolint:errcheck

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/srv/harvest", cfg.Harvest.TempDir)
}

func TestLoadInvalid(t *testing.T) {
	dir := chdirTemp(t)
	yaml := `
log:
  format: xml
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: validate")
}

func TestLoadFile(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "coastal.yml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  database_url: coastal.db\n"), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "coastal.db", cfg.Store.DatabaseURL)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

// validDefaults returns a Config that passes validation.
func validDefaults() *Config {
	return &Config{
		Store:      StoreConfig{Driver: "sqlite", DatabaseURL: "harvest.db"},
		Services:   []ServiceConfig{{ID: "sos-1", DatabaseURL: "postgres://db/sos", Schema: "coastal"}},
		Harvest:    HarvestConfig{TempDir: "/tmp/h", BreakerFailures: 3, BreakerTimeoutSecs: 60, ImportAttempts: 3, ImportBackoffMs: 500},
		Fetch:      FetchConfig{TimeoutSecs: 30},
		Monitoring: MonitoringConfig{FailureRateThreshold: 0.25, LookbackWindowHours: 24},
		Log:        LogConfig{Level: "info", Format: "json"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Store.Driver = "postgres" }, "Driver"},
		{"service without schema", func(c *Config) { c.Services[0].Schema = "" }, "Schema"},
		{"duplicate service", func(c *Config) {
			c.Services = append(c.Services, c.Services[0])
		}, `duplicate service id "sos-1"`},
		{"unknown default service", func(c *Config) {
			c.Harvest.DefaultServices = []string{"sos-9"}
		}, `unknown service "sos-9"`},
		{"unknown scheduled service", func(c *Config) {
			c.Schedules = []ScheduleConfig{{Name: "s", Cron: "* * * * *", Source: "/d", StoreKind: "csv", Services: []string{"x"}}}
		}, `schedule s: unknown service "x"`},
		{"bad store kind", func(c *Config) {
			c.Schedules = []ScheduleConfig{{Name: "s", Cron: "* * * * *", Source: "/d", StoreKind: "shp"}}
		}, "StoreKind"},
		{"brokers without topic", func(c *Config) { c.Events.Brokers = []string{"kafka:9092"} }, "Topic"},
		{"threshold out of range", func(c *Config) { c.Monitoring.FailureRateThreshold = 1.5 }, "FailureRateThreshold"},
		{"bad webhook", func(c *Config) { c.Monitoring.WebhookURL = "not a url" }, "WebhookURL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buoys.yaml")
	body := `
separator: ";"
main_column: DATE
date_format: "dd/MM/yyyy HH:mm"
measure_columns: [TEMP, SAL]
extract_uom: true
observation_type: Timeserie
foi_column:
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	params, err := LoadMapping(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"separator":        ";",
		"main_column":      "DATE",
		"date_format":      "dd/MM/yyyy HH:mm",
		"measure_columns":  "TEMP,SAL",
		"extract_uom":      "true",
		"observation_type": "Timeserie",
	}, params)
}

func TestLoadMapping_Errors(t *testing.T) {
	_, err := LoadMapping(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read mapping")

	path := filepath.Join(t.TempDir(), "nested.yaml")
	require.NoError(t, os.WriteFile(path, []byte("main_column:\n  name: DATE\n"), 0o644))
	_, err = LoadMapping(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"main_column"`)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
