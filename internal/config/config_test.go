package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"counterstats/internal/stats"
)

var envKeys = []string{
	"APP_DATABASE_URL",
	"APP_LISTEN_ADDR",
	"APP_ADMIN_USER",
	"APP_ADMIN_PASSWORD",
	"APP_INGEST_API_KEY",
	"APP_DEFAULT_GRANULARITY",
	"APP_QUERY_TIMEOUT",
	"APP_GAUGE_INTERVAL",
	"APP_MAX_PERIODS",
	"APP_COUNTERS_FILE",
	"APP_SELF_REPORT",
	"APP_LOG_LEVEL",
	"APP_ENV",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_DATABASE_URL", "memory://")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, defaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, defaultAdminUser, cfg.AdminUser)
	assert.Equal(t, defaultAdminPassword, cfg.AdminPassword)
	assert.Equal(t, stats.Week, cfg.DefaultGranularity)
	assert.Equal(t, defaultQueryTimeout, cfg.QueryTimeout)
	assert.Equal(t, defaultGaugeInterval, cfg.GaugeInterval)
	assert.Equal(t, defaultMaxPeriods, cfg.MaxPeriods)
	assert.Equal(t, defaultLogLevel, cfg.LogLevel)
	assert.Equal(t, defaultEnvironment, cfg.Environment)
	assert.False(t, cfg.SelfReport)
	assert.Empty(t, cfg.IngestAPIKey)
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_DATABASE_URL", "postgres://stats@localhost/stats")
	t.Setenv("APP_LISTEN_ADDR", ":9090")
	t.Setenv("APP_INGEST_API_KEY", "cs_test")
	t.Setenv("APP_DEFAULT_GRANULARITY", "Day")
	t.Setenv("APP_QUERY_TIMEOUT", "3s")
	t.Setenv("APP_GAUGE_INTERVAL", "0s")
	t.Setenv("APP_MAX_PERIODS", "500")
	t.Setenv("APP_COUNTERS_FILE", "counters.yaml")
	t.Setenv("APP_SELF_REPORT", "true")
	t.Setenv("APP_LOG_LEVEL", "DEBUG")
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "cs_test", cfg.IngestAPIKey)
	assert.Equal(t, stats.Day, cfg.DefaultGranularity)
	assert.Equal(t, 3*time.Second, cfg.QueryTimeout)
	assert.Zero(t, cfg.GaugeInterval)
	assert.Equal(t, 500, cfg.MaxPeriods)
	assert.Equal(t, "counters.yaml", cfg.CountersFile)
	assert.True(t, cfg.SelfReport)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "development", cfg.Environment)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"APP_DATABASE_URL":        "",
		"APP_DEFAULT_GRANULARITY": "fortnight",
		"APP_QUERY_TIMEOUT":       "0s",
		"APP_GAUGE_INTERVAL":      "-1m",
		"APP_MAX_PERIODS":         "0",
		"APP_SELF_REPORT":         "sometimes",
		"APP_ENV":                 "staging",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("APP_DATABASE_URL", "memory://")
			t.Setenv(key, value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
