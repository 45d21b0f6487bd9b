package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"counterstats/internal/stats"
)

const (
	defaultListenAddr    = ":8080"
	defaultAdminUser     = "admin"
	defaultAdminPassword = "changeme"
	defaultQueryTimeout  = 10 * time.Second
	defaultGaugeInterval = time.Minute
	defaultMaxPeriods    = 10000
	defaultLogLevel      = "info"
	defaultEnvironment   = "production"
)

// Config holds the runtime configuration for the service. Values come from
// environment variables (optionally loaded from .env).
type Config struct {
	AdminUser     string
	AdminPassword string

	// DatabaseURL selects the event log: postgres://, postgresql://,
	// sqlite://<path> or memory://.
	DatabaseURL string

	ListenAddr string

	// IngestAPIKey, when set, is created as an active API key on startup so
	// that writers can post events without going through the database.
	IngestAPIKey string

	// DefaultGranularity is used by stats requests without a group parameter.
	DefaultGranularity stats.Granularity

	// QueryTimeout bounds the event log queries of a single stats request.
	QueryTimeout time.Duration

	// MaxPeriods caps the number of periods a single stats request may span.
	MaxPeriods int

	// GaugeInterval is how often current counter values are exported to
	// prometheus. Zero disables the gauge worker.
	GaugeInterval time.Duration

	// CountersFile is an optional YAML file with counter definitions.
	CountersFile string

	// SelfReport records every handled request on the http_requests counter.
	SelfReport bool

	LogLevel    string
	Environment string
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg := &Config{
		AdminUser:          getenv("APP_ADMIN_USER", defaultAdminUser),
		AdminPassword:      getenv("APP_ADMIN_PASSWORD", defaultAdminPassword),
		DatabaseURL:        strings.TrimSpace(os.Getenv("APP_DATABASE_URL")),
		ListenAddr:         getenv("APP_LISTEN_ADDR", defaultListenAddr),
		IngestAPIKey:       getenv("APP_INGEST_API_KEY", ""),
		DefaultGranularity: stats.DefaultGranularity,
		QueryTimeout:       defaultQueryTimeout,
		GaugeInterval:      defaultGaugeInterval,
		MaxPeriods:         defaultMaxPeriods,
		CountersFile:       getenv("APP_COUNTERS_FILE", ""),
		LogLevel:           strings.ToLower(getenv("APP_LOG_LEVEL", defaultLogLevel)),
		Environment:        strings.ToLower(getenv("APP_ENV", defaultEnvironment)),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("APP_DATABASE_URL is required")
	}

	if v := os.Getenv("APP_DEFAULT_GRANULARITY"); v != "" {
		g, err := stats.ParseGranularity(v)
		if err != nil {
			return nil, fmt.Errorf("APP_DEFAULT_GRANULARITY: %w", err)
		}
		cfg.DefaultGranularity = g
	}

	if d, ok, err := readDurationEnv("APP_QUERY_TIMEOUT", false); err != nil {
		return nil, err
	} else if ok {
		cfg.QueryTimeout = d
	}

	if d, ok, err := readDurationEnv("APP_GAUGE_INTERVAL", true); err != nil {
		return nil, err
	} else if ok {
		cfg.GaugeInterval = d
	}

	if v := strings.TrimSpace(os.Getenv("APP_MAX_PERIODS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("APP_MAX_PERIODS must be a positive integer, got %q", v)
		}
		cfg.MaxPeriods = n
	}

	if v := strings.TrimSpace(os.Getenv("APP_SELF_REPORT")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("parse APP_SELF_REPORT: %w", err)
		}
		cfg.SelfReport = b
	}

	switch cfg.Environment {
	case "production", "development", "test":
	default:
		return nil, fmt.Errorf("APP_ENV must be one of: production, development, test")
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func readDurationEnv(key string, allowZero bool) (time.Duration, bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 || (d == 0 && !allowZero) {
		return 0, false, fmt.Errorf("%s must be positive", key)
	}

	return d, true, nil
}
