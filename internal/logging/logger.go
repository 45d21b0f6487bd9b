package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"counterstats/internal/config"
)

// Service is attached to every entry as the "service" field.
const Service = "counterstats"

// New builds the process logger from cfg.Environment and cfg.LogLevel.
// Production and test log JSON; development logs console output. Every
// entry carries the service name and environment.
func New(cfg *config.Config, opts ...zap.Option) (*zap.Logger, error) {
	zcfg, err := zapConfig(cfg.Environment)
	if err != nil {
		return nil, err
	}

	lvl, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	zcfg.Level = lvl
	zcfg.EncoderConfig.TimeKey = "time"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build(opts...)
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", Service), zap.String("env", cfg.Environment)), nil
}

func zapConfig(environment string) (zap.Config, error) {
	switch environment {
	case "production":
		return zap.NewProductionConfig(), nil
	case "test":
		// Tests assert on every entry, so nothing is sampled away.
		zcfg := zap.NewProductionConfig()
		zcfg.Sampling = nil
		zcfg.DisableStacktrace = true
		return zcfg, nil
	case "development":
		return zap.NewDevelopmentConfig(), nil
	default:
		return zap.Config{}, fmt.Errorf("unsupported environment: %s", environment)
	}
}
