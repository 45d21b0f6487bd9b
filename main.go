package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fasthttp/router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"counterstats/internal/config"
	"counterstats/internal/counters"
	"counterstats/internal/db"
	"counterstats/internal/http/handlers"
	appmw "counterstats/internal/http/middleware"
	"counterstats/internal/logging"
	"counterstats/internal/stats"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("counterstats stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := db.Connect(cfg)
	if err != nil {
		return err
	}

	if err := db.EnsureBootstrapAdmin(sqlDB, cfg); err != nil {
		return err
	}
	if cfg.IngestAPIKey != "" {
		if err := db.EnsureBootstrapAPIKey(sqlDB, cfg); err != nil {
			logger.Warn("failed to ensure bootstrap API key", zap.Error(err))
		} else {
			logger.Info("ingest API key configured and associated with admin user")
		}
	}

	registry, err := counters.LoadFile(cfg.CountersFile)
	if err != nil {
		return err
	}
	logger.Info("counter definitions loaded", zap.Int("count", len(registry.Definitions())))

	eventLog := db.NewEventLog(sqlDB)

	if cfg.GaugeInterval > 0 {
		gauges, err := db.NewGaugeWorker(eventLog, prometheus.DefaultRegisterer, cfg.GaugeInterval, logger.Named("gauges"))
		if err != nil {
			return err
		}
		gauges.Start(ctx)
	}

	handlers.InitPrometheusMetrics()

	r := router.New()
	routes(r, sqlDB, eventLog, registry, cfg, logger)

	// Global middleware chain: request logger, then self reporting, then router
	recorder := stats.NewRecorder(eventLog)
	handler := handlers.RequestLogger(logger)(appmw.SelfReport(cfg, recorder, logger)(r.Handler))

	server := &fasthttp.Server{
		Handler:     handler,
		Name:        "counterstats",
		ReadTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("counterstats listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe(cfg.ListenAddr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.ShutdownWithContext(shutdownCtx)
}

func routes(r *router.Router, sqlDB *gorm.DB, eventLog *db.EventLog, registry *counters.Registry, cfg *config.Config, logger *zap.Logger) {
	basic := appmw.BasicAuth(sqlDB, cfg)

	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})
	r.GET("/metrics", basic(handlers.MetricsHandler(prometheus.DefaultGatherer)))

	r.POST("/v1/events", appmw.BearerAuth(sqlDB)(handlers.IngestHandler(eventLog, registry, logger)))
	r.GET("/v1/events/{id}", basic(handlers.EventDetail(eventLog)))

	r.GET("/v1/counters", basic(handlers.Counters(eventLog, registry, cfg, logger)))
	r.GET("/v1/stats/{name}", basic(handlers.StatsSeries(eventLog, registry, cfg, logger)))
	r.GET("/v1/stats/{name}/value", basic(handlers.CounterValue(eventLog, registry, cfg, logger)))

	r.GET("/v1/apikeys", basic(handlers.ListAPIKeys(sqlDB)))
	r.POST("/v1/apikeys", basic(appmw.RequireAdmin(handlers.CreateAPIKey(sqlDB))))
	r.POST("/v1/apikeys/{id}/active", basic(handlers.SetActiveAPIKey(sqlDB)))
	r.DELETE("/v1/apikeys/{id}", basic(handlers.DeleteAPIKey(sqlDB, cfg)))
}
