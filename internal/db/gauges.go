package db

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"counterstats/internal/stats"
)

// GaugeWorker periodically reconstructs the current value of every counter
// and tag pair in the log and exports it as counterstats_counter_value.
type GaugeWorker struct {
	log      *EventLog
	gauge    *prometheus.GaugeVec
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewGaugeWorker(log *EventLog, reg prometheus.Registerer, interval time.Duration, logger *zap.Logger) (*GaugeWorker, error) {
	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "counterstats",
			Name:      "counter_value",
			Help:      "Current reconstructed value of each counter and tag.",
		},
		[]string{"name", "tag"},
	)
	if err := reg.Register(gauge); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GaugeWorker{
		log:      log,
		gauge:    gauge,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// RunOnce refreshes every gauge. Failures for single counters are logged
// and skipped. Only a failure to list the counters is returned.
func (w *GaugeWorker) RunOnce(ctx context.Context) error {
	filters, err := w.log.Counters(ctx)
	if err != nil {
		return err
	}

	// Every counter gets a total (tag="") across all of its tags, plus
	// one series per concrete tag.
	now := w.now()
	seen := make(map[string]bool)
	for _, f := range filters {
		if !seen[f.Name] {
			seen[f.Name] = true
			w.refresh(ctx, stats.Filter{Name: f.Name}, now)
		}
		if f.Tag != nil {
			w.refresh(ctx, f, now)
		}
	}
	return nil
}

func (w *GaugeWorker) refresh(ctx context.Context, f stats.Filter, now time.Time) {
	v, err := stats.ValueAt(ctx, w.log, f, now)
	if err != nil {
		w.logger.Warn("gauge refresh failed", zap.String("counter", f.Name), zap.Error(err))
		return
	}
	tag := ""
	if f.Tag != nil {
		tag = *f.Tag
	}
	w.gauge.WithLabelValues(f.Name, tag).Set(float64(v))
}

// Start runs RunOnce at startup and then every interval until ctx is done.
func (w *GaugeWorker) Start(ctx context.Context) {
	go func() {
		if err := w.RunOnce(ctx); err != nil {
			w.logger.Warn("gauge refresh error (startup)", zap.Error(err))
		}

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.RunOnce(ctx); err != nil {
					w.logger.Warn("gauge refresh error", zap.Error(err))
				}
			}
		}
	}()
}
