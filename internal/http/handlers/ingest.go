package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"counterstats/internal/counters"
	httpctx "counterstats/internal/http/ctx"
	"counterstats/internal/stats"
)

var (
	eventsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "counterstats",
			Name:      "events_ingested_total",
			Help:      "Total number of counter events written through the ingest endpoint.",
		},
		[]string{"name", "kind"},
	)
	queryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "counterstats",
			Name:      "query_duration_seconds",
			Help:      "Histogram of stats query durations in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"granularity"},
	)
	registerOnce sync.Once
)

// InitPrometheusMetrics registers the handler metrics with the default
// registry. Calling it more than once is a no-op.
func InitPrometheusMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(eventsIngested, queryDuration)
	})
}

type IngestEvent struct {
	Name string  `json:"name"`
	Tag  *string `json:"tag,omitempty"`

	// Type is one of set, change, increase or decrease.
	Type       string         `json:"type"`
	Value      int64          `json:"value"`
	Timestamp  *time.Time     `json:"timestamp,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type ingestRequest struct {
	Events []IngestEvent `json:"events"`
}

// BatchAppender writes a batch of events atomically.
type BatchAppender interface {
	AppendBatch(ctx context.Context, events []stats.Event, attrs []map[string]any) ([]stats.Event, error)
}

// toEvent resolves the wire type to a stored kind and value. Increase and
// decrease follow the recorder: non-positive amounts count as 1.
func (ev IngestEvent) toEvent(reg *counters.Registry) (stats.Event, error) {
	e := stats.Event{Name: ev.Name, Tag: ev.Tag}
	switch strings.ToLower(ev.Type) {
	case "set":
		e.Kind, e.Value = stats.KindSet, ev.Value
	case "change", "":
		e.Kind, e.Value = stats.KindChange, ev.Value
	case "increase":
		e.Kind, e.Value = stats.KindChange, max(ev.Value, 1)
	case "decrease":
		e.Kind, e.Value = stats.KindChange, -max(ev.Value, 1)
	default:
		return e, fmt.Errorf("unknown event type %q", ev.Type)
	}

	if e.Tag == nil {
		if dt, ok := reg.Lookup(ev.Name).(stats.DefaultTagger); ok {
			e.Tag = dt.DefaultTag()
		}
	}
	if ev.Timestamp != nil {
		e.Timestamp = *ev.Timestamp
	}
	return e, nil
}

// IngestHandler serves POST /v1/events. Events without a name are skipped;
// an unknown type rejects the whole batch.
func IngestHandler(log BatchAppender, reg *counters.Registry, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var payload ingestRequest
		if err := json.Unmarshal(ctx.PostBody(), &payload); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		if len(payload.Events) == 0 {
			errResponse(ctx, fasthttp.StatusBadRequest, "no events provided")
			return
		}

		events := make([]stats.Event, 0, len(payload.Events))
		attrs := make([]map[string]any, 0, len(payload.Events))
		for i, ev := range payload.Events {
			if ev.Name == "" {
				continue
			}
			e, err := ev.toEvent(reg)
			if err != nil {
				errResponse(ctx, fasthttp.StatusBadRequest, "event "+strconv.Itoa(i)+": "+err.Error())
				return
			}
			events = append(events, e)
			attrs = append(attrs, ev.Attributes)
		}

		if len(events) == 0 {
			errResponse(ctx, fasthttp.StatusBadRequest, "no valid events after validation")
			return
		}

		stored, err := log.AppendBatch(context.Background(), events, attrs)
		if err != nil {
			fields := []zap.Field{zap.Int("events", len(events)), zap.Error(err)}
			if ak, ok := httpctx.APIKeyFromCtx(ctx); ok {
				fields = append(fields, zap.String("api_key", ak.Name))
			}
			logger.Error("failed to persist events", fields...)
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to persist events")
			return
		}

		for _, e := range stored {
			eventsIngested.WithLabelValues(e.Name, e.Kind.String()).Inc()
		}

		ids := make([]uint64, len(stored))
		for i, e := range stored {
			ids[i] = e.ID
		}
		ctx.SetStatusCode(fasthttp.StatusAccepted)
		jsonResponse(ctx, map[string]any{"status": "accepted", "count": len(stored), "ids": ids})
	}
}
