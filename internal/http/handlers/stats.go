package handlers

import (
	"context"
	"sort"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"counterstats/internal/config"
	"counterstats/internal/counters"
	"counterstats/internal/stats"
)

type dataPoint struct {
	Start          string `json:"start"`
	End            string `json:"end"`
	Value          int64  `json:"value"`
	FormattedValue string `json:"formatted_value"`
	Count          int64  `json:"count"`
	Increments     int64  `json:"increments"`
	Decrements     int64  `json:"decrements"`
	Difference     int64  `json:"difference"`
}

type seriesResponse struct {
	Counter     string      `json:"counter"`
	Tag         *string     `json:"tag"`
	Granularity string      `json:"granularity"`
	Start       string      `json:"start"`
	End         string      `json:"end"`
	Data        []dataPoint `json:"data"`
}

type valueResponse struct {
	Counter        string  `json:"counter"`
	Tag            *string `json:"tag"`
	At             string  `json:"at"`
	Value          int64   `json:"value"`
	FormattedValue string  `json:"formatted_value"`
}

func counterName(ctx *fasthttp.RequestCtx) (string, bool) {
	name, _ := ctx.UserValue("name").(string)
	if name == "" {
		errResponse(ctx, fasthttp.StatusBadRequest, "counter name required")
		return "", false
	}
	return name, true
}

// buildQuery applies the request parameters on top of the query defaults.
// The default window is shifted into the requested zone.
func buildQuery(log stats.EventLog, counter stats.Counter, p statsParams, cfg *config.Config, logger *zap.Logger) *stats.Query {
	q := stats.NewQuery(log, counter).
		GroupBy(p.granularity).
		ApplySetEvents(p.applySets).
		MaxPeriods(cfg.MaxPeriods).
		WithLogger(logger)

	start, end := q.Window()
	q.Start(start.In(p.loc)).End(end.In(p.loc))
	if p.start != nil {
		q.Start(*p.start)
	}
	if p.end != nil {
		q.End(*p.end)
	}
	if p.tag != nil {
		q.HavingTag(*p.tag)
	}
	return q
}

// StatsSeries serves GET /v1/stats/{name}: one data point per period of the
// requested window.
func StatsSeries(log stats.EventLog, reg *counters.Registry, cfg *config.Config, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		name, ok := counterName(ctx)
		if !ok {
			return
		}
		p, err := parseStatsParams(ctx, cfg.DefaultGranularity)
		if err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, err.Error())
			return
		}

		counter := reg.Lookup(name)
		q := buildQuery(log, counter, p, cfg, logger)

		qctx, cancel := context.WithTimeout(context.Background(), cfg.QueryTimeout)
		defer cancel()

		began := time.Now()
		points, err := q.Get(qctx)
		queryDuration.WithLabelValues(string(q.Granularity())).Observe(time.Since(began).Seconds())
		if err != nil {
			statsErrResponse(ctx, logger, err)
			return
		}

		start, end := q.Window()
		resp := seriesResponse{
			Counter:     name,
			Tag:         p.tag,
			Granularity: string(q.Granularity()),
			Start:       formatTime(start),
			End:         formatTime(end),
			Data:        make([]dataPoint, len(points)),
		}
		for i, pt := range points {
			resp.Data[i] = dataPoint{
				Start:          formatTime(pt.Start),
				End:            formatTime(pt.End),
				Value:          pt.Value,
				FormattedValue: formatValue(counter, pt.Value),
				Count:          pt.Count,
				Increments:     pt.Increments,
				Decrements:     pt.Decrements,
				Difference:     pt.Difference,
			}
		}
		jsonResponse(ctx, resp)
	}
}

// CounterValue serves GET /v1/stats/{name}/value: the value just before at,
// or now when at is omitted.
func CounterValue(log stats.EventLog, reg *counters.Registry, cfg *config.Config, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		name, ok := counterName(ctx)
		if !ok {
			return
		}
		p, err := parseStatsParams(ctx, cfg.DefaultGranularity)
		if err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, err.Error())
			return
		}

		at := time.Now().In(p.loc)
		if p.at != nil {
			at = *p.at
		}

		counter := reg.Lookup(name)
		q := buildQuery(log, counter, p, cfg, logger)

		qctx, cancel := context.WithTimeout(context.Background(), cfg.QueryTimeout)
		defer cancel()

		v, err := q.GetValue(qctx, at)
		if err != nil {
			statsErrResponse(ctx, logger, err)
			return
		}
		jsonResponse(ctx, valueResponse{
			Counter:        name,
			Tag:            p.tag,
			At:             formatTime(at),
			Value:          v,
			FormattedValue: formatValue(counter, v),
		})
	}
}

// CounterLister lists the counter and tag pairs present in an event log.
type CounterLister interface {
	Counters(ctx context.Context) ([]stats.Filter, error)
}

type counterInfo struct {
	Name        string   `json:"name"`
	Tags        []string `json:"tags"`
	Untagged    bool     `json:"untagged"`
	DefaultTag  *string  `json:"default_tag,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Counters serves GET /v1/counters: every counter that has events or a
// definition, with the tags seen in the log.
func Counters(log CounterLister, reg *counters.Registry, cfg *config.Config, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		qctx, cancel := context.WithTimeout(context.Background(), cfg.QueryTimeout)
		defer cancel()

		filters, err := log.Counters(qctx)
		if err != nil {
			logger.Error("list counters failed", zap.Error(err))
			errResponse(ctx, fasthttp.StatusBadGateway, "event log unavailable")
			return
		}

		byName := make(map[string]*counterInfo)
		get := func(name string) *counterInfo {
			info, ok := byName[name]
			if !ok {
				info = &counterInfo{Name: name, Tags: []string{}}
				byName[name] = info
			}
			return info
		}
		for _, d := range reg.Definitions() {
			info := get(d.CounterName)
			info.DefaultTag = d.DefaultTag()
			info.Unit = d.Unit
			info.Description = d.Description
		}
		for _, f := range filters {
			info := get(f.Name)
			if f.Tag == nil {
				info.Untagged = true
				continue
			}
			info.Tags = append(info.Tags, *f.Tag)
		}

		out := make([]counterInfo, 0, len(byName))
		for _, info := range byName {
			sort.Strings(info.Tags)
			out = append(out, *info)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		jsonResponse(ctx, map[string]any{"counters": out})
	}
}
