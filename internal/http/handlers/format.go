package handlers

import (
	"fmt"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"

	"counterstats/internal/stats"
)

// inputLayouts are tried in order for start, end and at parameters.
var inputLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006-01",
	"2006",
}

// parseInstant accepts RFC 3339, a date-time without zone, a date, a month,
// a year or unix seconds. Zoneless values are read in loc.
func parseInstant(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range inputLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.In(loc), nil
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).In(loc), nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}

// statsParams holds the query string of the stats endpoints.
type statsParams struct {
	granularity stats.Granularity
	loc         *time.Location
	start       *time.Time
	end         *time.Time
	at          *time.Time
	tag         *string
	applySets   bool
}

func parseStatsParams(ctx *fasthttp.RequestCtx, defaultGranularity stats.Granularity) (statsParams, error) {
	args := ctx.QueryArgs()
	p := statsParams{granularity: defaultGranularity, loc: time.UTC}

	if tz := string(args.Peek("tz")); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return p, fmt.Errorf("invalid tz %q", tz)
		}
		p.loc = loc
	}
	if g := string(args.Peek("group")); g != "" {
		parsed, err := stats.ParseGranularity(g)
		if err != nil {
			return p, err
		}
		p.granularity = parsed
	}

	for _, field := range []struct {
		name string
		dst  **time.Time
	}{{"start", &p.start}, {"end", &p.end}, {"at", &p.at}} {
		raw := string(args.Peek(field.name))
		if raw == "" {
			continue
		}
		t, err := parseInstant(raw, p.loc)
		if err != nil {
			return p, fmt.Errorf("%s: %w", field.name, err)
		}
		*field.dst = &t
	}

	if args.Has("tag") {
		tag := string(args.Peek("tag"))
		p.tag = &tag
	}
	if s := string(args.Peek("sets")); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return p, fmt.Errorf("invalid sets %q", s)
		}
		p.applySets = v
	}
	return p, nil
}

// formatValue uses the counter's own formatter when it has one.
func formatValue(c stats.Counter, v int64) string {
	if f, ok := c.(stats.ValueFormatter); ok {
		return f.FormatValue(v)
	}
	return strconv.FormatInt(v, 10)
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}
