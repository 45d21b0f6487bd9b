package stats

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Query reconstructs one counter over a window. The zero configuration
// groups by week over the past month.
type Query struct {
	log         EventLog
	counter     Counter
	granularity Granularity
	start       time.Time
	end         time.Time
	tag         *string
	applySets   bool
	maxPeriods  int
	logger      *zap.Logger
}

// NewQuery builds a query for counter against log.
func NewQuery(log EventLog, counter Counter) *Query {
	now := time.Now()
	return &Query{
		log:         log,
		counter:     counter,
		granularity: DefaultGranularity,
		start:       now.AddDate(0, -1, 0),
		end:         now,
		logger:      zap.NewNop(),
	}
}

func (q *Query) GroupBy(g Granularity) *Query {
	q.granularity = g
	return q
}

func (q *Query) GroupByYear() *Query   { return q.GroupBy(Year) }
func (q *Query) GroupByMonth() *Query  { return q.GroupBy(Month) }
func (q *Query) GroupByWeek() *Query   { return q.GroupBy(Week) }
func (q *Query) GroupByDay() *Query    { return q.GroupBy(Day) }
func (q *Query) GroupByHour() *Query   { return q.GroupBy(Hour) }
func (q *Query) GroupByMinute() *Query { return q.GroupBy(Minute) }

func (q *Query) Start(t time.Time) *Query {
	q.start = t
	return q
}

func (q *Query) End(t time.Time) *Query {
	q.end = t
	return q
}

// HavingTag restricts the query to events carrying tag.
func (q *Query) HavingTag(tag string) *Query {
	q.tag = &tag
	return q
}

// ApplySetEvents lets the latest Set inside a period reset that period's
// starting value. Off by default: Set events only affect the baseline.
// The log must implement SetLister.
func (q *Query) ApplySetEvents(enabled bool) *Query {
	q.applySets = enabled
	return q
}

// MaxPeriods bounds the number of periods Get may produce. Zero means no
// bound.
func (q *Query) MaxPeriods(n int) *Query {
	q.maxPeriods = n
	return q
}

func (q *Query) WithLogger(logger *zap.Logger) *Query {
	if logger != nil {
		q.logger = logger
	}
	return q
}

func (q *Query) Counter() Counter         { return q.counter }
func (q *Query) Granularity() Granularity { return q.granularity }
func (q *Query) Window() (time.Time, time.Time) {
	return q.start, q.end
}

func (q *Query) filter() Filter {
	return Filter{Name: q.counter.Name(), Tag: q.tag}
}

func (q *Query) validate() error {
	if q.counter == nil || q.counter.Name() == "" {
		return configError("validate", "counter name is required")
	}
	if q.log == nil {
		return configError("validate", "event log is required")
	}
	if !q.granularity.Valid() {
		return configError("validate", fmt.Sprintf("unknown granularity %q", q.granularity))
	}
	if q.end.Before(q.start) {
		return configError("validate", fmt.Sprintf("window end %s is before start %s",
			q.end.Format(time.RFC3339), q.start.Format(time.RFC3339)))
	}
	return nil
}

// Periods returns the periods covering the query window.
func (q *Query) Periods() ([]Period, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	return GeneratePeriodsMax(q.start, q.end, q.granularity, q.maxPeriods)
}

// GetValue returns the counter value strictly before instant.
func (q *Query) GetValue(ctx context.Context, instant time.Time) (int64, error) {
	if q.counter == nil || q.counter.Name() == "" {
		return 0, configError("validate", "counter name is required")
	}
	if q.log == nil {
		return 0, configError("validate", "event log is required")
	}
	return ValueAt(ctx, q.log, q.filter(), instant)
}

// Get returns one data point per period, in chronological order. The
// baseline lookup and the window fetches run concurrently.
func (q *Query) Get(ctx context.Context) ([]DataPoint, error) {
	periods, err := q.Periods()
	if err != nil {
		return nil, err
	}

	var setLister SetLister
	if q.applySets {
		sl, ok := q.log.(SetLister)
		if !ok {
			return nil, configError("validate", "event log cannot list set events")
		}
		setLister = sl
	}

	f := q.filter()
	var (
		baseline int64
		changes  []Event
		sets     []Event
		grouped  map[string]Aggregate
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := ValueAt(gctx, q.log, f, q.start)
		baseline = v
		return err
	})
	g.Go(func() error {
		events, err := q.log.ChangesInRange(gctx, f, q.start, q.end)
		if err != nil {
			return dataSourceError("changes_in_range", err)
		}
		changes = events
		return nil
	})
	if agg, ok := q.log.(GroupedAggregator); ok {
		g.Go(func() error {
			m, err := agg.GroupedAggregates(gctx, f, q.start, q.end, q.granularity)
			if err != nil {
				return dataSourceError("grouped_aggregates", err)
			}
			grouped = m
			return nil
		})
	}
	if setLister != nil {
		g.Go(func() error {
			events, err := setLister.SetsInRange(gctx, f, q.start, q.end)
			if err != nil {
				return dataSourceError("sets_in_range", err)
			}
			sets = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		q.logger.Warn("stats query failed",
			zap.String("counter", f.Name),
			zap.String("granularity", string(q.granularity)),
			zap.Error(err))
		return nil, err
	}

	if grouped == nil {
		grouped = GroupChanges(changes, q.granularity, q.start.Location())
	}

	points := ReconstructWithSets(baseline, periods, changes, sets, grouped)
	q.logger.Debug("stats query",
		zap.String("counter", f.Name),
		zap.String("granularity", string(q.granularity)),
		zap.Int("periods", len(periods)),
		zap.Int("changes", len(changes)),
		zap.Int64("baseline", baseline))
	return points, nil
}
