package db

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"counterstats/internal/config"
	"counterstats/internal/stats"
)

var dbSeq atomic.Int64

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(fmt.Sprintf("memory://eventlog_test_%d", dbSeq.Add(1)))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

var base = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func appendEvent(t *testing.T, log *EventLog, name string, tag *string, kind stats.Kind, value int64, ts time.Time) stats.Event {
	t.Helper()
	e, err := log.Append(context.Background(), stats.Event{Name: name, Tag: tag, Kind: kind, Value: value, Timestamp: ts})
	require.NoError(t, err)
	return e
}

func tagp(s string) *string { return &s }

func TestOpenRejectsUnknownScheme(t *testing.T) {
	_, err := Open("mysql://root@localhost/stats")
	assert.Error(t, err)

	_, err = Open("")
	assert.Error(t, err)

	_, err = Open("sqlite://")
	assert.Error(t, err)
}

func TestEventLogAssignsIncreasingIDs(t *testing.T) {
	log := NewEventLog(openTestDB(t))

	first := appendEvent(t, log, "a", nil, stats.KindChange, 1, base)
	second := appendEvent(t, log, "a", nil, stats.KindChange, 1, base)
	assert.Greater(t, second.ID, first.ID)

	now := appendEvent(t, log, "a", nil, stats.KindChange, 1, time.Time{})
	assert.WithinDuration(t, time.Now(), now.Timestamp, time.Minute)
}

func TestEventLogBaselineQueries(t *testing.T) {
	ctx := context.Background()
	log := NewEventLog(openTestDB(t))
	f := stats.Filter{Name: "stock"}

	appendEvent(t, log, "stock", nil, stats.KindChange, 7, base.Add(time.Hour))
	appendEvent(t, log, "stock", nil, stats.KindChange, -3, base.Add(2*time.Hour))

	set, err := log.LatestSetBefore(ctx, f, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, set)

	v, err := stats.ValueAt(ctx, log, f, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(4), v)

	s1 := appendEvent(t, log, "stock", nil, stats.KindSet, 40, base.Add(3*time.Hour))
	appendEvent(t, log, "stock", nil, stats.KindSet, 50, base.Add(3*time.Hour))
	appendEvent(t, log, "stock", nil, stats.KindChange, 5, base.Add(4*time.Hour))

	set, err = log.LatestSetBefore(ctx, f, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, set)
	assert.Equal(t, int64(50), set.Value)
	assert.Greater(t, set.ID, s1.ID)

	sum, err := log.SumChangesAfterID(ctx, f, set.ID, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(5), sum)

	v, err = stats.ValueAt(ctx, log, f, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(55), v)

	// boundary is exclusive
	v, err = stats.ValueAt(ctx, log, f, base.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(4), v)
}

func TestEventLogChangesInRange(t *testing.T) {
	ctx := context.Background()
	log := NewEventLog(openTestDB(t))

	appendEvent(t, log, "x", nil, stats.KindChange, 1, base.Add(-time.Second))
	b := appendEvent(t, log, "x", nil, stats.KindChange, 2, base.Add(time.Hour))
	a := appendEvent(t, log, "x", nil, stats.KindChange, 3, base)
	appendEvent(t, log, "x", nil, stats.KindSet, 9, base.Add(time.Minute))
	appendEvent(t, log, "x", nil, stats.KindChange, 4, base.Add(2*time.Hour))
	appendEvent(t, log, "y", nil, stats.KindChange, 5, base.Add(time.Minute))

	changes, err := log.ChangesInRange(ctx, stats.Filter{Name: "x"}, base, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, a.ID, changes[0].ID)
	assert.Equal(t, b.ID, changes[1].ID)

	sets, err := log.SetsInRange(ctx, stats.Filter{Name: "x"}, base, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, int64(9), sets[0].Value)
}

func TestEventLogTagFilter(t *testing.T) {
	ctx := context.Background()
	log := NewEventLog(openTestDB(t))

	appendEvent(t, log, "dl", tagp("linux"), stats.KindChange, 3, base)
	appendEvent(t, log, "dl", tagp("mac"), stats.KindChange, 10, base)
	appendEvent(t, log, "dl", nil, stats.KindChange, 1, base)

	linux, err := stats.ValueAt(ctx, log, stats.Filter{Name: "dl", Tag: tagp("linux")}, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), linux)

	all, err := stats.ValueAt(ctx, log, stats.Filter{Name: "dl"}, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(14), all)

	grouped, err := log.GroupedAggregates(ctx, stats.Filter{Name: "dl", Tag: tagp("mac")}, base, base.Add(24*time.Hour), stats.Day)
	require.NoError(t, err)
	assert.Equal(t, map[string]stats.Aggregate{"2024-05-01": {Increments: 10, Difference: 10, Count: 1}}, grouped)
}

func TestEventLogQueryRoundTrip(t *testing.T) {
	ctx := context.Background()
	log := NewEventLog(openTestDB(t))
	day := func(d, h int) time.Time { return base.AddDate(0, 0, d).Add(time.Duration(h) * time.Hour) }

	appendEvent(t, log, "signups", nil, stats.KindChange, 5, day(0, 10))
	appendEvent(t, log, "signups", nil, stats.KindChange, -2, day(1, 10))
	appendEvent(t, log, "signups", nil, stats.KindSet, 100, day(2, 10))
	appendEvent(t, log, "signups", nil, stats.KindChange, 1, day(2, 12))

	q := stats.NewQuery(log, stats.Named("signups")).GroupByDay().Start(day(0, 0)).End(day(4, 0))

	points, err := q.Get(ctx)
	require.NoError(t, err)
	require.Len(t, points, 4)
	assert.Equal(t, []int64{5, 3, 4, 4}, []int64{points[0].Value, points[1].Value, points[2].Value, points[3].Value})
	assert.Equal(t, int64(2), points[1].Decrements)
	assert.Zero(t, points[3].Count)

	points, err = q.ApplySetEvents(true).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 3, 101, 101}, []int64{points[0].Value, points[1].Value, points[2].Value, points[3].Value})

	v, err := q.GetValue(ctx, day(2, 13))
	require.NoError(t, err)
	assert.Equal(t, int64(101), v)
}

func TestSQLZone(t *testing.T) {
	newYork, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	summer := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		loc      *time.Location
		g        stats.Granularity
		wantZone string
		wantOK   bool
	}{
		{"utc day", time.UTC, stats.Day, "UTC", true},
		{"utc hour", time.UTC, stats.Hour, "UTC", true},
		{"named zone day", newYork, stats.Day, "America/New_York", true},
		{"named zone hour", newYork, stats.Hour, "", false},
		{"named zone minute", newYork, stats.Minute, "", false},
		{"unnamed fixed zone", time.FixedZone("", 3600), stats.Day, "", false},
		{"fixed zone shadowing a tz name", time.FixedZone("CET", 3600), stats.Day, "", false},
		{"unknown name", time.FixedZone("Nowhere/Special", 3600), stats.Day, "", false},
		{"local", time.Local, stats.Day, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			from := summer.In(tc.loc)
			zone, ok := sqlZone(tc.g, from, from.AddDate(0, 1, 0))
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.wantZone, zone)
		})
	}
}

func TestEventLogGroupsFixedZoneInProcess(t *testing.T) {
	ctx := context.Background()
	log := NewEventLog(openTestDB(t))
	zone := time.FixedZone("", 5*3600)

	appendEvent(t, log, "visits", nil, stats.KindChange, 2, time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC))
	appendEvent(t, log, "visits", nil, stats.KindChange, 3, time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC))

	from := time.Date(2024, 5, 1, 0, 0, 0, 0, zone)
	grouped, err := log.GroupedAggregates(ctx, stats.Filter{Name: "visits"}, from, from.AddDate(0, 0, 3), stats.Day)
	require.NoError(t, err)
	assert.Equal(t, int64(3), grouped["2024-05-01"].Increments)
	assert.Equal(t, int64(2), grouped["2024-05-02"].Increments)
}

func TestEventLogAppendBatchAndFind(t *testing.T) {
	ctx := context.Background()
	log := NewEventLog(openTestDB(t))

	events, err := log.AppendBatch(ctx, []stats.Event{
		{Name: "orders", Kind: stats.KindChange, Value: 2, Timestamp: base},
		{Name: "orders", Tag: tagp("eu"), Kind: stats.KindSet, Value: 7, Timestamp: base},
	}, []map[string]any{{"source": "checkout"}, nil})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Less(t, events[0].ID, events[1].ID)

	row, err := log.Find(ctx, events[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "checkout", row.Attributes["source"])

	empty, err := log.AppendBatch(ctx, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEventLogCounters(t *testing.T) {
	log := NewEventLog(openTestDB(t))
	appendEvent(t, log, "b", tagp("x"), stats.KindChange, 1, base)
	appendEvent(t, log, "b", tagp("x"), stats.KindChange, 1, base)
	appendEvent(t, log, "a", nil, stats.KindSet, 1, base)
	appendEvent(t, log, "b", nil, stats.KindChange, 1, base)

	filters, err := log.Counters(context.Background())
	require.NoError(t, err)

	labels := make([]string, len(filters))
	for i, f := range filters {
		labels[i] = f.Name
		if f.Tag != nil {
			labels[i] += "/" + *f.Tag
		}
	}
	sort.Strings(labels)
	assert.Equal(t, []string{"a", "b", "b/x"}, labels)
}

func TestGaugeWorkerRunOnce(t *testing.T) {
	log := NewEventLog(openTestDB(t))
	appendEvent(t, log, "dl", tagp("mac"), stats.KindSet, 10, base)
	appendEvent(t, log, "dl", tagp("linux"), stats.KindChange, 3, base)
	appendEvent(t, log, "queue", nil, stats.KindChange, -2, base)

	reg := prometheus.NewRegistry()
	w, err := NewGaugeWorker(log, reg, time.Minute, nil)
	require.NoError(t, err)
	require.NoError(t, w.RunOnce(context.Background()))

	assert.Equal(t, float64(13), testutil.ToFloat64(w.gauge.WithLabelValues("dl", "")))
	assert.Equal(t, float64(3), testutil.ToFloat64(w.gauge.WithLabelValues("dl", "linux")))
	assert.Equal(t, float64(10), testutil.ToFloat64(w.gauge.WithLabelValues("dl", "mac")))
	assert.Equal(t, float64(-2), testutil.ToFloat64(w.gauge.WithLabelValues("queue", "")))

	_, err = NewGaugeWorker(log, reg, time.Minute, nil)
	assert.Error(t, err, "registering the same collector twice must fail")
}

func TestBootstrapAdminAndAPIKey(t *testing.T) {
	db := openTestDB(t)
	cfg := &config.Config{AdminUser: "admin", AdminPassword: "s3cret", IngestAPIKey: "cs_boot"}

	require.NoError(t, EnsureBootstrapAdmin(db, cfg))
	require.NoError(t, EnsureBootstrapAdmin(db, cfg))

	var users int64
	require.NoError(t, db.Model(&User{}).Count(&users).Error)
	assert.Equal(t, int64(1), users)

	user, err := Authenticate(db, "admin", "s3cret")
	require.NoError(t, err)
	assert.True(t, user.IsAdmin)

	_, err = Authenticate(db, "admin", "wrong")
	assert.Error(t, err)

	require.NoError(t, EnsureBootstrapAPIKey(db, cfg))
	require.NoError(t, EnsureBootstrapAPIKey(db, cfg))

	var key APIKey
	require.NoError(t, db.Where("key = ?", "cs_boot").First(&key).Error)
	assert.Equal(t, user.ID, key.UserID)
	assert.True(t, key.Active)
}
