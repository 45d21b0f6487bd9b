package db

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"counterstats/internal/stats"
)

// periodFormats maps a granularity to the postgres to_char pattern that
// yields the same key as stats.PeriodKey. IYYYIW is the ISO week-year
// followed by the ISO week number.
var periodFormats = map[stats.Granularity]string{
	stats.Year:   "YYYY",
	stats.Month:  "YYYY-MM",
	stats.Week:   "IYYYIW",
	stats.Day:    "YYYY-MM-DD",
	stats.Hour:   "YYYY-MM-DD HH24",
	stats.Minute: "YYYY-MM-DD HH24:MI",
}

// EventLog stores counter events in the stats_events table.
type EventLog struct {
	db *gorm.DB
}

func NewEventLog(db *gorm.DB) *EventLog {
	return &EventLog{db: db}
}

func (l *EventLog) scoped(ctx context.Context, f stats.Filter, kind stats.Kind) *gorm.DB {
	q := l.db.WithContext(ctx).Model(&StatsEvent{}).
		Where("name = ?", f.Name).
		Where("type = ?", int(kind))
	if f.Tag != nil {
		q = q.Where("tag = ?", *f.Tag)
	}
	return q
}

// Append inserts a single event.
func (l *EventLog) Append(ctx context.Context, e stats.Event) (stats.Event, error) {
	row := newStatsEvent(e)
	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		return stats.Event{}, err
	}
	return row.event(), nil
}

// AppendBatch inserts events in one transaction, in slice order. attrs, when
// non-nil, must be parallel to events.
func (l *EventLog) AppendBatch(ctx context.Context, events []stats.Event, attrs []map[string]any) ([]stats.Event, error) {
	if len(events) == 0 {
		return nil, nil
	}

	rows := make([]StatsEvent, len(events))
	for i, e := range events {
		rows[i] = newStatsEvent(e)
		if i < len(attrs) && len(attrs[i]) > 0 {
			rows[i].Attributes = datatypes.JSONMap(attrs[i])
		}
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			if err := tx.Create(&rows[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]stats.Event, len(rows))
	for i, r := range rows {
		out[i] = r.event()
	}
	return out, nil
}

func (l *EventLog) LatestSetBefore(ctx context.Context, f stats.Filter, before time.Time) (*stats.Event, error) {
	// Use Find so "not found" doesn't log as error.
	var rows []StatsEvent
	err := l.scoped(ctx, f, stats.KindSet).
		Where("created_at < ?", before.UTC()).
		Order("created_at DESC").
		Order("id DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	e := rows[0].event()
	return &e, nil
}

func (l *EventLog) SumChangesAfterID(ctx context.Context, f stats.Filter, afterID uint64, before time.Time) (int64, error) {
	var sum int64
	err := l.scoped(ctx, f, stats.KindChange).
		Where("id > ?", afterID).
		Where("created_at < ?", before.UTC()).
		Select("COALESCE(SUM(value), 0)").
		Scan(&sum).Error
	return sum, err
}

func (l *EventLog) ChangesInRange(ctx context.Context, f stats.Filter, from, to time.Time) ([]stats.Event, error) {
	return l.inRange(ctx, f, stats.KindChange, from, to)
}

func (l *EventLog) SetsInRange(ctx context.Context, f stats.Filter, from, to time.Time) ([]stats.Event, error) {
	return l.inRange(ctx, f, stats.KindSet, from, to)
}

func (l *EventLog) inRange(ctx context.Context, f stats.Filter, kind stats.Kind, from, to time.Time) ([]stats.Event, error) {
	var rows []StatsEvent
	err := l.scoped(ctx, f, kind).
		Select("id", "name", "tag", "type", "value", "created_at").
		Where("created_at >= ? AND created_at < ?", from.UTC(), to.UTC()).
		Order("created_at").
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	events := make([]stats.Event, len(rows))
	for i, r := range rows {
		events[i] = r.event()
	}
	return events, nil
}

type aggregateRow struct {
	Period     string
	Increments int64
	Decrements int64
	Difference int64
	Count      int64
}

// GroupedAggregates groups change events by period key. On postgres the
// grouping happens in SQL; other databases group the fetched events
// in-process.
func (l *EventLog) GroupedAggregates(ctx context.Context, f stats.Filter, from, to time.Time, g stats.Granularity) (map[string]stats.Aggregate, error) {
	format, ok := periodFormats[g]
	loc, zoneOK := sqlZone(g, from, to)
	if !ok || !zoneOK || l.db.Dialector.Name() != "postgres" {
		changes, err := l.ChangesInRange(ctx, f, from, to)
		if err != nil {
			return nil, err
		}
		return stats.GroupChanges(changes, g, from.Location()), nil
	}

	// Use Raw so GROUP BY is never parameterized.
	sql := `SELECT to_char(created_at AT TIME ZONE ?, '` + format + `') AS period,` +
		` COALESCE(SUM(CASE WHEN value > 0 THEN value ELSE 0 END), 0) AS increments,` +
		` ABS(COALESCE(SUM(CASE WHEN value < 0 THEN value ELSE 0 END), 0)) AS decrements,` +
		` COALESCE(SUM(value), 0) AS difference,` +
		` COUNT(*) AS count` +
		` FROM stats_events WHERE name = ? AND type = ? AND created_at >= ? AND created_at < ?`
	args := []any{loc, f.Name, int(stats.KindChange), from.UTC(), to.UTC()}
	if f.Tag != nil {
		sql += ` AND tag = ?`
		args = append(args, *f.Tag)
	}
	sql += ` GROUP BY 1`

	var rows []aggregateRow
	if err := l.db.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}

	grouped := make(map[string]stats.Aggregate, len(rows))
	for _, r := range rows {
		grouped[r.Period] = stats.Aggregate{
			Increments: r.Increments,
			Decrements: r.Decrements,
			Difference: r.Difference,
			Count:      r.Count,
		}
	}
	return grouped, nil
}

// sqlZone returns the zone name postgres should group in. It reports false
// when postgres cannot reproduce stats.PeriodKey for the window: unnamed or
// Local zones, names the tz database resolves to different offsets, and
// hour or minute keys outside UTC, which carry an offset suffix.
func sqlZone(g stats.Granularity, from, to time.Time) (string, bool) {
	loc := from.Location()
	if loc == time.UTC {
		return "UTC", true
	}
	if g == stats.Hour || g == stats.Minute {
		return "", false
	}
	name := loc.String()
	if name == "" || name == "Local" {
		return "", false
	}
	loaded, err := time.LoadLocation(name)
	if err != nil {
		return "", false
	}
	for _, t := range []time.Time{from, to} {
		_, want := t.In(loc).Zone()
		_, got := t.In(loaded).Zone()
		if want != got {
			return "", false
		}
	}
	return name, true
}

// Counters lists every distinct counter name and tag pair in the log.
func (l *EventLog) Counters(ctx context.Context) ([]stats.Filter, error) {
	var rows []StatsEvent
	err := l.db.WithContext(ctx).Model(&StatsEvent{}).
		Distinct("name", "tag").
		Order("name").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	filters := make([]stats.Filter, len(rows))
	for i, r := range rows {
		filters[i] = stats.Filter{Name: r.Name, Tag: r.Tag}
	}
	return filters, nil
}

// Find returns the raw stored row, including attributes.
func (l *EventLog) Find(ctx context.Context, id uint64) (*StatsEvent, error) {
	var row StatsEvent
	if err := l.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, err
	}
	return &row, nil
}
