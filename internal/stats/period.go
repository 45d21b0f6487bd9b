package stats

import (
	"fmt"
	"strings"
	"time"
)

// Granularity is the width of a reporting period.
type Granularity string

const (
	Year   Granularity = "year"
	Month  Granularity = "month"
	Week   Granularity = "week"
	Day    Granularity = "day"
	Hour   Granularity = "hour"
	Minute Granularity = "minute"
)

// DefaultGranularity is used by queries that never call GroupBy.
const DefaultGranularity = Week

// ParseGranularity accepts the lower- or mixed-case unit name.
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToLower(strings.TrimSpace(s)))
	if !g.Valid() {
		return "", configError("parse_granularity", fmt.Sprintf("unknown granularity %q", s))
	}
	return g, nil
}

func (g Granularity) Valid() bool {
	switch g {
	case Year, Month, Week, Day, Hour, Minute:
		return true
	}
	return false
}

// Period is the half-open interval [Start, End) labeled with a sortable key.
type Period struct {
	Start time.Time
	End   time.Time
	Key   string
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Truncate snaps t down to the start of its unit in t's location.
// Weeks start on Monday. Hours and minutes are truncated on the instant so
// the repeated hour of a daylight saving fall-back keeps its own offset.
func Truncate(t time.Time, g Granularity) time.Time {
	loc := t.Location()
	y, m, d := t.Date()
	switch g {
	case Year:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
	case Month:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	case Week:
		offset := (int(t.Weekday()) + 6) % 7
		return time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
	case Day:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	case Hour:
		return t.Add(-time.Duration(t.Minute())*time.Minute - subMinute(t))
	case Minute:
		return t.Add(-subMinute(t))
	}
	return t
}

func subMinute(t time.Time) time.Duration {
	return time.Duration(t.Second())*time.Second + time.Duration(t.Nanosecond())
}

// Advance moves t forward by one unit.
func Advance(t time.Time, g Granularity) time.Time {
	switch g {
	case Year:
		return t.AddDate(1, 0, 0)
	case Month:
		return t.AddDate(0, 1, 0)
	case Week:
		return t.AddDate(0, 0, 7)
	case Day:
		return t.AddDate(0, 0, 1)
	case Hour:
		return t.Add(time.Hour)
	case Minute:
		return t.Add(time.Minute)
	}
	return t
}

// PeriodKey labels the unit containing t. Week keys use the ISO week-year
// so that the last days of December can belong to week 01 of the next year.
// Outside UTC, hour and minute keys carry the zone offset; a wall-clock hour
// can occur twice on the day clocks fall back.
func PeriodKey(t time.Time, g Granularity) string {
	switch g {
	case Year:
		return t.Format("2006")
	case Month:
		return t.Format("2006-01")
	case Week:
		y, w := t.ISOWeek()
		return fmt.Sprintf("%04d%02d", y, w)
	case Day:
		return t.Format("2006-01-02")
	case Hour:
		return t.Format("2006-01-02 15") + offsetSuffix(t)
	case Minute:
		return t.Format("2006-01-02 15:04") + offsetSuffix(t)
	}
	return ""
}

func offsetSuffix(t time.Time) string {
	if t.Location() == time.UTC {
		return ""
	}
	return t.Format(" -0700")
}

// GeneratePeriods covers [Truncate(start), end) with contiguous periods.
// At least one period is returned, even when start equals end.
func GeneratePeriods(start, end time.Time, g Granularity) ([]Period, error) {
	return GeneratePeriodsMax(start, end, g, 0)
}

// GeneratePeriodsMax is GeneratePeriods with an upper bound on the number of
// periods. A window needing more than limit periods is a configuration error
// raised before the excess is allocated. limit <= 0 means no bound.
func GeneratePeriodsMax(start, end time.Time, g Granularity, limit int) ([]Period, error) {
	if !g.Valid() {
		return nil, configError("generate_periods", fmt.Sprintf("unknown granularity %q", g))
	}
	if end.Before(start) {
		return nil, configError("generate_periods", fmt.Sprintf("window end %s is before start %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339)))
	}

	var periods []Period
	cursor := Truncate(start, g)
	for {
		next := Advance(cursor, g)
		if limit > 0 && len(periods) == limit {
			return nil, configError("generate_periods", fmt.Sprintf("window needs more than %d %s periods", limit, g))
		}
		periods = append(periods, Period{Start: cursor, End: next, Key: PeriodKey(cursor, g)})
		cursor = next
		if !cursor.Before(end) {
			break
		}
	}
	return periods, nil
}
