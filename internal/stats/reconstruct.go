package stats

import (
	"context"
	"sort"
	"time"
)

// DataPoint summarizes one period. Value is the counter value at End,
// i.e. after every event with Timestamp < End.
type DataPoint struct {
	Start      time.Time
	End        time.Time
	Value      int64
	Count      int64
	Increments int64
	Decrements int64
	Difference int64
}

// ValueAt reconstructs the counter value strictly before instant: the latest
// Set before it plus every Change inserted after that Set.
func ValueAt(ctx context.Context, log EventLog, f Filter, instant time.Time) (int64, error) {
	base, err := log.LatestSetBefore(ctx, f, instant)
	if err != nil {
		return 0, dataSourceError("latest_set_before", err)
	}

	var baseID uint64
	var baseValue int64
	if base != nil {
		baseID = base.ID
		baseValue = base.Value
	}

	sum, err := log.SumChangesAfterID(ctx, f, baseID, instant)
	if err != nil {
		return 0, dataSourceError("sum_changes_after_id", err)
	}
	return baseValue + sum, nil
}

// GroupChanges aggregates change events per period key in one pass.
// Keys are computed in loc, which must be the location the periods were
// generated in; a nil loc keeps each event's own location. Set events are
// ignored.
func GroupChanges(changes []Event, g Granularity, loc *time.Location) map[string]Aggregate {
	grouped := make(map[string]Aggregate)
	for _, e := range changes {
		if e.Kind != KindChange {
			continue
		}
		ts := e.Timestamp
		if loc != nil {
			ts = ts.In(loc)
		}
		key := PeriodKey(ts, g)
		agg := grouped[key]
		switch {
		case e.Value > 0:
			agg.Increments += e.Value
		case e.Value < 0:
			agg.Decrements -= e.Value
		}
		agg.Difference += e.Value
		agg.Count++
		grouped[key] = agg
	}
	return grouped
}

// Reconstruct folds the window's change events over the periods, starting
// from baseline. The running value carries across empty periods while the
// per-period aggregates of such periods stay zero.
//
// Increments and decrements come from grouped, keyed by period. Difference
// and Count are computed by the fold itself with a single cursor over the
// sorted changes.
func Reconstruct(baseline int64, periods []Period, changes []Event, grouped map[string]Aggregate) []DataPoint {
	return ReconstructWithSets(baseline, periods, changes, nil, grouped)
}

// ReconstructWithSets is Reconstruct with per-period Set overrides: the
// latest Set inside a period replaces the running value, and only changes
// ordered after that Set count towards the period's difference.
func ReconstructWithSets(baseline int64, periods []Period, changes, sets []Event, grouped map[string]Aggregate) []DataPoint {
	sortedChanges := sortedByKind(changes, KindChange)
	sortedSets := sortedByKind(sets, KindSet)

	points := make([]DataPoint, 0, len(periods))
	running := baseline
	ci, si := 0, 0
	for _, p := range periods {
		var setEvent *Event
		for si < len(sortedSets) && sortedSets[si].Timestamp.Before(p.End) {
			if !sortedSets[si].Timestamp.Before(p.Start) {
				setEvent = &sortedSets[si]
			}
			si++
		}

		startValue := running
		applyChangesAfter := p.Start
		if setEvent != nil {
			startValue = setEvent.Value
			applyChangesAfter = setEvent.Timestamp
		}

		// Changes before the period are already part of the baseline.
		for ci < len(sortedChanges) && sortedChanges[ci].Timestamp.Before(p.Start) {
			ci++
		}

		var difference, count int64
		for ci < len(sortedChanges) && sortedChanges[ci].Timestamp.Before(p.End) {
			e := sortedChanges[ci]
			ci++
			if e.Timestamp.Before(applyChangesAfter) {
				continue
			}
			if setEvent != nil && !orderedAfter(e, *setEvent) {
				continue
			}
			difference += e.Value
			count++
		}

		running = startValue + difference
		agg := grouped[p.Key]
		points = append(points, DataPoint{
			Start:      p.Start,
			End:        p.End,
			Value:      running,
			Count:      count,
			Increments: agg.Increments,
			Decrements: agg.Decrements,
			Difference: difference,
		})
	}
	return points
}

func sortedByKind(events []Event, kind Kind) []Event {
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return orderedAfter(out[j], out[i])
	})
	return out
}

// orderedAfter reports whether a comes after b in (Timestamp, ID) order.
func orderedAfter(a, b Event) bool {
	if a.Timestamp.Equal(b.Timestamp) {
		return a.ID > b.ID
	}
	return a.Timestamp.After(b.Timestamp)
}
