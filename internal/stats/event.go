package stats

import (
	"context"
	"time"
)

// Kind distinguishes absolute assignments from relative deltas.
// The numeric values are what the event log persists.
type Kind int

const (
	KindSet    Kind = 1
	KindChange Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindSet:
		return "set"
	case KindChange:
		return "change"
	}
	return "unknown"
}

// Event is one immutable entry of the append-only log. Events of one
// counter are ordered by (Timestamp, ID).
type Event struct {
	ID        uint64
	Name      string
	Tag       *string
	Kind      Kind
	Value     int64
	Timestamp time.Time
}

// Filter selects the events of one counter. A nil Tag selects every tag.
type Filter struct {
	Name string
	Tag  *string
}

// Matches reports whether e belongs to the filtered counter.
func (f Filter) Matches(e Event) bool {
	if e.Name != f.Name {
		return false
	}
	if f.Tag == nil {
		return true
	}
	return e.Tag != nil && *e.Tag == *f.Tag
}

// Aggregate summarizes the change events of one period.
type Aggregate struct {
	Increments int64
	Decrements int64
	Difference int64
	Count      int64
}

// EventLog is the read side of the event store.
type EventLog interface {
	// LatestSetBefore returns the Set event with the greatest (Timestamp, ID)
	// strictly before the given instant, or nil when there is none.
	LatestSetBefore(ctx context.Context, f Filter, before time.Time) (*Event, error)
	// SumChangesAfterID sums Change values with ID > afterID and Timestamp < before.
	SumChangesAfterID(ctx context.Context, f Filter, afterID uint64, before time.Time) (int64, error)
	// ChangesInRange returns Change events with from <= Timestamp < to,
	// ordered by (Timestamp, ID).
	ChangesInRange(ctx context.Context, f Filter, from, to time.Time) ([]Event, error)
}

// GroupedAggregator is implemented by logs that can group change events by
// period themselves. Keys are computed in from's location and results must
// equal GroupChanges over ChangesInRange.
type GroupedAggregator interface {
	GroupedAggregates(ctx context.Context, f Filter, from, to time.Time, g Granularity) (map[string]Aggregate, error)
}

// Appender is the write side of the event store. Implementations assign
// IDs in insertion order and default a zero Timestamp to the current time.
type Appender interface {
	Append(ctx context.Context, e Event) (Event, error)
}

// SetLister is implemented by logs that can list the Set events of a window.
// Queries need it only when per-period Set overrides are enabled.
type SetLister interface {
	SetsInRange(ctx context.Context, f Filter, from, to time.Time) ([]Event, error)
}
