package stats

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryLog is an in-process event log. It keeps events in insertion order
// and is safe for concurrent use.
type MemoryLog struct {
	mu     sync.RWMutex
	events []Event
	nextID uint64
	now    func() time.Time
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{now: time.Now}
}

// Append stores e with the next ID. A zero Timestamp becomes the current time.
func (l *MemoryLog) Append(_ context.Context, e Event) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	e.ID = l.nextID
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	if e.Tag != nil {
		tag := *e.Tag
		e.Tag = &tag
	}
	l.events = append(l.events, e)
	return e, nil
}

func (l *MemoryLog) LatestSetBefore(_ context.Context, f Filter, before time.Time) (*Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var latest *Event
	for i := range l.events {
		e := l.events[i]
		if e.Kind != KindSet || !f.Matches(e) || !e.Timestamp.Before(before) {
			continue
		}
		if latest == nil || orderedAfter(e, *latest) {
			latest = &e
		}
	}
	return latest, nil
}

func (l *MemoryLog) SumChangesAfterID(_ context.Context, f Filter, afterID uint64, before time.Time) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var sum int64
	for _, e := range l.events {
		if e.Kind == KindChange && f.Matches(e) && e.ID > afterID && e.Timestamp.Before(before) {
			sum += e.Value
		}
	}
	return sum, nil
}

func (l *MemoryLog) ChangesInRange(_ context.Context, f Filter, from, to time.Time) ([]Event, error) {
	return l.inRange(KindChange, f, from, to), nil
}

// SetsInRange returns Set events with from <= Timestamp < to, ordered by (Timestamp, ID).
func (l *MemoryLog) SetsInRange(_ context.Context, f Filter, from, to time.Time) ([]Event, error) {
	return l.inRange(KindSet, f, from, to), nil
}

func (l *MemoryLog) inRange(kind Kind, f Filter, from, to time.Time) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Event
	for _, e := range l.events {
		if e.Kind == kind && f.Matches(e) && !e.Timestamp.Before(from) && e.Timestamp.Before(to) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return orderedAfter(out[j], out[i])
	})
	return out
}

// Len returns the number of stored events.
func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
