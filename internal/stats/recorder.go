package stats

import (
	"context"
	"time"
)

// Recorder writes events for counters through an Appender.
type Recorder struct {
	log Appender
}

func NewRecorder(log Appender) *Recorder {
	return &Recorder{log: log}
}

type recordOptions struct {
	at     time.Time
	tag    *string
	tagSet bool
}

// RecordOption customizes a single recorded event.
type RecordOption func(*recordOptions)

// At sets the event timestamp. The log's current time is used otherwise.
func At(t time.Time) RecordOption {
	return func(o *recordOptions) { o.at = t }
}

// Tagged overrides the counter's default tag.
func Tagged(tag string) RecordOption {
	return func(o *recordOptions) {
		o.tag = &tag
		o.tagSet = true
	}
}

// Increase records a positive change. Non-positive amounts count as 1.
func (r *Recorder) Increase(ctx context.Context, c Counter, n int64, opts ...RecordOption) (Event, error) {
	if n <= 0 {
		n = 1
	}
	return r.record(ctx, c, KindChange, n, opts)
}

// Decrease records a negative change of n. Non-positive amounts count as 1.
func (r *Recorder) Decrease(ctx context.Context, c Counter, n int64, opts ...RecordOption) (Event, error) {
	if n <= 0 {
		n = 1
	}
	return r.record(ctx, c, KindChange, -n, opts)
}

// Set records an absolute value.
func (r *Recorder) Set(ctx context.Context, c Counter, v int64, opts ...RecordOption) (Event, error) {
	return r.record(ctx, c, KindSet, v, opts)
}

// Change records a signed delta as given.
func (r *Recorder) Change(ctx context.Context, c Counter, delta int64, opts ...RecordOption) (Event, error) {
	return r.record(ctx, c, KindChange, delta, opts)
}

func (r *Recorder) record(ctx context.Context, c Counter, kind Kind, value int64, opts []RecordOption) (Event, error) {
	if c == nil || c.Name() == "" {
		return Event{}, configError("record", "counter name is required")
	}

	var o recordOptions
	for _, opt := range opts {
		opt(&o)
	}
	tag := o.tag
	if !o.tagSet {
		if dt, ok := c.(DefaultTagger); ok {
			tag = dt.DefaultTag()
		}
	}

	e, err := r.log.Append(ctx, Event{
		Name:      c.Name(),
		Tag:       tag,
		Kind:      kind,
		Value:     value,
		Timestamp: o.at,
	})
	if err != nil {
		return Event{}, dataSourceError("append", err)
	}
	return e, nil
}
