package stats

// Counter identifies a named statistic.
type Counter interface {
	Name() string
}

// DefaultTagger is implemented by counters whose events carry a tag unless
// the writer supplies one.
type DefaultTagger interface {
	DefaultTag() *string
}

// ValueFormatter is implemented by counters with a display format.
type ValueFormatter interface {
	FormatValue(v int64) string
}

type namedCounter string

func (n namedCounter) Name() string { return string(n) }

// Named returns a Counter with no specialization.
func Named(name string) Counter {
	return namedCounter(name)
}
