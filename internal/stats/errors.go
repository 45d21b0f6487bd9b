package stats

import (
	"errors"
	"fmt"
)

// Category classifies failures surfaced by queries.
type Category string

const (
	// CategoryConfiguration covers malformed requests: unknown granularity,
	// inverted windows, missing counter names.
	CategoryConfiguration Category = "CONFIGURATION"
	// CategoryDataSource covers failures of the underlying event log.
	CategoryDataSource Category = "DATA_SOURCE"
)

var (
	ErrConfiguration = &Error{Category: CategoryConfiguration}
	ErrDataSource    = &Error{Category: CategoryDataSource}
)

// Error is returned by every operation of this package.
// Op names the failing step, e.g. "changes_in_range".
type Error struct {
	Category Category
	Op       string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	} else if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("[%s] %s", e.Category, msg)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on category only, so errors.Is(err, ErrDataSource) holds for
// every data source failure regardless of the query that failed.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Category == t.Category
	}
	return false
}

func configError(op, msg string) error {
	return &Error{Category: CategoryConfiguration, Op: op, Message: msg}
}

func dataSourceError(op string, cause error) error {
	return &Error{Category: CategoryDataSource, Op: op, Cause: cause}
}
