package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInstant(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	cases := []struct {
		in   string
		loc  *time.Location
		want time.Time
	}{
		{"2024-05-01T10:00:00Z", time.UTC, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-05-01T10:00:00.5+02:00", time.UTC, time.Date(2024, 5, 1, 8, 0, 0, 5e8, time.UTC)},
		{"2024-05-01", tokyo, time.Date(2024, 5, 1, 0, 0, 0, 0, tokyo)},
		{"2024-05-01 13:30", time.UTC, time.Date(2024, 5, 1, 13, 30, 0, 0, time.UTC)},
		{"2024-05-01T13:30", tokyo, time.Date(2024, 5, 1, 13, 30, 0, 0, tokyo)},
		{"2024-05", time.UTC, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{"2024", tokyo, time.Date(2024, 1, 1, 0, 0, 0, 0, tokyo)},
		{"1714557600", time.UTC, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := parseInstant(tc.in, tc.loc)
		require.NoError(t, err, tc.in)
		assert.True(t, tc.want.Equal(got), "%s: got %s", tc.in, got)
		assert.Equal(t, tc.loc, got.Location(), tc.in)
	}

	_, err = parseInstant("next tuesday", time.UTC)
	assert.Error(t, err)
}

type unitCounter struct{}

func (unitCounter) Name() string               { return "latency" }
func (unitCounter) FormatValue(v int64) string { return time.Duration(v * int64(time.Millisecond)).String() }

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "1.5s", formatValue(unitCounter{}, 1500))
}
