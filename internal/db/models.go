package db

import (
	"time"

	"gorm.io/datatypes"

	"counterstats/internal/stats"
)

// StatsEvent is one row of the append-only counter log. Rows are written
// once and never updated.
type StatsEvent struct {
	ID uint64 `gorm:"primaryKey"`

	// Name identifies the counter.
	Name string `gorm:"size:191;not null;index:idx_stats_events_lookup,priority:1"`

	// Tag optionally partitions a counter's events. NULL means untagged.
	Tag *string `gorm:"size:191;index:idx_stats_events_lookup,priority:2"`

	// Type is stats.KindSet (absolute value) or stats.KindChange (delta).
	Type int `gorm:"not null;index:idx_stats_events_lookup,priority:3"`

	Value int64 `gorm:"not null"`

	// CreatedAt is the instant the event is considered to have happened.
	// Writers may backdate it; gorm fills it with the insert time when zero.
	CreatedAt time.Time `gorm:"index:idx_stats_events_lookup,priority:4"`

	// Attributes holds arbitrary key/value pairs supplied by the writer.
	// They are stored for inspection only and never affect aggregation.
	Attributes datatypes.JSONMap `gorm:"type:json"`
}

func (StatsEvent) TableName() string { return "stats_events" }

func newStatsEvent(e stats.Event) StatsEvent {
	row := StatsEvent{
		Name:  e.Name,
		Tag:   e.Tag,
		Type:  int(e.Kind),
		Value: e.Value,
	}
	if !e.Timestamp.IsZero() {
		row.CreatedAt = e.Timestamp.UTC()
	}
	return row
}

func (r StatsEvent) event() stats.Event {
	return stats.Event{
		ID:        r.ID,
		Name:      r.Name,
		Tag:       r.Tag,
		Kind:      stats.Kind(r.Type),
		Value:     r.Value,
		Timestamp: r.CreatedAt,
	}
}

// User can read statistics through the HTTP API. The bootstrap admin user
// (from env) is created as a row in this table on startup.
type User struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"size:255;not null"`

	IsAdmin bool `gorm:"default:false"`
}

// APIKey authorizes writers on the ingest endpoint.
type APIKey struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	UserID uint `gorm:"index;not null"`

	// Name is a user-friendly identifier for this key (e.g. "billing-worker").
	Name string `gorm:"size:128;not null"`

	// Key is the bearer token value.
	Key string `gorm:"uniqueIndex;size:255;not null"`

	Active bool `gorm:"default:true"`

	User User `gorm:"foreignKey:UserID"`
}
