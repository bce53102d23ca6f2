package model

import "time"

// Origin discriminates where an event came from. Remote events are pulled
// from a calendar provider and recreated on every refresh; local events are
// authored in-session and never synchronize upstream.
type Origin string

const (
	OriginRemote Origin = "remote"
	OriginLocal  Origin = "local"
)

// EventID is the discriminated identity of a personal event. All stores key
// by this value rather than by prefix-matching raw id strings. For remote
// events ID is the provider's event id; for local events it is a generated
// identifier.
type EventID struct {
	Origin Origin `json:"origin"`
	ID     string `json:"id"`
}

// RemoteID builds the identity of a provider-sourced event.
func RemoteID(id string) EventID { return EventID{Origin: OriginRemote, ID: id} }

// LocalID builds the identity of a session-authored event.
func LocalID(id string) EventID { return EventID{Origin: OriginLocal, ID: id} }

// IsLocal reports whether the event was authored in-session.
func (e EventID) IsLocal() bool { return e.Origin == OriginLocal }

func (e EventID) String() string { return string(e.Origin) + ":" + e.ID }

// RawEvent is a provider event before normalization. Either the DateTime or
// the Date form of each boundary is set; a bare Date signals an all-day
// entry. Both boundaries missing or unparsable rejects the event.
type RawEvent struct {
	ID          string
	Title       string
	Description string
	Location    string

	StartDateTime string // RFC 3339, timed events
	StartDate     string // YYYY-MM-DD, all-day events
	EndDateTime   string
	EndDate       string

	Status string
}

// NormalizedEvent is the canonical event shape the engine works with.
//
// DurationMinutes tracks the start/end window except for duration-only local
// events, which carry zero boundaries and an explicit duration.
type NormalizedEvent struct {
	ID          EventID   `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`

	DurationMinutes int    `json:"duration_minutes"`
	AllDay          bool   `json:"all_day"`
	Status          string `json:"status"`
}

// HasWindow reports whether the event carries a concrete start time and can
// be placed on the week time grid.
func (e NormalizedEvent) HasWindow() bool { return !e.Start.IsZero() }

// MasterEntity is one fixed reference item (a course) that personal events
// are categorized against. Immutable from the engine's perspective.
type MasterEntity struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	SourceRowID int64  `json:"source_row_id"`
}

// Categorization is the single active assignment of a personal event to one
// master entity. At most one exists per EventID; re-categorizing overwrites.
// Title and time fields are snapshots frozen at assignment time so rendering
// never needs to re-join against live event data.
type Categorization struct {
	ID                string    `json:"id"`
	EventID           EventID   `json:"event_id"`
	MasterEntityID    string    `json:"master_entity_id"`
	EventTitle        string    `json:"event_title"`
	MasterEntityTitle string    `json:"master_entity_title"`
	EventStart        time.Time `json:"event_start"`
	EventEnd          time.Time `json:"event_end"`

	// ManualDurationMinutes overrides derived duration for local records
	// when positive.
	ManualDurationMinutes int `json:"manual_duration_minutes,omitempty"`

	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordKind labels a ledger record by how its duration was obtained.
type RecordKind string

const (
	RecordCalendar RecordKind = "calendar"
	RecordManual   RecordKind = "manual"
)

// Record is one ledger-ready row. Field names follow the ledger wire format:
// calendar records carry start/end, manual records omit them.
type Record struct {
	EventName       string     `json:"eventName"`
	EventType       RecordKind `json:"eventType"`
	StartTime       string     `json:"startTime,omitempty"`
	EndTime         string     `json:"endTime,omitempty"`
	DurationMinutes int        `json:"duration"`
	MasterEntityID  string     `json:"courseId"`
}

// SubmitResult is the ledger's response to a batch submission.
type SubmitResult struct {
	Message         string `json:"message"`
	NewRecords      int    `json:"newRecords"`
	MarkedAsInvalid int    `json:"markedAsInvalid"`
	BatchID         string `json:"batchId"`
}

// CacheEnvelope wraps a cached payload with its creation time and lifetime.
// An envelope is valid iff now-CachedAt < TTLMinutes; expired entries are
// treated as absent and evicted on read.
type CacheEnvelope[T any] struct {
	Payload    T         `json:"payload"`
	CachedAt   time.Time `json:"cached_at"`
	TTLMinutes int       `json:"ttl_minutes"`
}

// Valid reports whether the envelope is still within its lifetime.
func (c CacheEnvelope[T]) Valid(now time.Time) bool {
	if c.CachedAt.IsZero() || c.TTLMinutes <= 0 {
		return false
	}
	return now.Sub(c.CachedAt) < time.Duration(c.TTLMinutes)*time.Minute
}
