// Package store holds the session-scoped state: locally authored events and
// the categorization mapping. Nothing here reaches a remote provider, and
// everything is discarded when the session ends.
package store

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"weektally/internal/event"
	"weektally/internal/fault"
	"weektally/internal/model"
)

// SessionStore is passed explicitly into the reconciliation controller and
// the export builder; it is never reached through ambient globals, so tests
// can swap in a fresh instance.
type SessionStore struct {
	mu sync.Mutex

	localEvents map[model.EventID]model.NormalizedEvent
	localOrder  []model.EventID

	cats     map[model.EventID]model.Categorization
	catOrder []model.EventID // insertion order, preserved through export

	now func() time.Time
}

// NewSessionStore returns an empty session store. now may be nil, in which
// case time.Now is used; tests inject a fixed clock.
func NewSessionStore(now func() time.Time) *SessionStore {
	if now == nil {
		now = time.Now
	}
	return &SessionStore{
		localEvents: make(map[model.EventID]model.NormalizedEvent),
		cats:        make(map[model.EventID]model.Categorization),
		now:         now,
	}
}

// CreateLocalRequest describes a manually authored event. Either a concrete
// start/end window or a bare positive duration must be supplied.
type CreateLocalRequest struct {
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time

	// DurationMinutes is used for events without fixed wall-clock times.
	// Ignored when a window is given.
	DurationMinutes int
}

// CreateLocal validates the request, generates a collision-resistant local
// identifier and stores the event. Duration-only events (no window) are
// valid for export but stay off the time grid until a start is assigned.
func (s *SessionStore) CreateLocal(req CreateLocalRequest) (model.NormalizedEvent, error) {
	hasWindow := !req.Start.IsZero() && !req.End.IsZero()

	if hasWindow && req.End.Before(req.Start) {
		return model.NormalizedEvent{}, fault.Validationf("end %s is before start %s", req.End, req.Start)
	}
	if !hasWindow && req.DurationMinutes <= 0 {
		return model.NormalizedEvent{}, fault.Validationf("event needs a time window or a positive duration")
	}

	duration := req.DurationMinutes
	if hasWindow {
		duration = event.DurationMinutes(req.Start, req.End)
	}

	ev := model.NormalizedEvent{
		ID:              model.LocalID(uuid.NewString()),
		Title:           req.Title,
		Description:     req.Description,
		Location:        req.Location,
		Start:           req.Start,
		End:             req.End,
		DurationMinutes: duration,
		Status:          "confirmed",
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.localEvents[ev.ID] = ev
	s.localOrder = append(s.localOrder, ev.ID)
	return ev, nil
}

// LocalEventUpdate carries the fields of a partial update. Nil pointers
// leave the stored value untouched.
type LocalEventUpdate struct {
	Title           *string
	Description     *string
	Location        *string
	Start           *time.Time
	End             *time.Time
	DurationMinutes *int
}

// UpdateLocal applies a partial update. Duration is recomputed whenever
// either boundary changes; an explicit DurationMinutes only applies to
// events without a window. Returns false if the event does not exist.
func (s *SessionStore) UpdateLocal(id model.EventID, upd LocalEventUpdate) (model.NormalizedEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.localEvents[id]
	if !ok {
		return model.NormalizedEvent{}, false, nil
	}

	next := ev
	if upd.Title != nil {
		next.Title = *upd.Title
	}
	if upd.Description != nil {
		next.Description = *upd.Description
	}
	if upd.Location != nil {
		next.Location = *upd.Location
	}
	boundaryChanged := false
	if upd.Start != nil {
		next.Start = *upd.Start
		boundaryChanged = true
	}
	if upd.End != nil {
		next.End = *upd.End
		boundaryChanged = true
	}

	if next.HasWindow() && next.End.Before(next.Start) {
		return model.NormalizedEvent{}, true, fault.Validationf("end %s is before start %s", next.End, next.Start)
	}

	if boundaryChanged && next.HasWindow() {
		next.DurationMinutes = event.DurationMinutes(next.Start, next.End)
	} else if upd.DurationMinutes != nil {
		if *upd.DurationMinutes <= 0 {
			return model.NormalizedEvent{}, true, fault.Validationf("duration must be positive")
		}
		next.DurationMinutes = *upd.DurationMinutes
	}

	s.localEvents[id] = next
	return next, true, nil
}

// DeleteLocal removes a local event. It reports whether anything was
// deleted. Categorizations referencing the event are left in place; the
// export builder prunes them as orphans.
func (s *SessionStore) DeleteLocal(id model.EventID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.localEvents[id]; !ok {
		return false
	}
	delete(s.localEvents, id)
	for i, other := range s.localOrder {
		if other == id {
			s.localOrder = append(s.localOrder[:i], s.localOrder[i+1:]...)
			break
		}
	}
	return true
}

// LocalEvents returns all local events in creation order.
func (s *SessionStore) LocalEvents() []model.NormalizedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.NormalizedEvent, 0, len(s.localOrder))
	for _, id := range s.localOrder {
		out = append(out, s.localEvents[id])
	}
	return out
}

// LocalEvent looks up one local event.
func (s *SessionStore) LocalEvent(id model.EventID) (model.NormalizedEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.localEvents[id]
	return ev, ok
}

// ClearAll wipes local events and categorizations atomically, returning the
// counts discarded. Callers report the counts before invoking the wipe.
func (s *SessionStore) ClearAll() (localCount, categorizationCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	localCount = len(s.localEvents)
	categorizationCount = len(s.cats)

	s.localEvents = make(map[model.EventID]model.NormalizedEvent)
	s.localOrder = nil
	s.cats = make(map[model.EventID]model.Categorization)
	s.catOrder = nil
	return localCount, categorizationCount
}
