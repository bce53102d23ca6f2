package store

import (
	"time"

	"github.com/google/uuid"

	"weektally/internal/model"
)

// Categorize upserts the categorization for ev, keyed by the event identity.
// A second categorization for the same event overwrites the first (an event
// belongs to at most one master entity). Title and window snapshots are
// frozen at assignment time. Manual duration carries over from the event for
// local duration-only records.
func (s *SessionStore) Categorize(ev model.NormalizedEvent, entity model.MasterEntity, notes string) model.Categorization {
	now := s.now()
	if notes == "" {
		notes = "categorized at " + now.Format(time.RFC3339)
	}

	cat := model.Categorization{
		ID:                "cat_" + uuid.NewString(),
		EventID:           ev.ID,
		MasterEntityID:    entity.ID,
		EventTitle:        ev.Title,
		MasterEntityTitle: entity.Title,
		EventStart:        ev.Start,
		EventEnd:          ev.End,
		Notes:             notes,
		CreatedAt:         now,
	}
	if ev.ID.IsLocal() && !ev.HasWindow() {
		cat.ManualDurationMinutes = ev.DurationMinutes
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cats[ev.ID]; !exists {
		s.catOrder = append(s.catOrder, ev.ID)
	}
	s.cats[ev.ID] = cat
	return cat
}

// Uncategorize deletes the categorization for the given event if present.
// No-op otherwise.
func (s *SessionStore) Uncategorize(id model.EventID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeCategorizationLocked(id)
}

// CategorizationFor looks up the categorization keyed by the event identity.
func (s *SessionStore) CategorizationFor(id model.EventID) (model.Categorization, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cat, ok := s.cats[id]
	return cat, ok
}

// Categorizations returns all categorizations in insertion order.
func (s *SessionStore) Categorizations() []model.Categorization {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Categorization, 0, len(s.catOrder))
	for _, id := range s.catOrder {
		out = append(out, s.cats[id])
	}
	return out
}

// CountByMasterEntity returns how many categorizations reference the given
// master entity. Used to phrase the cascade-delete confirmation.
func (s *SessionStore) CountByMasterEntity(entityID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, cat := range s.cats {
		if cat.MasterEntityID == entityID {
			n++
		}
	}
	return n
}

// RemoveByMasterEntity deletes every categorization referencing the given
// master entity, returning the number removed.
func (s *SessionStore) RemoveByMasterEntity(entityID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, id := range append([]model.EventID(nil), s.catOrder...) {
		if s.cats[id].MasterEntityID == entityID {
			s.removeCategorizationLocked(id)
			removed++
		}
	}
	return removed
}

// PruneExcept deletes categorizations whose event identity is not in keep,
// returning the pruned entries. The export builder calls this so orphans do
// not re-surface on later exports.
func (s *SessionStore) PruneExcept(keep map[model.EventID]struct{}) []model.Categorization {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned []model.Categorization
	for _, id := range append([]model.EventID(nil), s.catOrder...) {
		if _, ok := keep[id]; ok {
			continue
		}
		pruned = append(pruned, s.cats[id])
		s.removeCategorizationLocked(id)
	}
	return pruned
}

func (s *SessionStore) removeCategorizationLocked(id model.EventID) bool {
	if _, ok := s.cats[id]; !ok {
		return false
	}
	delete(s.cats, id)
	for i, other := range s.catOrder {
		if other == id {
			s.catOrder = append(s.catOrder[:i], s.catOrder[i+1:]...)
			break
		}
	}
	return true
}
