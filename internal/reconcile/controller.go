// Package reconcile turns drag gestures into store mutations: time shifts,
// categorizations and cascade removals. Drop targets are a typed union
// resolved by a switch, never by parsing identifier strings.
package reconcile

import (
	"time"

	"weektally/internal/event"
	"weektally/internal/fault"
	"weektally/internal/log"
	"weektally/internal/model"
	"weektally/internal/refresh"
	"weektally/internal/store"
	"weektally/internal/store/durable"
)

// DragPayload carries the full event, not just an id, so a mutated source
// list cannot leave the gesture pointing at nothing. The event is still
// re-resolved against the latest snapshot before any commit.
type DragPayload struct {
	Event model.NormalizedEvent
}

// DropTarget is the tagged union of drop destinations.
type DropTarget interface {
	dropTarget()
}

// TimeSlot is a cell of the week grid. When the grid belongs to a master
// entity's own schedule view, ScheduleOf is set and the drop commits both
// the time shift and a categorization in one gesture.
type TimeSlot struct {
	Day  int // 0 = Sunday
	Hour int

	ScheduleOf *model.MasterEntity
}

// MasterEntityCard is an entity card; dropping categorizes without touching
// the event's time.
type MasterEntityCard struct {
	Entity model.MasterEntity
}

// PersonalPanel is the uncategorized pool; dropping there uncategorizes.
type PersonalPanel struct{}

func (TimeSlot) dropTarget()         {}
func (MasterEntityCard) dropTarget() {}
func (PersonalPanel) dropTarget()    {}

// Controller orchestrates reconciliation mutations against the session
// store, the durable selection and the active week snapshot.
type Controller struct {
	session *store.SessionStore
	durable *durable.Store
	orch    *refresh.Orchestrator
}

// New builds a Controller.
func New(session *store.SessionStore, dur *durable.Store, orch *refresh.Orchestrator) *Controller {
	return &Controller{session: session, durable: dur, orch: orch}
}

// Drop dispatches one completed drag gesture.
func (c *Controller) Drop(payload DragPayload, target DropTarget) error {
	ev, err := c.resolve(payload.Event.ID)
	if err != nil {
		return err
	}

	switch t := target.(type) {
	case TimeSlot:
		newStart, newEnd, err := c.slotWindow(ev, t.Day, t.Hour)
		if err != nil {
			return err
		}
		shifted, err := c.TimeShift(ev.ID, newStart, newEnd)
		if err != nil {
			return err
		}
		if t.ScheduleOf != nil {
			// Dropping into an entity's schedule is a time commit and a
			// categorization commit in one gesture.
			c.session.Categorize(shifted, *t.ScheduleOf, "")
		}
		return nil

	case MasterEntityCard:
		c.session.Categorize(ev, t.Entity, "")
		return nil

	case PersonalPanel:
		c.session.Uncategorize(ev.ID)
		return nil

	default:
		return fault.Validationf("unknown drop target %T", target)
	}
}

// Categorize assigns the event to the entity, overwriting any prior
// assignment for that event.
func (c *Controller) Categorize(id model.EventID, entity model.MasterEntity, notes string) (model.Categorization, error) {
	ev, err := c.resolve(id)
	if err != nil {
		return model.Categorization{}, err
	}
	return c.session.Categorize(ev, entity, notes), nil
}

// Uncategorize removes the event's assignment if present.
func (c *Controller) Uncategorize(id model.EventID) bool {
	return c.session.Uncategorize(id)
}

// TimeShift moves the event to a new window, recomputing its duration.
// Local events persist through the local store; remote events get an
// optimistic snapshot update pending the next provider refresh. An existing
// categorization's snapshot stays as assigned; only a schedule
// drop re-issues the categorization.
func (c *Controller) TimeShift(id model.EventID, newStart, newEnd time.Time) (model.NormalizedEvent, error) {
	if newEnd.Before(newStart) {
		return model.NormalizedEvent{}, fault.Validationf("end %s is before start %s", newEnd, newStart)
	}

	ev, err := c.resolve(id)
	if err != nil {
		return model.NormalizedEvent{}, err
	}

	if id.IsLocal() {
		updated, ok, uerr := c.session.UpdateLocal(id, store.LocalEventUpdate{Start: &newStart, End: &newEnd})
		if uerr != nil {
			return model.NormalizedEvent{}, uerr
		}
		if !ok {
			return model.NormalizedEvent{}, fault.ErrStaleDrag
		}
		c.orch.RemergeLocal()
		return updated, nil
	}

	ev.Start = newStart
	ev.End = newEnd
	ev.DurationMinutes = event.DurationMinutes(newStart, newEnd)
	c.orch.ApplyEventUpdate(ev)
	return ev, nil
}

// RemovalImpact returns how many categorizations removing the entity would
// discard. The caller must put this exact count in front of the user before
// calling RemoveMasterEntity.
func (c *Controller) RemovalImpact(entityID string) int {
	return c.session.CountByMasterEntity(entityID)
}

// RemoveMasterEntity deletes every categorization referencing the entity and
// drops it from the selection, as one logical operation: no categorization
// may be left pointing at a removed entity.
func (c *Controller) RemoveMasterEntity(entityID string) (int, error) {
	removed := c.session.RemoveByMasterEntity(entityID)
	if err := c.durable.RemoveSelected(entityID); err != nil {
		return removed, err
	}
	log.Info("master entity removed", "entity", entityID, "categorizations_removed", removed)
	return removed, nil
}

// resolve re-reads the event from the freshest state: the session store for
// local events, the week snapshot for remote ones. A vanished event aborts
// the gesture instead of committing against a stale copy.
func (c *Controller) resolve(id model.EventID) (model.NormalizedEvent, error) {
	if id.IsLocal() {
		if ev, ok := c.session.LocalEvent(id); ok {
			return ev, nil
		}
		return model.NormalizedEvent{}, fault.ErrStaleDrag
	}
	if ev, ok := c.orch.FindEvent(id); ok {
		return ev, nil
	}
	return model.NormalizedEvent{}, fault.ErrStaleDrag
}

// slotWindow computes the absolute window for a week-grid cell, preserving
// the event's duration.
func (c *Controller) slotWindow(ev model.NormalizedEvent, day, hour int) (time.Time, time.Time, error) {
	if day < 0 || day > 6 || hour < 0 || hour > 23 {
		return time.Time{}, time.Time{}, fault.Validationf("slot day=%d hour=%d out of range", day, hour)
	}

	snap, ok := c.orch.Snapshot()
	if !ok {
		return time.Time{}, time.Time{}, fault.Validationf("no active week")
	}

	start := snap.WeekStart.AddDate(0, 0, day).Add(time.Duration(hour) * time.Hour)
	duration := time.Duration(ev.DurationMinutes) * time.Minute
	if duration <= 0 && ev.HasWindow() {
		duration = ev.End.Sub(ev.Start)
	}
	return start, start.Add(duration), nil
}
