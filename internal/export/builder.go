// Package export turns the categorization store into ledger-ready records
// and talks to the submission backend.
package export

import (
	"time"

	"weektally/internal/log"
	"weektally/internal/model"
	"weektally/internal/store"
)

// BuildBatch produces the submission batch for the current event set, in the
// categorization store's insertion order.
//
// Categorizations whose event no longer exists are orphans: the event was
// deleted or rotated out of the visible week after it was categorized. They
// produce no record and are pruned from the store itself so they cannot
// re-surface on a later export. An event still present in the local store
// is never an orphan, even when it is off the grid (duration-only, no
// window assigned yet). Pruning is logged, not surfaced; there is nothing
// for the user to act on.
func BuildBatch(session *store.SessionStore, currentEvents []model.NormalizedEvent) []model.Record {
	keep := make(map[model.EventID]struct{}, len(currentEvents))
	for _, ev := range currentEvents {
		keep[ev.ID] = struct{}{}
	}
	for _, ev := range session.LocalEvents() {
		keep[ev.ID] = struct{}{}
	}

	pruned := session.PruneExcept(keep)
	for _, cat := range pruned {
		log.Warn("orphan categorization pruned",
			"event", cat.EventID, "event_title", cat.EventTitle, "entity", cat.MasterEntityID)
	}

	cats := session.Categorizations()
	records := make([]model.Record, 0, len(cats))
	for _, cat := range cats {
		records = append(records, toRecord(cat))
	}
	return records
}

// toRecord classifies a categorization by its event's origin and derives the
// duration accordingly:
//
//   - manual (local origin): the manual override when positive, otherwise
//     the snapshot window when both boundaries are set, otherwise 0. Start
//     and end are omitted from the record.
//   - calendar (remote origin): always the snapshot window.
func toRecord(cat model.Categorization) model.Record {
	rec := model.Record{
		EventName:      cat.EventTitle,
		MasterEntityID: cat.MasterEntityID,
	}

	if cat.EventID.IsLocal() {
		rec.EventType = model.RecordManual
		switch {
		case cat.ManualDurationMinutes > 0:
			rec.DurationMinutes = cat.ManualDurationMinutes
		case !cat.EventStart.IsZero() && !cat.EventEnd.IsZero():
			rec.DurationMinutes = windowMinutes(cat.EventStart, cat.EventEnd)
		default:
			rec.DurationMinutes = 0
		}
		return rec
	}

	rec.EventType = model.RecordCalendar
	rec.StartTime = cat.EventStart.Format(time.RFC3339)
	rec.EndTime = cat.EventEnd.Format(time.RFC3339)
	rec.DurationMinutes = windowMinutes(cat.EventStart, cat.EventEnd)
	return rec
}

func windowMinutes(start, end time.Time) int {
	if end.Before(start) {
		return 0
	}
	return int(end.Sub(start).Minutes())
}
