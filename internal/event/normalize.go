// Package event converts provider events into the canonical shape and
// assembles the merged working set for a week.
package event

import (
	"sort"
	"time"

	"weektally/internal/fault"
	"weektally/internal/model"
	"weektally/internal/week"
)

const dateOnlyLayout = "2006-01-02"

// Normalize converts a provider RawEvent into a NormalizedEvent.
//
// A date-only start marks the event all-day. If neither boundary parses the
// event is rejected with a validation error; a single parsable boundary is
// tolerated (the missing one collapses onto it and duration becomes 0).
func Normalize(raw model.RawEvent, loc *time.Location) (model.NormalizedEvent, error) {
	if loc == nil {
		loc = time.Local
	}

	start, startOK, allDay := parseBoundary(raw.StartDateTime, raw.StartDate, loc)
	end, endOK, _ := parseBoundary(raw.EndDateTime, raw.EndDate, loc)

	if !startOK && !endOK {
		return model.NormalizedEvent{}, fault.Validationf("event %q has no parsable start or end", raw.ID)
	}
	if !startOK {
		start = end
	}
	if !endOK {
		end = start
	}

	status := raw.Status
	if status == "" {
		status = "confirmed"
	}
	title := raw.Title
	if title == "" {
		title = "(untitled)"
	}

	return model.NormalizedEvent{
		ID:              model.RemoteID(raw.ID),
		Title:           title,
		Description:     raw.Description,
		Location:        raw.Location,
		Start:           start.In(loc),
		End:             end.In(loc),
		DurationMinutes: DurationMinutes(start, end),
		AllDay:          allDay,
		Status:          status,
	}, nil
}

// DurationMinutes computes whole floored minutes between start and end,
// clamped at zero.
func DurationMinutes(start, end time.Time) int {
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return 0
	}
	return int(end.Sub(start).Minutes())
}

// NormalizeAll normalizes a batch, dropping rejected events. The rejected
// count is returned so callers can log it.
func NormalizeAll(raws []model.RawEvent, loc *time.Location) ([]model.NormalizedEvent, int) {
	out := make([]model.NormalizedEvent, 0, len(raws))
	rejected := 0
	for _, raw := range raws {
		ev, err := Normalize(raw, loc)
		if err != nil {
			rejected++
			continue
		}
		out = append(out, ev)
	}
	return out, rejected
}

// MergeWeek combines normalized remote and local events whose start time
// falls inside [weekStart, weekEnd]. Events carry no week tag; membership
// is recomputed from the start time on every call, which also keeps a
// stale remote set (held over from a failed refresh at another offset) out
// of the wrong week. All-day events are excluded regardless of origin:
// they are not meaningful time allocations for this workflow. The result
// is stable-sorted ascending by start time.
func MergeWeek(remote, local []model.NormalizedEvent, weekStart, weekEnd time.Time) []model.NormalizedEvent {
	merged := make([]model.NormalizedEvent, 0, len(remote)+len(local))

	for _, ev := range remote {
		if ev.AllDay {
			continue
		}
		if !week.Contains(ev.Start, weekStart, weekEnd) {
			continue
		}
		merged = append(merged, ev)
	}
	for _, ev := range local {
		if ev.AllDay {
			continue
		}
		// Duration-only events have no start time and stay off the grid
		// until one is assigned.
		if !ev.HasWindow() {
			continue
		}
		if !week.Contains(ev.Start, weekStart, weekEnd) {
			continue
		}
		merged = append(merged, ev)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Start.Before(merged[j].Start)
	})
	return merged
}
