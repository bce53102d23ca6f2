package event

import "time"

// parseBoundary interprets one side of an event window. The date-time form
// wins when both are present; a date-only value flags the all-day case.
func parseBoundary(dateTime, dateOnly string, loc *time.Location) (t time.Time, ok, allDay bool) {
	if dateTime != "" {
		if parsed, err := time.Parse(time.RFC3339, dateTime); err == nil {
			return parsed, true, false
		}
	}
	if dateOnly != "" {
		if parsed, err := time.ParseInLocation(dateOnlyLayout, dateOnly, loc); err == nil {
			return parsed, true, true
		}
	}
	return time.Time{}, false, false
}
