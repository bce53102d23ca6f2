package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleICS = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:simple-1\r\n" +
	"SUMMARY:Standup\r\n" +
	"LOCATION:Room 2\r\n" +
	"DTSTART:20250310T090000Z\r\n" +
	"DTEND:20250310T093000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:allday-1\r\n" +
	"SUMMARY:Holiday\r\n" +
	"DTSTART;VALUE=DATE:20250311\r\n" +
	"DTEND;VALUE=DATE:20250312\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"SUMMARY:No UID, skipped\r\n" +
	"DTSTART:20250310T100000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseICS(t *testing.T) {
	events, err := parseICS(Subscription{ID: "test"}, []byte(sampleICS))
	require.NoError(t, err)
	require.Len(t, events, 2)

	standup := events[0]
	assert.Equal(t, "simple-1", standup.UID)
	assert.Equal(t, "Standup", standup.Summary)
	assert.Equal(t, "Room 2", standup.Location)
	assert.False(t, standup.AllDay)
	assert.Equal(t, 30*time.Minute, standup.End.Sub(standup.Start))

	holiday := events[1]
	assert.Equal(t, "allday-1", holiday.UID)
	assert.True(t, holiday.AllDay)
}

func TestParseICSEmptyBody(t *testing.T) {
	_, err := parseICS(Subscription{ID: "test"}, nil)
	assert.Error(t, err)
}

func TestParseICSTime(t *testing.T) {
	utc, err := parseICSTime("20250310T090000Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC), utc)

	dateOnly, err := parseICSTime("20250310")
	require.NoError(t, err)
	assert.Equal(t, 2025, dateOnly.Year())
	assert.Equal(t, time.March, dateOnly.Month())

	_, err = parseICSTime("")
	assert.Error(t, err)
}

func TestExpandSingleEventWindowFilter(t *testing.T) {
	ev := parsedEvent{
		UID:     "single",
		Summary: "One-off",
		Start:   time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC),
		End:     time.Date(2025, time.March, 10, 10, 0, 0, 0, time.UTC),
	}
	weekStart := time.Date(2025, time.March, 9, 0, 0, 0, 0, time.UTC)
	weekEnd := time.Date(2025, time.March, 15, 23, 59, 59, 0, time.UTC)

	raws, truncated := expand(ev, nil, weekStart, weekEnd)
	require.Len(t, raws, 1)
	assert.False(t, truncated)
	assert.Equal(t, "single", raws[0].ID)
	assert.Equal(t, "2025-03-10T09:00:00Z", raws[0].StartDateTime)

	// Outside the window nothing is emitted.
	raws, _ = expand(ev, nil, weekStart.AddDate(0, 0, 7), weekEnd.AddDate(0, 0, 7))
	assert.Empty(t, raws)
}

func TestExpandWeeklyRecurrence(t *testing.T) {
	ev := parsedEvent{
		UID:      "weekly",
		Summary:  "Lecture",
		Start:    time.Date(2025, time.March, 3, 14, 0, 0, 0, time.UTC), // Monday
		End:      time.Date(2025, time.March, 3, 15, 30, 0, 0, time.UTC),
		RawRRule: "FREQ=WEEKLY;BYDAY=MO",
	}
	weekStart := time.Date(2025, time.March, 9, 0, 0, 0, 0, time.UTC)
	weekEnd := time.Date(2025, time.March, 15, 23, 59, 59, 0, time.UTC)

	raws, truncated := expand(ev, nil, weekStart, weekEnd)
	require.Len(t, raws, 1)
	assert.False(t, truncated)

	// Instance ids embed the occurrence start so each one keys separately.
	assert.Equal(t, "weekly_20250310T140000Z", raws[0].ID)
	assert.Equal(t, "2025-03-10T14:00:00Z", raws[0].StartDateTime)
	assert.Equal(t, "2025-03-10T15:30:00Z", raws[0].EndDateTime)
}

func TestExpandRespectsExDates(t *testing.T) {
	ev := parsedEvent{
		UID:      "weekly",
		Start:    time.Date(2025, time.March, 3, 14, 0, 0, 0, time.UTC),
		End:      time.Date(2025, time.March, 3, 15, 0, 0, 0, time.UTC),
		RawRRule: "FREQ=WEEKLY;BYDAY=MO",
		ExDates:  []time.Time{time.Date(2025, time.March, 10, 14, 0, 0, 0, time.UTC)},
	}
	weekStart := time.Date(2025, time.March, 9, 0, 0, 0, 0, time.UTC)
	weekEnd := time.Date(2025, time.March, 15, 23, 59, 59, 0, time.UTC)

	raws, _ := expand(ev, nil, weekStart, weekEnd)
	assert.Empty(t, raws)
}

func TestExpandAppliesOverrides(t *testing.T) {
	base := parsedEvent{
		UID:      "weekly",
		Summary:  "Lecture",
		Start:    time.Date(2025, time.March, 3, 14, 0, 0, 0, time.UTC),
		End:      time.Date(2025, time.March, 3, 15, 0, 0, 0, time.UTC),
		RawRRule: "FREQ=WEEKLY;BYDAY=MO",
	}
	recurrence := time.Date(2025, time.March, 10, 14, 0, 0, 0, time.UTC)
	override := parsedEvent{
		UID:        "weekly",
		Summary:    "Lecture (moved)",
		Start:      time.Date(2025, time.March, 10, 16, 0, 0, 0, time.UTC),
		End:        time.Date(2025, time.March, 10, 17, 0, 0, 0, time.UTC),
		Recurrence: &recurrence,
	}
	weekStart := time.Date(2025, time.March, 9, 0, 0, 0, 0, time.UTC)
	weekEnd := time.Date(2025, time.March, 15, 23, 59, 59, 0, time.UTC)

	raws, _ := expand(base, []parsedEvent{override}, weekStart, weekEnd)
	require.Len(t, raws, 1)
	assert.Equal(t, "Lecture (moved)", raws[0].Title)
	assert.Equal(t, "2025-03-10T16:00:00Z", raws[0].StartDateTime)
}

func TestToRawAllDayUsesDateForm(t *testing.T) {
	ev := parsedEvent{UID: "allday", Summary: "Holiday", AllDay: true}
	start := time.Date(2025, time.March, 11, 0, 0, 0, 0, time.UTC)

	raw := toRaw(ev, ev.UID, start, start.Add(24*time.Hour))
	assert.Equal(t, "2025-03-11", raw.StartDate)
	assert.Equal(t, "2025-03-12", raw.EndDate)
	assert.Empty(t, raw.StartDateTime)
}
