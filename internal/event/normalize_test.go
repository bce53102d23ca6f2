package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weektally/internal/fault"
	"weektally/internal/model"
)

func TestNormalizeTimedEvent(t *testing.T) {
	raw := model.RawEvent{
		ID:            "ev1",
		Title:         "Standup",
		StartDateTime: "2025-03-10T09:00:00Z",
		EndDateTime:   "2025-03-10T10:30:00Z",
	}

	ev, err := Normalize(raw, time.UTC)
	require.NoError(t, err)

	assert.Equal(t, model.RemoteID("ev1"), ev.ID)
	assert.Equal(t, "Standup", ev.Title)
	assert.False(t, ev.AllDay)
	assert.Equal(t, 90, ev.DurationMinutes)
	assert.Equal(t, "confirmed", ev.Status)
}

func TestNormalizeDateOnlyIsAllDay(t *testing.T) {
	raw := model.RawEvent{
		ID:        "ev2",
		Title:     "Holiday",
		StartDate: "2025-03-10",
		EndDate:   "2025-03-11",
	}

	ev, err := Normalize(raw, time.UTC)
	require.NoError(t, err)

	assert.True(t, ev.AllDay)
	assert.Equal(t, time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC), ev.Start)
}

func TestNormalizeRejectsUnparsableBoundaries(t *testing.T) {
	raw := model.RawEvent{ID: "ev3", StartDateTime: "not-a-time", EndDate: "also bad"}

	_, err := Normalize(raw, time.UTC)
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrValidation)
}

func TestNormalizeSingleBoundaryCollapses(t *testing.T) {
	raw := model.RawEvent{ID: "ev4", Title: "Ping", StartDateTime: "2025-03-10T09:00:00Z"}

	ev, err := Normalize(raw, time.UTC)
	require.NoError(t, err)

	assert.Equal(t, ev.Start, ev.End)
	assert.Equal(t, 0, ev.DurationMinutes)
}

func TestNormalizeFillsDefaults(t *testing.T) {
	raw := model.RawEvent{ID: "ev5", StartDateTime: "2025-03-10T09:00:00Z", EndDateTime: "2025-03-10T09:30:00Z"}

	ev, err := Normalize(raw, time.UTC)
	require.NoError(t, err)

	assert.Equal(t, "(untitled)", ev.Title)
	assert.Equal(t, "confirmed", ev.Status)
}

func TestDurationMinutesFloorsAndClamps(t *testing.T) {
	start := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, 90, DurationMinutes(start, start.Add(90*time.Minute)))
	assert.Equal(t, 90, DurationMinutes(start, start.Add(90*time.Minute+45*time.Second)))
	assert.Equal(t, 0, DurationMinutes(start, start.Add(-time.Hour)))
	assert.Equal(t, 0, DurationMinutes(time.Time{}, start))
}

func TestNormalizeAllCountsRejected(t *testing.T) {
	raws := []model.RawEvent{
		{ID: "good", StartDateTime: "2025-03-10T09:00:00Z", EndDateTime: "2025-03-10T10:00:00Z"},
		{ID: "bad"},
		{ID: "good2", StartDate: "2025-03-11"},
	}

	out, rejected := NormalizeAll(raws, time.UTC)
	assert.Len(t, out, 2)
	assert.Equal(t, 1, rejected)
}

func TestMergeWeek(t *testing.T) {
	weekStart := time.Date(2025, time.March, 9, 0, 0, 0, 0, time.UTC)
	weekEnd := time.Date(2025, time.March, 15, 23, 59, 59, int(999*time.Millisecond), time.UTC)

	remote := []model.NormalizedEvent{
		{ID: model.RemoteID("r-wed"), Start: weekStart.AddDate(0, 0, 3).Add(14 * time.Hour)},
		{ID: model.RemoteID("r-mon"), Start: weekStart.AddDate(0, 0, 1).Add(9 * time.Hour)},
		{ID: model.RemoteID("r-allday"), Start: weekStart, AllDay: true},
	}
	local := []model.NormalizedEvent{
		{ID: model.LocalID("l-tue"), Start: weekStart.AddDate(0, 0, 2).Add(11 * time.Hour)},
		{ID: model.LocalID("l-lastweek"), Start: weekStart.AddDate(0, 0, -2)},
		{ID: model.LocalID("l-windowless"), DurationMinutes: 45},
	}

	merged := MergeWeek(remote, local, weekStart, weekEnd)

	require.Len(t, merged, 3)
	assert.Equal(t, model.RemoteID("r-mon"), merged[0].ID)
	assert.Equal(t, model.LocalID("l-tue"), merged[1].ID)
	assert.Equal(t, model.RemoteID("r-wed"), merged[2].ID)
}

func TestMergeWeekFiltersRemoteByWindow(t *testing.T) {
	weekStart := time.Date(2025, time.March, 9, 0, 0, 0, 0, time.UTC)
	weekEnd := time.Date(2025, time.March, 15, 23, 59, 59, int(999*time.Millisecond), time.UTC)

	// A remote set held over from another week must not leak into this one.
	remote := []model.NormalizedEvent{
		{ID: model.RemoteID("r-lastweek"), Start: weekStart.AddDate(0, 0, -3)},
		{ID: model.RemoteID("r-nextweek"), Start: weekEnd.Add(24 * time.Hour)},
		{ID: model.RemoteID("r-mon"), Start: weekStart.AddDate(0, 0, 1).Add(9 * time.Hour)},
	}

	merged := MergeWeek(remote, nil, weekStart, weekEnd)

	require.Len(t, merged, 1)
	assert.Equal(t, model.RemoteID("r-mon"), merged[0].ID)
}

func TestMergeWeekBoundaryMembership(t *testing.T) {
	weekStart := time.Date(2025, time.March, 9, 0, 0, 0, 0, time.UTC)
	weekEnd := time.Date(2025, time.March, 15, 23, 59, 59, int(999*time.Millisecond), time.UTC)

	local := []model.NormalizedEvent{
		{ID: model.LocalID("at-start"), Start: weekStart},
		{ID: model.LocalID("at-end"), Start: weekEnd},
		{ID: model.LocalID("just-after"), Start: weekEnd.Add(time.Millisecond)},
	}

	merged := MergeWeek(nil, local, weekStart, weekEnd)

	require.Len(t, merged, 2)
	assert.Equal(t, model.LocalID("at-start"), merged[0].ID)
	assert.Equal(t, model.LocalID("at-end"), merged[1].ID)
}
