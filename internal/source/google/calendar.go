package google

import (
	"context"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"weektally/internal/fault"
	"weektally/internal/log"
	"weektally/internal/model"
)

// Provider pull page size; a personal week rarely exceeds this.
const maxEventsPerWeek = 250

// CalendarSource serves weekly remote events from one Google calendar.
type CalendarSource struct {
	svc        *calendar.Service
	calendarID string
}

// NewCalendarSource builds a CalendarSource over an authenticated client.
func NewCalendarSource(ctx context.Context, client *http.Client, calendarID string) (*CalendarSource, error) {
	svc, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fault.Providerf("calendar service: %v", err)
	}
	if calendarID == "" {
		calendarID = "primary"
	}
	return &CalendarSource{svc: svc, calendarID: calendarID}, nil
}

// Name identifies the source in refresh results and logs.
func (s *CalendarSource) Name() string { return "google:" + s.calendarID }

// FetchRemoteEvents lists events in [rangeStart, rangeEnd], recurring events
// pre-expanded by the provider and ordered by start time.
func (s *CalendarSource) FetchRemoteEvents(ctx context.Context, rangeStart, rangeEnd time.Time) ([]model.RawEvent, error) {
	events, err := s.svc.Events.List(s.calendarID).
		TimeMin(rangeStart.Format(time.RFC3339)).
		TimeMax(rangeEnd.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(maxEventsPerWeek).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify(err)
	}

	raws := make([]model.RawEvent, 0, len(events.Items))
	for _, item := range events.Items {
		raws = append(raws, toRawEvent(item))
	}

	log.Info("google calendar events fetched", "calendar", s.calendarID, "count", len(raws))
	return raws, nil
}

func toRawEvent(item *calendar.Event) model.RawEvent {
	raw := model.RawEvent{
		ID:          item.Id,
		Title:       item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Status:      item.Status,
	}
	if item.Start != nil {
		raw.StartDateTime = item.Start.DateTime
		raw.StartDate = item.Start.Date
	}
	if item.End != nil {
		raw.EndDateTime = item.End.DateTime
		raw.EndDate = item.End.Date
	}
	return raw
}

// classify maps provider HTTP failures onto the engine's error classes.
func classify(err error) error {
	if apiErr, ok := err.(*googleapi.Error); ok {
		if apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden {
			return fault.Authf("google api: %s", apiErr.Message)
		}
	}
	return fault.Providerf("google api: %v", err)
}
