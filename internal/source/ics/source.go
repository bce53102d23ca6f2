// Package ics adapts ICS subscription feeds to the engine's remote-event
// contract: fetch, parse, expand recurrences into the requested window, and
// emit provider raw events.
package ics

import (
	"context"
	"time"

	"github.com/teambition/rrule-go"

	"weektally/internal/log"
	"weektally/internal/model"
)

// Occurrence expansion cap per event, a guard against pathological rules.
const maxOccurrencesPerEvent = 5000

const dateOnlyLayout = "2006-01-02"

// Source serves weekly remote events from one ICS subscription.
type Source struct {
	sub     Subscription
	fetcher *Fetcher
}

// NewSource builds a Source for the given subscription, caching fetches
// under cacheDir.
func NewSource(sub Subscription, cacheDir string) *Source {
	return &Source{sub: sub, fetcher: NewFetcher(cacheDir)}
}

// Name identifies the source in refresh results and logs.
func (s *Source) Name() string { return "ics:" + s.sub.ID }

// FetchRemoteEvents returns the feed's raw events intersecting
// [rangeStart, rangeEnd], with recurring events expanded into concrete
// instances. Instance ids are suffixed with the occurrence start so each
// expansion keys separately downstream.
func (s *Source) FetchRemoteEvents(ctx context.Context, rangeStart, rangeEnd time.Time) ([]model.RawEvent, error) {
	res, err := s.fetcher.fetch(ctx, s.sub)
	if err != nil {
		return nil, err
	}

	parsed, err := parseICS(s.sub, res.Body)
	if err != nil {
		return nil, err
	}

	// Overrides (RECURRENCE-ID) replace the matching expanded instance.
	bases := make([]parsedEvent, 0, len(parsed))
	overrides := make([]parsedEvent, 0)
	for _, ev := range parsed {
		if ev.Recurrence != nil {
			overrides = append(overrides, ev)
		} else {
			bases = append(bases, ev)
		}
	}

	raws := make([]model.RawEvent, 0, len(bases))
	for _, ev := range bases {
		occ, truncated := expand(ev, overrides, rangeStart, rangeEnd)
		if truncated {
			log.Warn("ics expansion truncated", "id", s.sub.ID, "uid", ev.UID, "cap", maxOccurrencesPerEvent)
		}
		raws = append(raws, occ...)
	}

	log.Info("ics events fetched", "id", s.sub.ID, "count", len(raws), "from_cache", res.FromCache)
	return raws, nil
}

// expand emits raw events for every instance of ev inside the window.
func expand(ev parsedEvent, overrides []parsedEvent, rangeStart, rangeEnd time.Time) ([]model.RawEvent, bool) {
	if ev.RawRRule == "" {
		if ev.End.Before(rangeStart) || ev.Start.After(rangeEnd) {
			return nil, false
		}
		start, end := ev.Start, ev.End
		if o, ok := overrideFor(ev.UID, overrides, start); ok {
			ev, start, end = o, o.Start, o.End
		}
		return []model.RawEvent{toRaw(ev, ev.UID, start, end)}, false
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		log.Error("ics rrule parse failed", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	loc := ev.Start.Location()
	starts := set.Between(rangeStart.In(loc), rangeEnd.In(loc), true)

	truncated := false
	if len(starts) > maxOccurrencesPerEvent {
		starts = starts[:maxOccurrencesPerEvent]
		truncated = true
	}

	dur := ev.End.Sub(ev.Start)
	out := make([]model.RawEvent, 0, len(starts))
	for _, occStart := range starts {
		occEv := ev
		occEnd := occStart.Add(dur)
		if ev.AllDay {
			day := time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			occStart = day
			occEnd = day.Add(24 * time.Hour)
		}
		if o, ok := overrideFor(ev.UID, overrides, occStart); ok {
			occEv, occStart, occEnd = o, o.Start, o.End
		}
		id := ev.UID + "_" + occStart.UTC().Format("20060102T150405Z")
		out = append(out, toRaw(occEv, id, occStart, occEnd))
	}
	return out, truncated
}

func overrideFor(uid string, overrides []parsedEvent, start time.Time) (parsedEvent, bool) {
	for _, ov := range overrides {
		if ov.UID != uid || ov.Recurrence == nil {
			continue
		}
		if ov.Recurrence.In(start.Location()).Equal(start) {
			return ov, true
		}
	}
	return parsedEvent{}, false
}

func toRaw(ev parsedEvent, id string, start, end time.Time) model.RawEvent {
	raw := model.RawEvent{
		ID:          id,
		Title:       ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Status:      ev.Status,
	}
	if ev.AllDay {
		raw.StartDate = start.Format(dateOnlyLayout)
		raw.EndDate = end.Format(dateOnlyLayout)
	} else {
		raw.StartDateTime = start.Format(time.RFC3339)
		raw.EndDateTime = end.Format(time.RFC3339)
	}
	return raw
}
