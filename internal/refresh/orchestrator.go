// Package refresh drives the partially-failable reload of remote events,
// master entities and selection state, and owns the week snapshot the
// reconciliation controller works against.
package refresh

import (
	"context"
	"sort"
	"sync"
	"time"

	"weektally/internal/catalog"
	"weektally/internal/event"
	"weektally/internal/fault"
	"weektally/internal/log"
	"weektally/internal/model"
	"weektally/internal/store"
	"weektally/internal/store/durable"
	"weektally/internal/week"
)

// Remote events are re-pulled at most every ten minutes per week offset;
// the master-entity list lives behind its own hour-long cache in catalog.
const weekCacheTTLMinutes = 10

// EventSource is one remote calendar provider.
type EventSource interface {
	Name() string
	FetchRemoteEvents(ctx context.Context, rangeStart, rangeEnd time.Time) ([]model.RawEvent, error)
}

// Snapshot is the engine's view of one week: the merged event set plus the
// entity and selection state it was built against. Replaced atomically on
// refresh.
type Snapshot struct {
	Offset    int
	WeekID    string
	WeekStart time.Time
	WeekEnd   time.Time

	Events   []model.NormalizedEvent
	Entities []model.MasterEntity
	Selected []string

	FetchedAt time.Time
}

// Result reports per-section refresh outcomes. Any subset may fail without
// blocking the others; a failing section's state simply stays stale.
type Result struct {
	Sources      int              // number of event sources attempted
	EventErrs    map[string]error // keyed by source name
	EntitiesErr  error
	SelectionErr error
	Stale        bool // result discarded because the offset changed mid-flight
}

// AllEventsFailed reports whether no source produced events.
func (r Result) AllEventsFailed() bool {
	return r.Sources > 0 && len(r.EventErrs) == r.Sources
}

// Orchestrator coordinates refreshes and guards the active snapshot.
type Orchestrator struct {
	sources []EventSource
	catalog *catalog.Cache
	durable *durable.Store
	session *store.SessionStore
	loc     *time.Location
	now     func() time.Time

	mu       sync.RWMutex
	offset   int
	snap     Snapshot
	haveSnap bool

	// remote holds the last good event set PER SOURCE, so one provider
	// erroring never wipes a sibling's events (and with them, their
	// categorizations at the next export).
	remote    map[string][]model.NormalizedEvent
	weekCache map[int]model.CacheEnvelope[map[string][]model.NormalizedEvent]
}

// New builds an Orchestrator. loc and now may be nil (time.Local, time.Now).
func New(sources []EventSource, cat *catalog.Cache, dur *durable.Store, session *store.SessionStore, loc *time.Location, now func() time.Time) *Orchestrator {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		sources:   sources,
		catalog:   cat,
		durable:   dur,
		session:   session,
		loc:       loc,
		now:       now,
		remote:    make(map[string][]model.NormalizedEvent),
		weekCache: make(map[int]model.CacheEnvelope[map[string][]model.NormalizedEvent]),
	}
}

// Offset returns the active week offset.
func (o *Orchestrator) Offset() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.offset
}

// SetOffset changes the active week. Any refresh already in flight for the
// previous offset will be discarded when it resolves.
func (o *Orchestrator) SetOffset(offset int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.offset = offset
}

// Refresh reloads events, entities and selection concurrently. force skips
// both cache tiers. The three sections fail independently; the returned
// Result says which, if any, stayed stale.
func (o *Orchestrator) Refresh(ctx context.Context, force bool) Result {
	o.mu.RLock()
	offset := o.offset
	o.mu.RUnlock()

	now := o.now().In(o.loc)
	weekStart, weekEnd := week.Range(offset, now)

	var (
		wg       sync.WaitGroup
		bySource map[string][]model.NormalizedEvent
		evErrs   = make(map[string]error)
		fromTier bool

		entities []model.MasterEntity
		entErr   error

		selected []string
		selErr   error
	)

	wg.Add(3)

	go func() {
		defer wg.Done()
		bySource, evErrs, fromTier = o.fetchRemote(ctx, offset, weekStart, weekEnd, force)
	}()
	go func() {
		defer wg.Done()
		entities, entErr = o.catalog.Get(ctx, force)
	}()
	go func() {
		defer wg.Done()
		selected, selErr = o.durable.Selected()
	}()

	wg.Wait()

	result := Result{Sources: len(o.sources), EventErrs: evErrs, EntitiesErr: entErr, SelectionErr: selErr}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.offset != offset {
		// The user moved to another week while this fetch was in flight.
		log.Info("refresh result discarded, offset changed", "fetched", offset, "current", o.offset)
		result.Stale = true
		return result
	}

	next := o.snap
	next.Offset = offset
	next.WeekID = week.IDFor(offset, now)
	next.WeekStart = weekStart
	next.WeekEnd = weekEnd
	next.FetchedAt = now

	// Sources that succeeded replace their own entry; a failed source keeps
	// its last good events until it recovers.
	for name, events := range bySource {
		o.remote[name] = events
	}
	// Only complete results are cached; a partial one would pin the failed
	// source's absence for the cache lifetime.
	if !fromTier && len(result.EventErrs) == 0 {
		o.weekCache[offset] = model.CacheEnvelope[map[string][]model.NormalizedEvent]{
			Payload:    bySource,
			CachedAt:   now,
			TTLMinutes: weekCacheTTLMinutes,
		}
	}
	next.Events = event.MergeWeek(o.flattenRemoteLocked(), o.session.LocalEvents(), weekStart, weekEnd)

	if entErr == nil {
		next.Entities = entities
	} else {
		log.Error("master entity refresh failed, keeping stale list", entErr)
	}
	if selErr == nil {
		next.Selected = selected
	} else {
		log.Error("selection refresh failed, keeping stale state", selErr)
	}

	o.snap = next
	o.haveSnap = true
	return result
}

// fetchRemote pulls events from every source for the window, normalizing as
// it goes, keyed by source name. Per-source failures are collected, not
// fatal. A valid week-cache envelope short-circuits the network entirely.
func (o *Orchestrator) fetchRemote(ctx context.Context, offset int, weekStart, weekEnd time.Time, force bool) (map[string][]model.NormalizedEvent, map[string]error, bool) {
	errs := make(map[string]error)

	if !force {
		o.mu.RLock()
		env, ok := o.weekCache[offset]
		o.mu.RUnlock()
		if ok && env.Valid(o.now()) {
			log.Debug("week event cache hit", "offset", offset, "sources", len(env.Payload))
			return env.Payload, errs, true
		}
	}

	bySource := make(map[string][]model.NormalizedEvent, len(o.sources))
	for _, src := range o.sources {
		raws, err := src.FetchRemoteEvents(ctx, weekStart, weekEnd)
		if err != nil {
			errs[src.Name()] = err
			log.Error("event source failed", err, "source", src.Name())
			continue
		}
		normalized, rejected := event.NormalizeAll(raws, o.loc)
		if rejected > 0 {
			log.Warn("events rejected during normalization", "source", src.Name(), "rejected", rejected)
		}
		bySource[src.Name()] = normalized
	}
	return bySource, errs, false
}

// flattenRemoteLocked collapses the per-source map into one slice, in
// stable source order. Callers hold o.mu.
func (o *Orchestrator) flattenRemoteLocked() []model.NormalizedEvent {
	names := make([]string, 0, len(o.remote))
	for name := range o.remote {
		names = append(names, name)
	}
	sort.Strings(names)

	var all []model.NormalizedEvent
	for _, name := range names {
		all = append(all, o.remote[name]...)
	}
	return all
}

// Snapshot returns a copy of the active snapshot; ok is false before the
// first successful refresh.
func (o *Orchestrator) Snapshot() (Snapshot, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if !o.haveSnap {
		return Snapshot{}, false
	}
	snap := o.snap
	snap.Events = append([]model.NormalizedEvent(nil), o.snap.Events...)
	snap.Entities = append([]model.MasterEntity(nil), o.snap.Entities...)
	snap.Selected = append([]string(nil), o.snap.Selected...)
	return snap, true
}

// FindEvent resolves an event identity against the active snapshot.
func (o *Orchestrator) FindEvent(id model.EventID) (model.NormalizedEvent, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	for _, ev := range o.snap.Events {
		if ev.ID == id {
			return ev, true
		}
	}
	return model.NormalizedEvent{}, false
}

// ValidateDrag confirms a dragged event still exists in the latest snapshot.
// A refresh that resolved mid-gesture may have rotated it out, in which case
// the gesture must be cancelled rather than committed against stale state.
func (o *Orchestrator) ValidateDrag(id model.EventID) error {
	if _, ok := o.FindEvent(id); !ok {
		return fault.ErrStaleDrag
	}
	return nil
}

// ApplyEventUpdate replaces one event in the snapshot (and, for remote
// events, the week cache) after an optimistic mutation such as a time shift,
// then restores start-time ordering.
func (o *Orchestrator) ApplyEventUpdate(updated model.NormalizedEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	replace := func(events []model.NormalizedEvent) {
		for i, ev := range events {
			if ev.ID == updated.ID {
				events[i] = updated
				return
			}
		}
	}
	replace(o.snap.Events)
	for _, events := range o.remote {
		replace(events)
	}
	if env, ok := o.weekCache[o.offset]; ok {
		for _, events := range env.Payload {
			replace(events)
		}
		o.weekCache[o.offset] = env
	}

	sort.SliceStable(o.snap.Events, func(i, j int) bool {
		return o.snap.Events[i].Start.Before(o.snap.Events[j].Start)
	})
}

// RemergeLocal rebuilds the merged event list after a local-store mutation,
// without touching the remote set.
func (o *Orchestrator) RemergeLocal() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.haveSnap {
		return
	}
	o.snap.Events = event.MergeWeek(o.flattenRemoteLocked(), o.session.LocalEvents(), o.snap.WeekStart, o.snap.WeekEnd)
}
