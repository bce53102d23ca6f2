package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"weektally/internal/export"
	"weektally/internal/fault"
	"weektally/internal/log"
	"weektally/internal/model"
	"weektally/internal/reconcile"
	"weektally/internal/refresh"
	"weektally/internal/store"
)

// statusFor maps the engine's error classes onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, fault.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, fault.ErrAuthRequired):
		return http.StatusUnauthorized
	case errors.Is(err, fault.ErrStaleDrag):
		return http.StatusConflict
	case errors.Is(err, fault.ErrSubmission), errors.Is(err, fault.ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// weekEventsResponse is the JSON shape for GET /api/week/events.
type weekEventsResponse struct {
	Offset    int                     `json:"offset"`
	WeekID    string                  `json:"week_id"`
	WeekStart time.Time               `json:"week_start"`
	WeekEnd   time.Time               `json:"week_end"`
	Events    []model.NormalizedEvent `json:"events"`
	Entities  []model.MasterEntity    `json:"entities"`
	Selected  []string                `json:"selected"`
	FetchedAt time.Time               `json:"fetched_at"`
	// Errors carries per-section refresh failures; the affected section's
	// data is the last known good state.
	Errors map[string]string `json:"errors,omitempty"`
}

// handleWeekEvents returns the merged event set for a week offset,
// refreshing (through the cache tiers) when the offset changed or no
// snapshot exists yet.
//
// GET /api/week/events?offset=-1
func (s *Server) handleWeekEvents(w http.ResponseWriter, r *http.Request) {
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "offset must be an integer")
			return
		}
		offset = parsed
	}

	snap, ok := s.orch.Snapshot()
	var result refresh.Result
	if !ok || snap.Offset != offset {
		s.orch.SetOffset(offset)
		result = s.orch.Refresh(r.Context(), false)
		snap, ok = s.orch.Snapshot()
		if !ok {
			writeError(w, http.StatusBadGateway, "no data available for the requested week")
			return
		}
	}

	writeJSON(w, http.StatusOK, weekEventsResponse{
		Offset:    snap.Offset,
		WeekID:    snap.WeekID,
		WeekStart: snap.WeekStart,
		WeekEnd:   snap.WeekEnd,
		Events:    snap.Events,
		Entities:  snap.Entities,
		Selected:  snap.Selected,
		FetchedAt: snap.FetchedAt,
		Errors:    refreshErrors(result),
	})
}

// handleRefresh forces a full reload past both cache tiers.
//
// POST /api/refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	result := s.orch.Refresh(r.Context(), true)
	snap, ok := s.orch.Snapshot()
	if !ok {
		writeError(w, http.StatusBadGateway, "refresh produced no snapshot")
		return
	}
	writeJSON(w, http.StatusOK, weekEventsResponse{
		Offset:    snap.Offset,
		WeekID:    snap.WeekID,
		WeekStart: snap.WeekStart,
		WeekEnd:   snap.WeekEnd,
		Events:    snap.Events,
		Entities:  snap.Entities,
		Selected:  snap.Selected,
		FetchedAt: snap.FetchedAt,
		Errors:    refreshErrors(result),
	})
}

func refreshErrors(result refresh.Result) map[string]string {
	out := make(map[string]string)
	for name, err := range result.EventErrs {
		if err != nil {
			out["events/"+name] = err.Error()
		}
	}
	if result.EntitiesErr != nil {
		out["entities"] = result.EntitiesErr.Error()
	}
	if result.SelectionErr != nil {
		out["selection"] = result.SelectionErr.Error()
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// handleEntities returns the master-entity list, optionally forcing a fresh
// provider pull.
//
// GET /api/entities?refresh=1
func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("refresh") == "1"
	entities, err := s.catalog.Get(r.Context(), force)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entities": entities,
		"count":    len(entities),
	})
}

// GET /api/selection
func (s *Server) handleSelection(w http.ResponseWriter, _ *http.Request) {
	selected, err := s.durable.Selected()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"selected": selected})
}

// POST /api/selection/toggle {"entity_id": "C1"}
func (s *Server) handleSelectionToggle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntityID string `json:"entity_id"`
	}
	if err := decodeJSON(r, &req); err != nil || req.EntityID == "" {
		writeError(w, http.StatusBadRequest, "entity_id is required")
		return
	}

	selected, err := s.durable.ToggleSelected(req.EntityID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.pushSelection(r)
	writeJSON(w, http.StatusOK, map[string]any{"entity_id": req.EntityID, "selected": selected})
}

// handleEntityRemove cascades: it deletes every categorization referencing
// the entity and drops it from the selection. The client must first show the
// user the exact record count (confirm_count); a mismatch means the state
// moved under the confirmation dialog and the request is rejected.
//
// POST /api/entities/remove {"entity_id": "C1", "confirm_count": 3}
func (s *Server) handleEntityRemove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntityID     string `json:"entity_id"`
		ConfirmCount *int   `json:"confirm_count"`
	}
	if err := decodeJSON(r, &req); err != nil || req.EntityID == "" {
		writeError(w, http.StatusBadRequest, "entity_id is required")
		return
	}

	impact := s.controller.RemovalImpact(req.EntityID)
	if req.ConfirmCount == nil {
		// Dry run: report what a removal would discard.
		writeJSON(w, http.StatusOK, map[string]any{"entity_id": req.EntityID, "categorizations": impact, "removed": false})
		return
	}
	if *req.ConfirmCount != impact {
		writeError(w, http.StatusConflict, "categorization count changed; re-confirm")
		return
	}

	removed, err := s.controller.RemoveMasterEntity(req.EntityID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.pushSelection(r)
	writeJSON(w, http.StatusOK, map[string]any{"entity_id": req.EntityID, "categorizations": removed, "removed": true})
}

// pushSelection mirrors the selection to the ledger's course cache. Best
// effort: the ledger being down must not fail a local selection change.
func (s *Server) pushSelection(r *http.Request) {
	if s.ledger == nil {
		return
	}
	selected, err := s.durable.Selected()
	if err != nil {
		return
	}
	if err := s.ledger.UpdateCourseCache(r.Context(), selected); err != nil {
		log.Warn("ledger course cache update failed", "err", err)
	}
}

// localEventRequest is the JSON shape for creating/updating local events.
type localEventRequest struct {
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Location        string     `json:"location"`
	Start           *time.Time `json:"start"`
	End             *time.Time `json:"end"`
	DurationMinutes *int       `json:"duration_minutes"`
}

// POST /api/events/local
func (s *Server) handleLocalCreate(w http.ResponseWriter, r *http.Request) {
	var req localEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	create := store.CreateLocalRequest{
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
	}
	if req.Start != nil {
		create.Start = *req.Start
	}
	if req.End != nil {
		create.End = *req.End
	}
	if req.DurationMinutes != nil {
		create.DurationMinutes = *req.DurationMinutes
	}

	ev, err := s.session.CreateLocal(create)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.orch.RemergeLocal()
	writeJSON(w, http.StatusCreated, ev)
}

// PATCH /api/events/local/{id}
func (s *Server) handleLocalUpdate(w http.ResponseWriter, r *http.Request) {
	id := model.LocalID(r.PathValue("id"))

	var req localEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	upd := store.LocalEventUpdate{
		Start:           req.Start,
		End:             req.End,
		DurationMinutes: req.DurationMinutes,
	}
	if req.Title != "" {
		upd.Title = &req.Title
	}
	if req.Description != "" {
		upd.Description = &req.Description
	}
	if req.Location != "" {
		upd.Location = &req.Location
	}

	ev, found, err := s.session.UpdateLocal(id, upd)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "local event not found")
		return
	}
	s.orch.RemergeLocal()
	writeJSON(w, http.StatusOK, ev)
}

// DELETE /api/events/local/{id}
func (s *Server) handleLocalDelete(w http.ResponseWriter, r *http.Request) {
	id := model.LocalID(r.PathValue("id"))
	if !s.session.DeleteLocal(id) {
		writeError(w, http.StatusNotFound, "local event not found")
		return
	}
	s.orch.RemergeLocal()
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// GET /api/categorizations
func (s *Server) handleCategorizations(w http.ResponseWriter, _ *http.Request) {
	cats := s.session.Categorizations()
	writeJSON(w, http.StatusOK, map[string]any{
		"categorizations": cats,
		"count":           len(cats),
	})
}

// dropRequest is a completed drag gesture: the full dragged event plus a
// tagged target.
type dropRequest struct {
	Event  model.NormalizedEvent `json:"event"`
	Target dropTargetDTO         `json:"target"`
}

type dropTargetDTO struct {
	Kind string `json:"kind"` // "timeSlot" | "masterEntity" | "personalPanel"

	// timeSlot fields
	Day        int     `json:"day,omitempty"`
	Hour       int     `json:"hour,omitempty"`
	ScheduleOf *string `json:"schedule_of,omitempty"`

	// masterEntity field
	ID string `json:"id,omitempty"`
}

// POST /api/drop
func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request) {
	var req dropRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	target, err := s.resolveTarget(req.Target)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	if err := s.controller.Drop(reconcile.DragPayload{Event: req.Event}, target); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"committed": true})
}

func (s *Server) resolveTarget(dto dropTargetDTO) (reconcile.DropTarget, error) {
	switch dto.Kind {
	case "timeSlot":
		slot := reconcile.TimeSlot{Day: dto.Day, Hour: dto.Hour}
		if dto.ScheduleOf != nil {
			entity, err := s.entityByID(*dto.ScheduleOf)
			if err != nil {
				return nil, err
			}
			slot.ScheduleOf = &entity
		}
		return slot, nil
	case "masterEntity":
		entity, err := s.entityByID(dto.ID)
		if err != nil {
			return nil, err
		}
		return reconcile.MasterEntityCard{Entity: entity}, nil
	case "personalPanel":
		return reconcile.PersonalPanel{}, nil
	default:
		return nil, fault.Validationf("unknown drop target kind %q", dto.Kind)
	}
}

func (s *Server) entityByID(id string) (model.MasterEntity, error) {
	snap, ok := s.orch.Snapshot()
	if ok {
		for _, entity := range snap.Entities {
			if entity.ID == id {
				return entity, nil
			}
		}
	}
	return model.MasterEntity{}, fault.Validationf("unknown master entity %q", id)
}

// handleExportPreview builds the batch without submitting. Orphans are
// pruned from the store as part of building, exactly as on submission.
//
// GET /api/export/preview
func (s *Server) handleExportPreview(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.orch.Snapshot()
	if !ok {
		writeError(w, http.StatusConflict, "no active week; refresh first")
		return
	}
	records := export.BuildBatch(s.session, snap.Events)
	writeJSON(w, http.StatusOK, map[string]any{
		"week_id": snap.WeekID,
		"records": records,
		"count":   len(records),
	})
}

// handleSubmit builds and submits the week's batch. On failure the
// categorization store is untouched; the client surfaces the error and the
// user retries.
//
// POST /api/submit
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusConflict, "no ledger configured")
		return
	}
	snap, ok := s.orch.Snapshot()
	if !ok {
		writeError(w, http.StatusConflict, "no active week; refresh first")
		return
	}

	records := export.BuildBatch(s.session, snap.Events)
	result, err := s.ledger.Submit(r.Context(), snap.WeekID, records)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GET /api/submitted?week=2025-09
func (s *Server) handleSubmitted(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusConflict, "no ledger configured")
		return
	}
	weekID := r.URL.Query().Get("week")
	if weekID == "" {
		if snap, ok := s.orch.Snapshot(); ok {
			weekID = snap.WeekID
		}
	}
	if weekID == "" {
		writeError(w, http.StatusBadRequest, "week is required")
		return
	}

	records, batchID, err := s.ledger.SubmittedRecords(r.Context(), weekID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"week_id":  weekID,
		"batch_id": batchID,
		"records":  records,
		"count":    len(records),
	})
}

// handleClearLocal wipes both session-scoped stores atomically and reports
// the discarded counts.
//
// POST /api/clear-local
func (s *Server) handleClearLocal(w http.ResponseWriter, _ *http.Request) {
	localCount, catCount := s.session.ClearAll()
	s.orch.RemergeLocal()
	log.Info("local state cleared", "local_events", localCount, "categorizations", catCount)
	writeJSON(w, http.StatusOK, map[string]any{
		"local_events_discarded":    localCount,
		"categorizations_discarded": catCount,
	})
}

// GET /api/prefs/panel-width
func (s *Server) handleGetPanelWidth(w http.ResponseWriter, _ *http.Request) {
	width, err := s.durable.PanelWidth()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"panel_width": width})
}

// PUT /api/prefs/panel-width {"panel_width": 420}
func (s *Server) handleSetPanelWidth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PanelWidth int `json:"panel_width"`
	}
	if err := decodeJSON(r, &req); err != nil || req.PanelWidth <= 0 {
		writeError(w, http.StatusBadRequest, "panel_width must be a positive integer")
		return
	}
	if err := s.durable.SetPanelWidth(req.PanelWidth); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"panel_width": req.PanelWidth})
}
