package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weektally/internal/catalog"
	"weektally/internal/config"
	"weektally/internal/export"
	"weektally/internal/model"
	"weektally/internal/reconcile"
	"weektally/internal/refresh"
	"weektally/internal/store"
	"weektally/internal/store/durable"
)

type stubSource struct {
	raws []model.RawEvent
}

func (s *stubSource) Name() string { return "stub" }

// FetchRemoteEvents honors the requested window like a real provider does.
func (s *stubSource) FetchRemoteEvents(_ context.Context, rangeStart, rangeEnd time.Time) ([]model.RawEvent, error) {
	var out []model.RawEvent
	for _, raw := range s.raws {
		start, err := time.Parse(time.RFC3339, raw.StartDateTime)
		if err != nil || start.Before(rangeStart) || start.After(rangeEnd) {
			continue
		}
		out = append(out, raw)
	}
	return out, nil
}

// Wednesday, March 12 2025; week runs Sunday March 9 through Saturday 15.
var refNow = time.Date(2025, time.March, 12, 15, 0, 0, 0, time.UTC)

type testServer struct {
	handler http.Handler
	session *store.SessionStore
	durable *durable.Store
	orch    *refresh.Orchestrator
}

func newTestServer(t *testing.T, cfg *config.Config, ledger *export.Ledger, raws ...model.RawEvent) *testServer {
	t.Helper()

	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	dur, err := durable.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { dur.Close() })

	nowFn := func() time.Time { return refNow }
	session := store.NewSessionStore(nowFn)
	cat := catalog.New(catalog.Static{{ID: "C1", Title: "Math"}}, dur, nowFn)
	orch := refresh.New([]refresh.EventSource{&stubSource{raws: raws}}, cat, dur, session, time.UTC, nowFn)
	orch.Refresh(context.Background(), false)
	controller := reconcile.New(session, dur, orch)

	server := NewServer(cfg, session, dur, cat, orch, controller, ledger)
	return &testServer{
		handler: server.Handler(),
		session: session,
		durable: dur,
		orch:    orch,
	}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func gymRaw() model.RawEvent {
	start := time.Date(2025, time.March, 10, 18, 0, 0, 0, time.UTC)
	return model.RawEvent{
		ID:            "gym",
		Title:         "Gym",
		StartDateTime: start.Format(time.RFC3339),
		EndDateTime:   start.Add(30 * time.Minute).Format(time.RFC3339),
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	rec := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "u", Password: "p"}
	ts := newTestServer(t, cfg, nil)

	// /health stays open.
	rec := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/selection", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/selection", nil)
	req.SetBasicAuth("u", "p")
	authed := httptest.NewRecorder()
	ts.handler.ServeHTTP(authed, req)
	assert.Equal(t, http.StatusOK, authed.Code)
}

func TestWeekEvents(t *testing.T) {
	ts := newTestServer(t, nil, nil, gymRaw())

	rec := ts.do(t, http.MethodGet, "/api/week/events", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "2025-11", body["week_id"])
	events, ok := body["events"].([]any)
	require.True(t, ok)
	assert.Len(t, events, 1)

	rec = ts.do(t, http.MethodGet, "/api/week/events?offset=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWeekEventsOffsetSwitch(t *testing.T) {
	ts := newTestServer(t, nil, nil, gymRaw())

	rec := ts.do(t, http.MethodGet, "/api/week/events?offset=-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(-1), body["offset"])
	assert.Equal(t, "2025-10", body["week_id"])
	// Last week holds no events.
	assert.Empty(t, body["events"])
}

func TestLocalEventLifecycle(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	rec := ts.do(t, http.MethodPost, "/api/events/local",
		`{"title":"Reading","start":"2025-03-11T20:00:00Z","end":"2025-03-11T21:00:00Z"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created model.NormalizedEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, created.ID.IsLocal())
	assert.Equal(t, 60, created.DurationMinutes)

	// The new event lands in the merged week view immediately.
	week := decodeBody(t, ts.do(t, http.MethodGet, "/api/week/events", ""))
	events := week["events"].([]any)
	assert.Len(t, events, 1)

	rec = ts.do(t, http.MethodPatch, "/api/events/local/"+created.ID.ID, `{"title":"Deep reading"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated model.NormalizedEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "Deep reading", updated.Title)

	rec = ts.do(t, http.MethodDelete, "/api/events/local/"+created.ID.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/events/local/"+created.ID.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLocalCreateRejectsInvalid(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	rec := ts.do(t, http.MethodPost, "/api/events/local", `{"title":"Nothing"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDropCategorizesAndUncategorizes(t *testing.T) {
	ts := newTestServer(t, nil, nil, gymRaw())

	payload := `{"event":{"id":{"origin":"remote","id":"gym"}},"target":{"kind":"masterEntity","id":"C1"}}`
	rec := ts.do(t, http.MethodPost, "/api/drop", payload)
	require.Equal(t, http.StatusOK, rec.Code)

	cats := decodeBody(t, ts.do(t, http.MethodGet, "/api/categorizations", ""))
	assert.Equal(t, float64(1), cats["count"])

	payload = `{"event":{"id":{"origin":"remote","id":"gym"}},"target":{"kind":"personalPanel"}}`
	rec = ts.do(t, http.MethodPost, "/api/drop", payload)
	require.Equal(t, http.StatusOK, rec.Code)

	cats = decodeBody(t, ts.do(t, http.MethodGet, "/api/categorizations", ""))
	assert.Equal(t, float64(0), cats["count"])
}

func TestDropTimeSlot(t *testing.T) {
	ts := newTestServer(t, nil, nil, gymRaw())

	payload := `{"event":{"id":{"origin":"remote","id":"gym"}},"target":{"kind":"timeSlot","day":4,"hour":7}}`
	rec := ts.do(t, http.MethodPost, "/api/drop", payload)
	require.Equal(t, http.StatusOK, rec.Code)

	moved, ok := ts.orch.FindEvent(model.RemoteID("gym"))
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, time.March, 13, 7, 0, 0, 0, time.UTC), moved.Start)
}

func TestDropStaleEventConflicts(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	payload := `{"event":{"id":{"origin":"remote","id":"ghost"}},"target":{"kind":"personalPanel"}}`
	rec := ts.do(t, http.MethodPost, "/api/drop", payload)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDropUnknownTargetKind(t *testing.T) {
	ts := newTestServer(t, nil, nil, gymRaw())

	payload := `{"event":{"id":{"origin":"remote","id":"gym"}},"target":{"kind":"trash"}}`
	rec := ts.do(t, http.MethodPost, "/api/drop", payload)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSelectionToggle(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	rec := ts.do(t, http.MethodPost, "/api/selection/toggle", `{"entity_id":"C1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["selected"])

	sel := decodeBody(t, ts.do(t, http.MethodGet, "/api/selection", ""))
	assert.Equal(t, []any{"C1"}, sel["selected"])

	rec = ts.do(t, http.MethodPost, "/api/selection/toggle", `{"entity_id":"C1"}`)
	assert.Equal(t, false, decodeBody(t, rec)["selected"])
}

func TestEntityRemoveConfirmFlow(t *testing.T) {
	ts := newTestServer(t, nil, nil, gymRaw())

	ev, _ := ts.orch.FindEvent(model.RemoteID("gym"))
	ts.session.Categorize(ev, model.MasterEntity{ID: "C1"}, "")

	// Dry run reports the impact without removing anything.
	rec := ts.do(t, http.MethodPost, "/api/entities/remove", `{"entity_id":"C1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["categorizations"])
	assert.Equal(t, false, body["removed"])

	// A stale confirmation count is rejected.
	rec = ts.do(t, http.MethodPost, "/api/entities/remove", `{"entity_id":"C1","confirm_count":3}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/entities/remove", `{"entity_id":"C1","confirm_count":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["removed"])

	_, ok := ts.session.CategorizationFor(ev.ID)
	assert.False(t, ok)
}

func TestExportPreviewAndSubmit(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success": true, "batchId": "batch-1", "newRecords": 1,
		})
	}))
	defer backend.Close()

	ts := newTestServer(t, nil, export.NewLedger(backend.URL, "user@example.com"), gymRaw())

	ev, _ := ts.orch.FindEvent(model.RemoteID("gym"))
	ts.session.Categorize(ev, model.MasterEntity{ID: "C1"}, "")

	preview := decodeBody(t, ts.do(t, http.MethodGet, "/api/export/preview", ""))
	assert.Equal(t, "2025-11", preview["week_id"])
	assert.Equal(t, float64(1), preview["count"])

	rec := ts.do(t, http.MethodPost, "/api/submit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "batch-1", decodeBody(t, rec)["batchId"])
}

func TestExportPreviewKeepsDurationOnlyLocalEvents(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	rec := ts.do(t, http.MethodPost, "/api/events/local", `{"title":"Homework","duration_minutes":75}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created model.NormalizedEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	payload := `{"event":{"id":{"origin":"local","id":"` + created.ID.ID + `"}},"target":{"kind":"masterEntity","id":"C1"}}`
	rec = ts.do(t, http.MethodPost, "/api/drop", payload)
	require.Equal(t, http.StatusOK, rec.Code)

	// The event is off the time grid, yet it must survive the export as a
	// manual record instead of being pruned as an orphan.
	preview := decodeBody(t, ts.do(t, http.MethodGet, "/api/export/preview", ""))
	require.Equal(t, float64(1), preview["count"])
	records := preview["records"].([]any)
	record := records[0].(map[string]any)
	assert.Equal(t, "manual", record["eventType"])
	assert.Equal(t, float64(75), record["duration"])

	cats := decodeBody(t, ts.do(t, http.MethodGet, "/api/categorizations", ""))
	assert.Equal(t, float64(1), cats["count"])
}

func TestSubmitWithoutLedger(t *testing.T) {
	ts := newTestServer(t, nil, nil, gymRaw())

	rec := ts.do(t, http.MethodPost, "/api/submit", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestClearLocalReportsCounts(t *testing.T) {
	ts := newTestServer(t, nil, nil, gymRaw())

	_, err := ts.session.CreateLocal(store.CreateLocalRequest{Title: "A", DurationMinutes: 30})
	require.NoError(t, err)
	ev, _ := ts.orch.FindEvent(model.RemoteID("gym"))
	ts.session.Categorize(ev, model.MasterEntity{ID: "C1"}, "")

	rec := ts.do(t, http.MethodPost, "/api/clear-local", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["local_events_discarded"])
	assert.Equal(t, float64(1), body["categorizations_discarded"])
}

func TestPanelWidthPrefs(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	body := decodeBody(t, ts.do(t, http.MethodGet, "/api/prefs/panel-width", ""))
	assert.Equal(t, float64(0), body["panel_width"])

	rec := ts.do(t, http.MethodPut, "/api/prefs/panel-width", `{"panel_width":420}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body = decodeBody(t, ts.do(t, http.MethodGet, "/api/prefs/panel-width", ""))
	assert.Equal(t, float64(420), body["panel_width"])

	rec = ts.do(t, http.MethodPut, "/api/prefs/panel-width", `{"panel_width":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
