// Package web exposes the engine over HTTP: the week snapshot, local event
// CRUD, drag/drop mutations and the submission pipeline. Rendering lives in
// a separate UI; this server only speaks JSON.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"weektally/internal/catalog"
	"weektally/internal/config"
	"weektally/internal/export"
	"weektally/internal/log"
	"weektally/internal/reconcile"
	"weektally/internal/refresh"
	"weektally/internal/store"
	"weektally/internal/store/durable"
)

// Server wires the engine's pieces behind an http.ServeMux.
type Server struct {
	cfg        *config.Config
	mux        *http.ServeMux
	session    *store.SessionStore
	durable    *durable.Store
	catalog    *catalog.Cache
	orch       *refresh.Orchestrator
	controller *reconcile.Controller
	ledger     *export.Ledger
}

// NewServer constructs a Server over the assembled engine.
func NewServer(cfg *config.Config, session *store.SessionStore, dur *durable.Store, cat *catalog.Cache, orch *refresh.Orchestrator, controller *reconcile.Controller, ledger *export.Ledger) *Server {
	s := &Server{
		cfg:        cfg,
		mux:        http.NewServeMux(),
		session:    session,
		durable:    dur,
		catalog:    cat,
		orch:       orch,
		controller: controller,
		ledger:     ledger,
	}
	s.registerRoutes()
	return s
}

// Handler returns the server's http.Handler, wrapped with basic auth when
// configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		log.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/week/events", s.handleWeekEvents)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)

	s.mux.HandleFunc("GET /api/entities", s.handleEntities)
	s.mux.HandleFunc("GET /api/selection", s.handleSelection)
	s.mux.HandleFunc("POST /api/selection/toggle", s.handleSelectionToggle)
	s.mux.HandleFunc("POST /api/entities/remove", s.handleEntityRemove)

	s.mux.HandleFunc("POST /api/events/local", s.handleLocalCreate)
	s.mux.HandleFunc("PATCH /api/events/local/{id}", s.handleLocalUpdate)
	s.mux.HandleFunc("DELETE /api/events/local/{id}", s.handleLocalDelete)

	s.mux.HandleFunc("GET /api/categorizations", s.handleCategorizations)
	s.mux.HandleFunc("POST /api/drop", s.handleDrop)

	s.mux.HandleFunc("GET /api/export/preview", s.handleExportPreview)
	s.mux.HandleFunc("POST /api/submit", s.handleSubmit)
	s.mux.HandleFunc("GET /api/submitted", s.handleSubmitted)

	s.mux.HandleFunc("POST /api/clear-local", s.handleClearLocal)

	s.mux.HandleFunc("GET /api/prefs/panel-width", s.handleGetPanelWidth)
	s.mux.HandleFunc("PUT /api/prefs/panel-width", s.handleSetPanelWidth)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password counts as disabled.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health stays reachable without credentials.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="weektally", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("response encode failed", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
