// ABOUTME: Relay HTTP server: serves the dashboard page and streams rendered chat and search panels.
// ABOUTME: Chat and search requests are relayed per browser client and re-emitted as named SSE events.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/2389-research/overwatch/client"
	"github.com/2389-research/overwatch/dashboard"
	"github.com/2389-research/overwatch/markdown"
	"github.com/2389-research/overwatch/model"
)

// Backend is everything the relay needs from the event backend.
// *client.Client implements it.
type Backend interface {
	dashboard.Streamer
	dashboard.EventSource
	dashboard.EventDeleter
	dashboard.Integrator
	Health(ctx context.Context) (client.Health, error)
}

var _ Backend = (*client.Client)(nil)

// ServerConfig holds the configuration for the relay server.
type ServerConfig struct {
	Addr            string // listen address (default: "127.0.0.1:2390")
	Backend         Backend
	Renderer        *markdown.Renderer
	MaxSearchEvents int
	Logger          *slog.Logger
}

// Server is the relay HTTP server.
type Server struct {
	addr            string
	backend         Backend
	state           *dashboard.State
	clients         *clientRegistry
	templates       *TemplateEngine
	maxSearchEvents int
	logger          *slog.Logger
	router          chi.Router
}

// NewServer creates a Server with the given configuration.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Backend == nil {
		return nil, errors.New("backend must not be nil")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:2390"
	}
	if cfg.Renderer == nil {
		cfg.Renderer = markdown.NewRenderer(markdown.NewHTMLFormatter())
	}
	if cfg.MaxSearchEvents <= 0 {
		cfg.MaxSearchEvents = client.DefaultMaxSearchEvents
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	tmpl, err := NewTemplateEngine()
	if err != nil {
		return nil, fmt.Errorf("initializing templates: %w", err)
	}

	logger := cfg.Logger.With("component", "web")
	s := &Server{
		addr:            cfg.Addr,
		backend:         cfg.Backend,
		state:           dashboard.NewState(cfg.Backend, cfg.Renderer, cfg.Logger),
		clients:         newClientRegistry(cfg.Backend, cfg.Renderer, cfg.Logger),
		templates:       tmpl,
		maxSearchEvents: cfg.MaxSearchEvents,
		logger:          logger,
	}
	s.router = s.buildRouter()
	return s, nil
}

// ServeHTTP delegates to the chi router, satisfying http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
// WriteTimeout is left unset because panel responses stream for as long as
// the backend does.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("relay listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleHome)
	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/events", s.handleEvents)
		r.Delete("/events/{eventID}", s.handleDeleteEvent)
		r.Post("/integrate-search-events", s.handleIntegrate)
	})

	r.Route("/panels/{panel}", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Post("/search", s.handleSearch)
		r.Post("/cancel", s.handleCancel)
	})

	return r
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	data := PageData{
		Title:      "Overwatch",
		ClientID:   uuid.NewString(),
		Panels:     []string{dashboard.PanelMain, dashboard.PanelOverlay},
		Severities: model.Severities,
		MaxEvents:  s.maxSearchEvents,
	}
	if err := s.templates.Render(w, "index.html", data); err != nil {
		s.logger.Error("render home failed", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// handleHealth reports the relay's own status along with the backend's.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ok", "backend": "unreachable"}
	if h, err := s.backend.Health(r.Context()); err == nil {
		resp["backend"] = h.Status
	} else {
		s.logger.Warn("backend health check failed", "err", err)
	}
	writeJSON(w, http.StatusOK, resp)
}

type eventsResponse struct {
	Events        []model.SecurityEvent  `json:"events"`
	Metrics       dashboard.Metrics      `json:"metrics"`
	SeverityChart []dashboard.ChartPoint `json:"severity_chart"`
	RegionChart   []dashboard.ChartPoint `json:"region_chart"`
	Categories    []string               `json:"categories"`
}

// handleEvents loads events from the backend and applies filters from the
// query string: type and severity (repeatable), region, search, and sort.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if err := s.state.Refresh(r.Context(), s.backend); err != nil {
		s.logger.Warn("load events failed", "err", err)
		writeError(w, http.StatusBadGateway, "failed to load events")
		return
	}

	view := dashboard.NewState(nil, nil, s.logger)
	view.SetEvents(s.state.Events())

	q := r.URL.Query()
	f := view.Filters()
	if types := q["type"]; len(types) > 0 {
		f.Types = selected(types)
	}
	if sevs := q["severity"]; len(sevs) > 0 {
		f.Severities = selected(sevs)
	}
	f.Region = strings.TrimSpace(q.Get("region"))
	f.Search = strings.TrimSpace(q.Get("search"))
	view.SetFilters(f)
	view.SetSort(dashboard.ParseSortOrder(q.Get("sort")))

	events := view.Visible()
	if events == nil {
		events = []model.SecurityEvent{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{
		Events:        events,
		Metrics:       view.Metrics(),
		SeverityChart: view.SeverityChart(),
		RegionChart:   view.RegionChart(),
		Categories:    view.Categories(),
	})
}

func selected(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out[part] = true
			}
		}
	}
	return out
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := model.EventID(chi.URLParam(r, "eventID"))
	err := s.state.DeleteEvent(r.Context(), s.backend, id)
	var nf *client.NotFoundError
	switch {
	case errors.As(err, &nf):
		writeError(w, http.StatusNotFound, "event not found")
	case err != nil:
		s.logger.Warn("delete event failed", "id", id, "err", err)
		writeError(w, http.StatusBadGateway, "failed to delete event")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted_id": id})
	}
}

func (s *Server) handleIntegrate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var events []model.SecurityEvent
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		writeError(w, http.StatusBadRequest, "expected a JSON array of events")
		return
	}
	result := &dashboard.SearchResult{Events: events}
	out, err := result.Integrate(r.Context(), s.backend)
	switch {
	case errors.Is(err, dashboard.ErrNothingToIntegrate):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.Warn("integrate events failed", "err", err)
		writeError(w, http.StatusBadGateway, "failed to integrate events")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"integration_result": out})
	}
}

// panelTarget validates the panel name and client id of a panel request.
// It writes the error response and returns ok=false when either is bad.
func panelTarget(w http.ResponseWriter, r *http.Request) (id, name string, ok bool) {
	name = chi.URLParam(r, "panel")
	if !validPanel(name) {
		writeError(w, http.StatusNotFound, "unknown panel")
		return "", "", false
	}
	id, ok = clientID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid "+ClientHeader+" header")
		return "", "", false
	}
	return id, name, true
}

// panel returns the requesting client's panel, creating it on first use.
func (s *Server) panel(w http.ResponseWriter, r *http.Request) *dashboard.Panel {
	id, name, ok := panelTarget(w, r)
	if !ok {
		return nil
	}
	return s.clients.panel(id, name)
}

// handleChat streams a chat reply for the panel as render, done, or error events.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	p := s.panel(w, r)
	if p == nil {
		return
	}
	message := strings.TrimSpace(r.FormValue("message"))
	if message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	out, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	res, err := p.Chat(r.Context(), message, sseSurface{out: out})
	s.logger.Debug("chat relayed", "panel", p.Name, "session", res.SessionID, "outcome", res.Outcome, "err", err)
}

// handleSearch streams a web search preview as status, item, done, or error events.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	p := s.panel(w, r)
	if p == nil {
		return
	}
	query := strings.TrimSpace(r.FormValue("query"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	maxEvents := s.maxSearchEvents
	if v := r.FormValue("max_events"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "max_events must be a positive integer")
			return
		}
		maxEvents = n
	}

	out, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	res, err := p.Search(r.Context(), query, maxEvents, sseSurface{out: out})
	s.logger.Debug("search relayed", "panel", p.Name, "found", len(res.Events), "err", err)
}

// handleCancel stops the client's in-flight request on the panel. Cancelling
// for a client with no panels yet is a no-op.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, name, ok := panelTarget(w, r)
	if !ok {
		return
	}
	if p := s.clients.existing(id, name); p != nil {
		p.Cancel()
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
