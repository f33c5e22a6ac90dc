package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fentz26/conductor/internal/classifier"
	"github.com/fentz26/conductor/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Version is reported by /health. The CLI overrides it at startup.
var Version = "dev"

// Server provides the HTTP API for Conductor.
type Server struct {
	service Service
	state   Pinger
	addr    string
	server  *http.Server
	logger  *zap.Logger
}

// NewServer creates a new HTTP server. state may be nil.
func NewServer(service Service, state Pinger, addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		service: service,
		state:   state,
		addr:    addr,
		logger:  logger,
	}
}

// Router builds the chi router with all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)

	r.Post("/tasks", s.submitTask)
	r.Post("/tasks/classify", s.classifyTask)

	r.Route("/workflows", func(r chi.Router) {
		r.Get("/", s.listWorkflows)
		r.Get("/{id}", s.getWorkflow)
		r.Post("/{id}/cancel", s.cancelWorkflow)
	})

	r.Get("/agents", s.listAgents)
	r.Get("/templates", s.listTemplates)

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Router(),
		ReadTimeout: 10 * time.Second,
		// Task submission runs workflows synchronously.
		WriteTimeout: 10 * time.Minute,
	}

	s.logger.Info("starting conductor daemon", zap.String("addr", s.addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK      bool                   `json:"ok"`
	State   string                 `json:"state"`
	Version string                 `json:"version"`
	Time    string                 `json:"time"`
	Stats   map[string]interface{} `json:"stats,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		OK:      true,
		State:   "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
		Stats:   s.service.Stats(),
	}

	status := http.StatusOK
	if s.state != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.state.Ping(ctx); err != nil {
			resp.OK = false
			resp.State = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

// --- Task Handlers ---

type taskRequest struct {
	Description string         `json:"description"`
	Action      string         `json:"action,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

func decodeTask(r *http.Request) (models.Task, error) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return models.Task{}, fmt.Errorf("%w: invalid json: %v", ErrInvalidRequest, err)
	}
	if strings.TrimSpace(req.Description) == "" {
		return models.Task{}, fmt.Errorf("%w: description is required", ErrInvalidRequest)
	}
	return models.Task{Description: req.Description, Action: req.Action, Payload: req.Payload}, nil
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	task, err := decodeTask(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.service.HandleTask(r.Context(), task))
}

type classifyResponse struct {
	Route      models.RouteDecision   `json:"route"`
	Candidates []classifier.Candidate `json:"candidates"`
}

func (s *Server) classifyTask(w http.ResponseWriter, r *http.Request) {
	task, err := decodeTask(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	route, candidates := s.service.Classify(task)
	if candidates == nil {
		candidates = []classifier.Candidate{}
	}
	writeJSON(w, http.StatusOK, classifyResponse{Route: route, Candidates: candidates})
}

// --- Workflow Handlers ---

func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	status := models.WorkflowStatus(strings.ToUpper(r.URL.Query().Get("status")))
	if status != "" && !status.Valid() {
		s.writeError(w, fmt.Errorf("%w: %q", ErrInvalidStatus, status))
		return
	}

	list, err := s.service.ListWorkflows(r.Context(), status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if list == nil {
		list = []*models.WorkflowInstance{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	inst, err := s.service.GetWorkflow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) cancelWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.service.Cancel(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancel_requested"})
}

// --- Catalog Handlers ---

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Agents())
}

func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Templates())
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
