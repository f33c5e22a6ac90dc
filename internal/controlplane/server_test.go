package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fentz26/conductor/internal/models"
	"github.com/fentz26/conductor/internal/orchestrator"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*Server, *orchestrator.Runtime) {
	t.Helper()
	dir := t.TempDir()
	rt, err := orchestrator.Build(context.Background(), orchestrator.Options{
		StateBackend: orchestrator.BackendSQLite,
		DBPath:       filepath.Join(dir, "conductor.db"),
		BusTimeout:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { rt.Close() })

	pinger, _ := rt.Store.(Pinger)
	return NewServer(rt.Orchestrator, pinger, "127.0.0.1:0", zap.NewNop()), rt
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint_OK(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s.Router(), http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var health HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !health.OK || health.State != "ok" {
		t.Errorf("Expected healthy state, got %+v", health)
	}
	if health.Version == "" || health.Time == "" {
		t.Error("Expected version and time to be set")
	}
	if health.Stats["agents"] != float64(3) {
		t.Errorf("Expected 3 agents in stats, got %v", health.Stats["agents"])
	}
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("database is locked") }

func TestHealthEndpoint_StateError(t *testing.T) {
	_, rt := newTestServer(t)
	s := NewServer(rt.Orchestrator, failingPinger{}, "", nil)

	w := do(t, s.Router(), http.MethodGet, "/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
	var health HealthResponse
	json.NewDecoder(w.Body).Decode(&health)
	if health.OK || !strings.Contains(health.State, "locked") {
		t.Errorf("Expected unhealthy state, got %+v", health)
	}
}

func TestHealthEndpoint_MethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s.Router(), http.MethodPost, "/health", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestSubmitTask_Workflow(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Router()

	w := do(t, h, http.MethodPost, "/tasks", map[string]string{"description": "Add SQL injection detection pattern"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var res models.Result
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Status != models.WorkflowCompleted || len(res.StepResults) != 4 {
		t.Fatalf("unexpected result: %+v", res)
	}

	w = do(t, h, http.MethodGet, "/workflows/"+res.WorkflowID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var inst models.WorkflowInstance
	json.NewDecoder(w.Body).Decode(&inst)
	if inst.ID != res.WorkflowID || inst.TemplateName != "PATTERN_ADDITION" {
		t.Errorf("unexpected instance: %+v", inst)
	}

	w = do(t, h, http.MethodGet, "/workflows?status=completed", nil)
	var list []models.WorkflowInstance
	json.NewDecoder(w.Body).Decode(&list)
	if len(list) != 1 {
		t.Errorf("Expected 1 completed workflow, got %d", len(list))
	}

	w = do(t, h, http.MethodGet, "/workflows?status=RUNNING", nil)
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("Expected empty list, got %s", w.Body.String())
	}

	// Terminal instances cannot be cancelled.
	w = do(t, h, http.MethodPost, "/workflows/"+res.WorkflowID+"/cancel", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}
}

func TestSubmitTask_BadRequests(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Router()

	tests := []struct {
		name string
		body interface{}
	}{
		{"invalid json", "{not json"},
		{"missing description", map[string]string{"action": "create_test"}},
		{"blank description", map[string]string{"description": "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/tasks", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
		})
	}
}

func TestClassifyTask(t *testing.T) {
	s, rt := newTestServer(t)

	w := do(t, s.Router(), http.MethodPost, "/tasks/classify", map[string]string{"description": "make coffee"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp classifyResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Route.Kind != models.RouteUnroutable {
		t.Errorf("Expected UNROUTABLE, got %s", resp.Route.Kind)
	}

	// Classification never creates workflows.
	list, _ := rt.Orchestrator.ListWorkflows(context.Background(), "")
	if len(list) != 0 {
		t.Errorf("Expected no workflows, got %d", len(list))
	}
}

func TestWorkflowErrors(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Router()

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/workflows/missing", http.StatusNotFound},
		{http.MethodPost, "/workflows/missing/cancel", http.StatusNotFound},
		{http.MethodGet, "/workflows/..bad", http.StatusBadRequest},
		{http.MethodGet, "/workflows?status=BOGUS", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := do(t, h, tt.method, tt.path, nil)
			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestCatalogEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Router()

	var agents []models.AgentDescriptor
	json.NewDecoder(do(t, h, http.MethodGet, "/agents", nil).Body).Decode(&agents)
	if len(agents) != 3 || agents[0].ID != "test-automation" {
		t.Errorf("unexpected agents: %+v", agents)
	}

	var templates []models.WorkflowTemplate
	json.NewDecoder(do(t, h, http.MethodGet, "/templates", nil).Body).Decode(&templates)
	if len(templates) != 2 {
		t.Errorf("Expected 2 templates, got %d", len(templates))
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/tasks", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected wildcard origin, got %q", got)
	}
}
