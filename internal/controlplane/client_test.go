package controlplane

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/fentz26/conductor/internal/models"
	"github.com/fentz26/conductor/internal/workflow"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return NewClient(ts.URL + "/")
}

func TestClientRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	health, err := c.CheckHealth(ctx)
	if err != nil || !health.OK {
		t.Fatalf("CheckHealth: %+v, %v", health, err)
	}

	res, err := c.SubmitTask(ctx, models.Task{Description: "Add SQL injection detection pattern"})
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	if !res.Success || res.WorkflowID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}

	inst, err := c.GetWorkflow(ctx, res.WorkflowID)
	if err != nil || inst.Status != models.WorkflowCompleted {
		t.Fatalf("GetWorkflow: %+v, %v", inst, err)
	}

	list, err := c.ListWorkflows(ctx, models.WorkflowCompleted)
	if err != nil || len(list) != 1 {
		t.Errorf("ListWorkflows: %d, %v", len(list), err)
	}

	if err := c.CancelWorkflow(ctx, res.WorkflowID); !errors.Is(err, workflow.ErrTerminal) {
		t.Errorf("expected ErrTerminal, got %v", err)
	}

	agents, err := c.Agents(ctx)
	if err != nil || len(agents) != 3 {
		t.Errorf("Agents: %d, %v", len(agents), err)
	}
	templates, err := c.Templates(ctx)
	if err != nil || len(templates) != 2 {
		t.Errorf("Templates: %d, %v", len(templates), err)
	}
}

func TestClientErrors(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.GetWorkflow(ctx, "missing")
	if !errors.Is(err, workflow.ErrInstanceNotFound) {
		t.Errorf("expected ErrInstanceNotFound, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 404 || apiErr.Message == "" {
		t.Errorf("expected APIError with message, got %#v", err)
	}

	if _, err := c.SubmitTask(ctx, models.Task{}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestClientClassify(t *testing.T) {
	c := newTestClient(t)

	route, candidates, err := c.Classify(context.Background(), models.Task{Description: "review pattern for xss"})
	if err != nil {
		t.Fatal(err)
	}
	if route.Kind != models.RouteWorkflow || route.TemplateName != workflow.PatternReview {
		t.Errorf("unexpected route: %+v", route)
	}
	if len(candidates) == 0 {
		t.Error("expected scored candidates")
	}
}

func TestClientUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	if _, err := c.CheckHealth(context.Background()); err == nil {
		t.Error("expected error for unreachable daemon")
	}
}
