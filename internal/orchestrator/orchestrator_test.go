package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fentz26/conductor/internal/models"
	"github.com/fentz26/conductor/internal/workflow"
)

func newTestRuntime(t *testing.T, backend string) *Runtime {
	t.Helper()
	dir := t.TempDir()
	rt, err := Build(context.Background(), Options{
		StateBackend: backend,
		StateDir:     filepath.Join(dir, "instances"),
		DBPath:       filepath.Join(dir, "conductor.db"),
		BusTimeout:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt
}

func TestPatternAdditionScenario(t *testing.T) {
	for _, backend := range []string{BackendFile, BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			rt := newTestRuntime(t, backend)
			ctx := context.Background()

			res := rt.Orchestrator.HandleTask(ctx, models.Task{Description: "Add SQL injection detection pattern"})

			if res.Route == nil || res.Route.Kind != models.RouteWorkflow || res.Route.TemplateName != workflow.PatternAddition {
				t.Fatalf("expected PATTERN_ADDITION route, got %+v", res.Route)
			}
			if !res.Success || res.Status != models.WorkflowCompleted {
				t.Fatalf("expected COMPLETED, got %s: %s", res.Status, res.Error)
			}
			if len(res.StepResults) != 4 {
				t.Fatalf("expected 4 step results, got %d: %+v", len(res.StepResults), res.StepResults)
			}

			wantActions := []string{"create_test", "run_test", "add_pattern", "verify_test"}
			for i, r := range res.StepResults {
				if r.StepIndex != i || r.Action != wantActions[i] {
					t.Errorf("result %d: got step %d %s", i, r.StepIndex, r.Action)
				}
			}
			for _, i := range []int{0, 2, 3} {
				if res.StepResults[i].Outcome != models.OutcomeSuccess {
					t.Errorf("step %d should succeed, got %s: %s", i, res.StepResults[i].Outcome, res.StepResults[i].Error)
				}
			}
			// The test runs before the pattern exists.
			if res.StepResults[1].Outcome != models.OutcomeFailure {
				t.Errorf("run_test should fail before add_pattern, got %s", res.StepResults[1].Outcome)
			}

			inst, err := rt.Orchestrator.GetWorkflow(ctx, res.WorkflowID)
			if err != nil {
				t.Fatalf("GetWorkflow: %v", err)
			}
			if inst.Status != models.WorkflowCompleted || len(inst.StepResults) != 4 {
				t.Errorf("persisted instance differs: %s with %d results", inst.Status, len(inst.StepResults))
			}
		})
	}
}

func TestPatternReviewRunsInParallel(t *testing.T) {
	rt := newTestRuntime(t, BackendFile)

	res := rt.Orchestrator.HandleTask(context.Background(), models.Task{
		Description: "Review pattern for XSS",
		Payload:     map[string]any{"pattern": "xss", "expression": "<script", "sample": "<script>alert(1)</script>"},
	})
	if res.Route == nil || res.Route.TemplateName != workflow.PatternReview {
		t.Fatalf("expected PATTERN_REVIEW, got %+v", res.Route)
	}
	if !res.Success {
		t.Fatalf("expected success, got %s: %+v", res.Error, res.StepResults)
	}
	if len(res.StepResults) != 3 {
		t.Errorf("expected 3 results, got %d", len(res.StepResults))
	}
}

func TestHandleTaskSingleAgent(t *testing.T) {
	rt := newTestRuntime(t, BackendFile)

	res := rt.Orchestrator.HandleTask(context.Background(), models.Task{Description: "write test for tokens"})
	if res.Route == nil || res.Route.Kind != models.RouteSingleAgent || res.Route.AgentID != "test-automation" {
		t.Fatalf("expected single agent route, got %+v", res.Route)
	}
	if !res.Success {
		t.Fatalf("expected success, got %s", res.Error)
	}
	if res.WorkflowID != "" {
		t.Error("single agent tasks must not create workflow instances")
	}

	list, _ := rt.Orchestrator.ListWorkflows(context.Background(), "")
	if len(list) != 0 {
		t.Errorf("expected no persisted instances, got %d", len(list))
	}
}

func TestHandleTaskFallback(t *testing.T) {
	rt := newTestRuntime(t, BackendFile)

	res := rt.Orchestrator.HandleTask(context.Background(), models.Task{Description: "make coffee"})
	if res.Route == nil || res.Route.Kind != models.RouteUnroutable {
		t.Fatalf("expected UNROUTABLE, got %+v", res.Route)
	}
	if res.Route.AgentID != "general-purpose" {
		t.Errorf("expected fallback agent, got %s", res.Route.AgentID)
	}
	if !res.Success || res.Data["handled_by"] != "general-purpose" {
		t.Errorf("unexpected fallback result: %+v", res)
	}

	// An explicit action the fallback lacks is delegated.
	res = rt.Orchestrator.HandleTask(context.Background(), models.Task{Description: "make coffee", Action: "list_patterns"})
	if !res.Success || res.Data["delegated_to"] != "workflow-business-logic" {
		t.Errorf("expected delegation, got %+v", res)
	}
}

func TestHandleTaskRejectsEmptyDescription(t *testing.T) {
	rt := newTestRuntime(t, BackendFile)

	res := rt.Orchestrator.HandleTask(context.Background(), models.Task{Description: "  "})
	if res.Success || !strings.Contains(res.Error, "description is required") {
		t.Errorf("expected validation failure, got %+v", res)
	}
}

func TestHandleTaskFailedWorkflowCarriesHistory(t *testing.T) {
	rt := newTestRuntime(t, BackendFile)

	// An invalid expression makes add_pattern fail on every attempt.
	res := rt.Orchestrator.HandleTask(context.Background(), models.Task{
		Description: "Add SQL injection detection pattern",
		Payload:     map[string]any{"expression": "("},
	})
	if res.Success || res.Status != models.WorkflowFailed {
		t.Fatalf("expected FAILED, got %s", res.Status)
	}
	if !strings.Contains(res.Error, "add_pattern") {
		t.Errorf("error should name the failing step: %s", res.Error)
	}
	// create_test, run_test, then three add_pattern attempts.
	if len(res.StepResults) != 5 {
		t.Fatalf("expected 5 results, got %d", len(res.StepResults))
	}
	last := res.StepResults[len(res.StepResults)-1]
	if last.Action != "add_pattern" || last.Attempt != 3 {
		t.Errorf("unexpected final attempt: %+v", last)
	}
}

func TestCancelAndInspect(t *testing.T) {
	rt := newTestRuntime(t, BackendSQLite)
	ctx := context.Background()

	if err := rt.Orchestrator.Cancel(ctx, "missing"); !errors.Is(err, workflow.ErrInstanceNotFound) {
		t.Errorf("expected ErrInstanceNotFound, got %v", err)
	}
	if _, err := rt.Orchestrator.GetWorkflow(ctx, "missing"); !errors.Is(err, workflow.ErrInstanceNotFound) {
		t.Errorf("expected ErrInstanceNotFound, got %v", err)
	}

	res := rt.Orchestrator.HandleTask(ctx, models.Task{Description: "Add SQL injection detection pattern"})
	if err := rt.Orchestrator.Cancel(ctx, res.WorkflowID); !errors.Is(err, workflow.ErrTerminal) {
		t.Errorf("expected ErrTerminal, got %v", err)
	}

	done, err := rt.Orchestrator.ListWorkflows(ctx, models.WorkflowCompleted)
	if err != nil || len(done) != 1 {
		t.Errorf("expected 1 completed workflow, got %d (%v)", len(done), err)
	}
	if _, err := rt.Orchestrator.ListWorkflows(ctx, "BOGUS"); err == nil {
		t.Error("expected error for unknown status")
	}

	if len(rt.Orchestrator.Agents()) != 3 || len(rt.Orchestrator.Templates()) != 2 {
		t.Errorf("unexpected catalog: %d agents, %d templates", len(rt.Orchestrator.Agents()), len(rt.Orchestrator.Templates()))
	}
}

func TestResumeOnStartup(t *testing.T) {
	dir := t.TempDir()
	opts := Options{StateBackend: BackendFile, StateDir: filepath.Join(dir, "instances"), BusTimeout: 5 * time.Second}
	ctx := context.Background()

	first, err := Build(ctx, opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	res := first.Orchestrator.HandleTask(ctx, models.Task{Description: "Add SQL injection detection pattern"})
	if !res.Success {
		t.Fatalf("first run: %s", res.Error)
	}

	// Rewind to the checkpoint taken after the first batch, as if the
	// process had crashed there.
	inst, err := first.Store.Load(ctx, res.WorkflowID)
	if err != nil || inst == nil {
		t.Fatalf("Load: %v", err)
	}
	inst.Status = models.WorkflowRunning
	inst.CurrentStepIndex = 1
	inst.StepResults = inst.StepResults[:1]
	inst.Error = ""
	if err := first.Store.Save(ctx, inst); err != nil {
		t.Fatal(err)
	}
	first.Close()

	second, err := Build(ctx, opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer second.Close()

	resumed, err := second.Orchestrator.Resume(ctx)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if len(resumed) != 1 {
		t.Fatalf("expected 1 resumed workflow, got %d", len(resumed))
	}
	got := resumed[0]
	// The new process never saw create_test; the persisted history carries it.
	if got.Status != models.WorkflowCompleted {
		t.Fatalf("expected COMPLETED after resume, got %s: %s", got.Status, got.Error)
	}
	wantActions := []string{"create_test", "run_test", "add_pattern", "verify_test"}
	if len(got.StepResults) != len(wantActions) {
		t.Fatalf("expected %d results, got %+v", len(wantActions), got.StepResults)
	}
	for i, r := range got.StepResults {
		if r.Action != wantActions[i] {
			t.Errorf("result %d: expected %s, got %s", i, wantActions[i], r.Action)
		}
	}
	if got.StepResults[3].Outcome != models.OutcomeSuccess {
		t.Errorf("verify_test should pass after resume: %s", got.StepResults[3].Error)
	}
}

func TestHandleTaskCallerGoneEndsCancelled(t *testing.T) {
	rt := newTestRuntime(t, BackendSQLite)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := rt.Orchestrator.HandleTask(ctx, models.Task{Description: "Add SQL injection detection pattern"})
	if res.Success || res.Status != models.WorkflowCancelled {
		t.Fatalf("expected CANCELLED, got %s: %s", res.Status, res.Error)
	}

	persisted, err := rt.Orchestrator.GetWorkflow(context.Background(), res.WorkflowID)
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if persisted.Status != models.WorkflowCancelled {
		t.Errorf("expected persisted CANCELLED, got %s", persisted.Status)
	}
	running, _ := rt.Orchestrator.ListWorkflows(context.Background(), models.WorkflowRunning)
	if len(running) != 0 {
		t.Errorf("no instance should be left RUNNING, got %d", len(running))
	}
}

func TestHandleTaskAfterStop(t *testing.T) {
	rt := newTestRuntime(t, BackendFile)
	rt.Stop()

	res := rt.Orchestrator.HandleTask(context.Background(), models.Task{Description: "Add SQL injection detection pattern"})
	if res.Success || !strings.Contains(res.Error, workflow.ErrStopped.Error()) {
		t.Errorf("expected stopped executor error, got %+v", res)
	}
}

func TestBuildRejectsUnknownBackend(t *testing.T) {
	_, err := Build(context.Background(), Options{StateBackend: "etcd"})
	if err == nil || !strings.Contains(err.Error(), "etcd") {
		t.Errorf("expected unknown backend error, got %v", err)
	}
}
