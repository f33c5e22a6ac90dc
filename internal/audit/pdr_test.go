package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fentz26/conductor/internal/bus"
	"github.com/fentz26/conductor/internal/models"
	"github.com/fentz26/conductor/internal/state"
)

func newTestStore(t *testing.T) *state.SQLiteStore {
	t.Helper()
	s, err := state.NewSQLiteStore(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestHashInputsStable(t *testing.T) {
	a := HashInputs(map[string]any{"b": 1, "a": 2})
	b := HashInputs(map[string]any{"a": 2, "b": 1})
	if a != b {
		t.Error("hash should not depend on map iteration order")
	}
	if len(a) != 64 {
		t.Errorf("expected hex sha256, got %q", a)
	}
	if HashInputs(func() {}) != "hash_error" {
		t.Error("unencodable inputs should yield hash_error")
	}
}

func TestRecordRoute(t *testing.T) {
	s := newTestStore(t)
	w := NewPDRWriter(s, nil)
	ctx := context.Background()

	task := models.Task{Description: "Add SQL injection detection pattern"}
	w.RecordRoute(ctx, task, models.RouteDecision{Kind: models.RouteWorkflow, TemplateName: "PATTERN_ADDITION", Score: 3}, "wf-1")

	entries, err := s.ListPDR(ctx, "wf-1", 0)
	if err != nil {
		t.Fatalf("ListPDR: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Action != "task.route" || e.Outcome != "WORKFLOW" || e.InputsHash != HashInputs(task) {
		t.Errorf("unexpected entry: %+v", e)
	}
}

func TestAttachRecordsTerminalEvents(t *testing.T) {
	s := newTestStore(t)
	w := NewPDRWriter(s, nil)
	b := bus.New(bus.Options{})
	defer b.Close()

	detach, err := w.Attach(b)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer detach()

	ctx := context.Background()
	b.Publish(ctx, "workflow.started", "executor", map[string]any{"workflow_id": "wf-9", "status": "RUNNING"})
	b.Publish(ctx, "workflow.completed", "executor", map[string]any{"workflow_id": "wf-9", "status": "COMPLETED", "template": "T"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		entries, _ := s.ListPDR(ctx, "wf-9", 0)
		if len(entries) == 1 {
			if entries[0].Action != "workflow.completed" || entries[0].Outcome != "COMPLETED" {
				t.Errorf("unexpected entry: %+v", entries[0])
			}
			return
		}
		if len(entries) > 1 {
			t.Fatalf("non-terminal event recorded: %+v", entries)
		}
		if time.Now().After(deadline) {
			t.Fatal("terminal event not recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
