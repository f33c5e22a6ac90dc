// Package orchestrator is the entry point for task handling: it classifies
// a task and either dispatches it to one agent or runs a workflow.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fentz26/conductor/internal/agents"
	"github.com/fentz26/conductor/internal/audit"
	"github.com/fentz26/conductor/internal/classifier"
	"github.com/fentz26/conductor/internal/models"
	"github.com/fentz26/conductor/internal/registry"
	"github.com/fentz26/conductor/internal/state"
	"github.com/fentz26/conductor/internal/workflow"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalidTask is reported for tasks without a description.
var ErrInvalidTask = errors.New("invalid task")

// Dispatcher sends a single task to an agent.
type Dispatcher interface {
	Dispatch(ctx context.Context, agentID string, task models.Task, opts agents.DispatchOptions) (models.Result, error)
}

// Deps wires an Orchestrator. Audit may be nil.
type Deps struct {
	Agents       *registry.Registry
	Templates    *workflow.Registry
	Classifier   *classifier.Classifier
	Dispatcher   Dispatcher
	Executor     *workflow.Executor
	Store        state.Store
	Audit        *audit.PDRWriter
	DefaultAgent string
	Logger       *zap.Logger
}

// Orchestrator handles tasks end to end.
type Orchestrator struct {
	agents       *registry.Registry
	templates    *workflow.Registry
	classifier   *classifier.Classifier
	dispatcher   Dispatcher
	executor     *workflow.Executor
	store        state.Store
	audit        *audit.PDRWriter
	defaultAgent string
	logger       *zap.Logger
	started      time.Time
}

// New checks the wiring and returns an orchestrator. The default agent must
// be registered.
func New(d Deps) (*Orchestrator, error) {
	if d.Agents == nil || d.Templates == nil || d.Classifier == nil || d.Dispatcher == nil || d.Executor == nil || d.Store == nil {
		return nil, fmt.Errorf("orchestrator: missing dependency")
	}
	if d.DefaultAgent == "" {
		d.DefaultAgent = agents.GeneralAgentID
	}
	if !d.Agents.Has(d.DefaultAgent) {
		return nil, fmt.Errorf("default agent: %w: %s", registry.ErrAgentNotFound, d.DefaultAgent)
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	return &Orchestrator{
		agents:       d.Agents,
		templates:    d.Templates,
		classifier:   d.Classifier,
		dispatcher:   d.Dispatcher,
		executor:     d.Executor,
		store:        d.Store,
		audit:        d.Audit,
		defaultAgent: d.DefaultAgent,
		logger:       d.Logger,
		started:      time.Now().UTC(),
	}, nil
}

// HandleTask classifies task and carries it out. It always returns a
// Result; failures are reported in Result.Error, and a workflow result
// carries the full StepResult history.
func (o *Orchestrator) HandleTask(ctx context.Context, task models.Task) (res models.Result) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("task handling panicked", zap.Any("panic", r))
			res = models.Failure(fmt.Sprintf("internal error: %v", r))
		}
	}()

	if strings.TrimSpace(task.Description) == "" {
		return models.Failure(fmt.Sprintf("%s: description is required", ErrInvalidTask))
	}

	route := o.classifier.Classify(task)
	o.logger.Info("task classified",
		zap.String("route", string(route.Kind)),
		zap.String("agent", route.AgentID),
		zap.String("action", route.Action),
		zap.String("template", route.TemplateName),
		zap.Int("score", route.Score))

	switch route.Kind {
	case models.RouteWorkflow:
		return o.runWorkflow(ctx, task, route)
	case models.RouteSingleAgent:
		o.recordRoute(ctx, task, route, "")
		return o.dispatch(ctx, route, models.Task{
			Description: task.Description,
			Action:      route.Action,
			Payload:     models.CloneMap(task.Payload),
		})
	default:
		return o.fallback(ctx, task, route)
	}
}

func (o *Orchestrator) recordRoute(ctx context.Context, task models.Task, route models.RouteDecision, workflowID string) {
	if o.audit != nil {
		o.audit.RecordRoute(ctx, task, route, workflowID)
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, route models.RouteDecision, task models.Task) models.Result {
	res, err := o.dispatcher.Dispatch(ctx, route.AgentID, task, agents.DispatchOptions{})
	if err != nil {
		o.logger.Warn("dispatch failed", zap.String("agent", route.AgentID), zap.Error(err))
		res = models.Failure(err.Error())
	}
	res.Route = &route
	return res
}

// fallback hands an unroutable task to the default agent. An explicit
// action the default agent lacks is passed along for delegation.
func (o *Orchestrator) fallback(ctx context.Context, task models.Task, route models.RouteDecision) models.Result {
	desc, err := o.agents.Get(o.defaultAgent)
	if err != nil {
		r := models.Failure(err.Error())
		r.Route = &route
		return r
	}

	payload := models.CloneMap(task.Payload)
	action := desc.DefaultAction()
	if task.Action != "" {
		if desc.HasCapability(task.Action) {
			action = task.Action
		} else {
			if payload == nil {
				payload = make(map[string]any)
			}
			payload[agents.DelegateKey] = task.Action
		}
	}

	route.AgentID = desc.ID
	route.Action = action
	o.recordRoute(ctx, task, route, "")
	o.logger.Info("task unroutable, using fallback agent", zap.String("agent", desc.ID))

	return o.dispatch(ctx, route, models.Task{
		Description: task.Description,
		Action:      action,
		Payload:     payload,
	})
}

func (o *Orchestrator) runWorkflow(ctx context.Context, task models.Task, route models.RouteDecision) models.Result {
	tmpl, ok := o.templates.Get(route.TemplateName)
	if !ok {
		r := models.Failure(fmt.Sprintf("%s: %s", workflow.ErrTemplateNotFound, route.TemplateName))
		r.Route = &route
		return r
	}

	now := time.Now().UTC()
	inst := &models.WorkflowInstance{
		ID:           uuid.New().String(),
		TemplateName: tmpl.Name,
		Task: models.Task{
			Description: task.Description,
			Action:      task.Action,
			Payload:     models.CloneMap(task.Payload),
		},
		Status:    models.WorkflowPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	o.recordRoute(ctx, task, route, inst.ID)

	final, err := o.executor.Run(ctx, inst, tmpl)
	res := models.Result{
		Success:     err == nil && final.Status == models.WorkflowCompleted,
		Route:       &route,
		WorkflowID:  final.ID,
		Status:      final.Status,
		StepResults: final.StepResults,
		Error:       final.Error,
	}
	if err != nil && !errors.Is(err, workflow.ErrWorkflowAborted) {
		res.Error = err.Error()
	}
	if res.Error == "" && !res.Success {
		res.Error = fmt.Sprintf("workflow ended %s", final.Status)
	}
	return res
}

// Classify returns the route task would take and every scored candidate,
// without executing anything.
func (o *Orchestrator) Classify(task models.Task) (models.RouteDecision, []classifier.Candidate) {
	return o.classifier.Classify(task), o.classifier.Candidates(task)
}

// Cancel requests cancellation of a workflow instance.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	return o.executor.Cancel(ctx, id)
}

// Resume runs every persisted RUNNING instance to completion.
func (o *Orchestrator) Resume(ctx context.Context) ([]*models.WorkflowInstance, error) {
	return o.executor.ResumeAll(ctx, o.templates.Get)
}

// GetWorkflow loads one instance.
func (o *Orchestrator) GetWorkflow(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	inst, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, fmt.Errorf("%w: %s", workflow.ErrInstanceNotFound, id)
	}
	return inst, nil
}

// ListWorkflows lists instances, optionally filtered by status.
func (o *Orchestrator) ListWorkflows(ctx context.Context, status models.WorkflowStatus) ([]*models.WorkflowInstance, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("unknown status %q", status)
	}
	return o.store.ListByStatus(ctx, status)
}

// Agents lists registered agents in registration order.
func (o *Orchestrator) Agents() []models.AgentDescriptor {
	return o.agents.List()
}

// Templates lists registered workflow templates.
func (o *Orchestrator) Templates() []models.WorkflowTemplate {
	return o.templates.List()
}

// Stats summarises the orchestrator for health reporting.
func (o *Orchestrator) Stats() map[string]interface{} {
	return map[string]interface{}{
		"agents":            o.agents.Count(),
		"templates":         len(o.templates.List()),
		"running_workflows": len(o.executor.Running()),
		"uptime_seconds":    int(time.Since(o.started).Seconds()),
	}
}
