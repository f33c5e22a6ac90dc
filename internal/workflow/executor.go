package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fentz26/conductor/internal/agents"
	"github.com/fentz26/conductor/internal/bus"
	"github.com/fentz26/conductor/internal/models"
	"github.com/fentz26/conductor/internal/registry"
	"github.com/fentz26/conductor/internal/state"
	"go.uber.org/zap"
)

// Event topics published by the executor.
const (
	TopicStarted        = "workflow.started"
	TopicBatchCompleted = "workflow.batch.completed"
	TopicCompleted      = "workflow.completed"
	TopicFailed         = "workflow.failed"
	TopicCancelled      = "workflow.cancelled"
	TopicStepAttempt    = "step.attempt"

	eventSource = "executor"
)

// Dispatcher delivers a step to an agent and waits for its result.
type Dispatcher interface {
	Dispatch(ctx context.Context, agentID string, task models.Task, opts agents.DispatchOptions) (models.Result, error)
}

// Publisher emits lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, topic, from string, payload map[string]any) error
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// MaxInFlight caps concurrent steps per batch. Zero lets the whole
	// batch run at once.
	MaxInFlight int
	// StepTimeout applies to steps without their own timeoutMs. Zero
	// defers to the bus default.
	StepTimeout time.Duration
	Events      Publisher
	Logger      *zap.Logger
	// Sleep waits between retry attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

type execution struct {
	cancelRequested atomic.Bool
}

// Executor runs workflow instances batch by batch, checkpointing after
// every batch. At most one goroutine executes a given instance at a time.
type Executor struct {
	store       state.Store
	dispatcher  Dispatcher
	events      Publisher
	logger      *zap.Logger
	maxInFlight int
	stepTimeout time.Duration
	sleep       func(ctx context.Context, d time.Duration) error

	life context.Context
	stop context.CancelFunc

	mu      sync.Mutex
	running map[string]*execution
}

// NewExecutor creates an executor persisting to store and dispatching through d.
func NewExecutor(store state.Store, d Dispatcher, opts ExecutorOptions) *Executor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	life, stop := context.WithCancel(context.Background())
	return &Executor{
		life:        life,
		stop:        stop,
		store:       store,
		dispatcher:  d,
		events:      opts.Events,
		logger:      opts.Logger,
		maxInFlight: opts.MaxInFlight,
		stepTimeout: opts.StepTimeout,
		sleep:       opts.Sleep,
		running:     make(map[string]*execution),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) acquire(id string) (*execution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.running[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, id)
	}
	x := &execution{}
	e.running[id] = x
	return x, nil
}

func (e *Executor) release(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, id)
}

// Running returns the ids of instances currently executing.
func (e *Executor) Running() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.running))
	for id := range e.running {
		ids = append(ids, id)
	}
	return ids
}

// Stop aborts every executing instance in the middle of its batch. The
// interrupted batch is not checkpointed, so the instance stays RUNNING and
// the batch is dispatched again by the next process's resume. Stop is for
// process shutdown; Run fails with ErrStopped afterwards.
func (e *Executor) Stop() {
	e.stop()
}

// Run drives inst to a terminal status using tmpl. A PENDING instance is
// started; a RUNNING one resumes at its CurrentStepIndex. The stored
// record wins over inst, which is only used when nothing is stored yet.
// The returned instance is the caller's copy of the final state.
//
// Steps do not run on ctx. When ctx ends, the instance is cancelled at the
// next batch boundary and finishes CANCELLED.
func (e *Executor) Run(ctx context.Context, inst *models.WorkflowInstance, tmpl models.WorkflowTemplate) (*models.WorkflowInstance, error) {
	x, err := e.acquire(inst.ID)
	if err != nil {
		return inst, err
	}
	defer e.release(inst.ID)

	if e.life.Err() != nil {
		return inst, ErrStopped
	}
	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRun()
	defer context.AfterFunc(e.life, cancelRun)()

	inst, err = e.current(runCtx, inst)
	if err != nil {
		return inst, err
	}
	if inst.Status.Terminal() {
		return inst, fmt.Errorf("%w: %s is %s", ErrTerminal, inst.ID, inst.Status)
	}
	if inst.TemplateName != tmpl.Name {
		return inst, fmt.Errorf("%w: instance %s uses %q, got %q", ErrTemplateNotFound, inst.ID, inst.TemplateName, tmpl.Name)
	}
	tmpl = normalize(tmpl)

	log := e.logger.With(zap.String("workflow_id", inst.ID), zap.String("template", tmpl.Name))

	switch inst.Status {
	case models.WorkflowPending:
		inst.Status = models.WorkflowRunning
		inst.UpdatedAt = time.Now().UTC()
		if err := e.store.Save(runCtx, inst); err != nil {
			log.Error("initial checkpoint failed", zap.Error(err))
			return inst, err
		}
		log.Info("workflow started", zap.Int("steps", len(tmpl.Steps)))
		e.publish(runCtx, TopicStarted, inst, nil)
	case models.WorkflowRunning:
		log.Info("workflow resuming", zap.Int("step", inst.CurrentStepIndex))
	}

	for _, b := range Batches(tmpl.Steps) {
		if b.End <= inst.CurrentStepIndex {
			continue
		}

		if ctx.Err() != nil {
			return e.finish(runCtx, log, inst, models.WorkflowCancelled, "cancelled: caller went away")
		}
		if x.cancelRequested.Load() {
			return e.finish(runCtx, log, inst, models.WorkflowCancelled, "cancelled by request")
		}

		results := e.runBatch(runCtx, log, inst, tmpl, b)
		if runCtx.Err() != nil {
			log.Warn("batch abandoned, executor stopped", zap.Int("step", b.Start))
			return inst, ErrStopped
		}

		inst.StepResults = append(inst.StepResults, results...)

		if failed, ok := abortingStep(tmpl, b, results); ok {
			msg := fmt.Sprintf("step %d (%s.%s) failed after %d attempt(s): %s",
				failed.StepIndex, failed.AgentID, failed.Action, failed.Attempt, failed.Error)
			final, err := e.finish(runCtx, log, inst, models.WorkflowFailed, msg)
			if err != nil {
				return final, err
			}
			return final, fmt.Errorf("%w: %s", ErrWorkflowAborted, msg)
		}

		inst.CurrentStepIndex = b.End
		inst.UpdatedAt = time.Now().UTC()
		if err := e.store.Save(runCtx, inst); err != nil {
			log.Error("checkpoint failed, halting", zap.Int("step", b.End), zap.Error(err))
			return inst, err
		}
		e.publish(runCtx, TopicBatchCompleted, inst, map[string]any{
			"start": b.Start,
			"end":   b.End,
			"group": b.Group,
		})
	}

	return e.finish(runCtx, log, inst, models.WorkflowCompleted, "")
}

// current returns the stored record for inst, or a copy of inst when the
// instance has never been saved.
func (e *Executor) current(ctx context.Context, inst *models.WorkflowInstance) (*models.WorkflowInstance, error) {
	stored, err := e.store.Load(ctx, inst.ID)
	if err != nil {
		return inst, err
	}
	if stored == nil {
		return inst.Clone(), nil
	}
	return stored, nil
}

// abortingStep returns the final attempt of the first step in b that
// exhausted its attempts without success and does not continue on error.
func abortingStep(tmpl models.WorkflowTemplate, b Batch, results []models.StepResult) (models.StepResult, bool) {
	last := make(map[int]models.StepResult, b.Len())
	for _, r := range results {
		last[r.StepIndex] = r
	}
	for i := b.Start; i < b.End; i++ {
		r, ok := last[i]
		if !ok {
			continue
		}
		if r.Outcome != models.OutcomeSuccess && !tmpl.Steps[i].ContinueOnError {
			return r, true
		}
	}
	return models.StepResult{}, false
}

func (e *Executor) finish(ctx context.Context, log *zap.Logger, inst *models.WorkflowInstance, status models.WorkflowStatus, msg string) (*models.WorkflowInstance, error) {
	inst.Status = status
	inst.Error = msg
	inst.UpdatedAt = time.Now().UTC()
	if err := e.store.Save(ctx, inst); err != nil {
		log.Error("final checkpoint failed", zap.String("status", string(status)), zap.Error(err))
		return inst, err
	}

	log.Info("workflow finished",
		zap.String("status", string(status)),
		zap.Int("results", len(inst.StepResults)),
		zap.String("error", msg))

	topic := TopicCompleted
	switch status {
	case models.WorkflowFailed:
		topic = TopicFailed
	case models.WorkflowCancelled:
		topic = TopicCancelled
	}
	e.publish(ctx, topic, inst, nil)
	return inst, nil
}

// runBatch dispatches every step of b concurrently and returns their
// attempts ordered by step index, then attempt.
func (e *Executor) runBatch(ctx context.Context, log *zap.Logger, inst *models.WorkflowInstance, tmpl models.WorkflowTemplate, b Batch) []models.StepResult {
	previous := previousOutputs(inst.StepResults)

	limit := b.Len()
	if e.maxInFlight > 0 && e.maxInFlight < limit {
		limit = e.maxInFlight
	}
	sem := make(chan struct{}, limit)

	perStep := make([][]models.StepResult, b.Len())
	var wg sync.WaitGroup
	for i := b.Start; i < b.End; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()
			perStep[idx-b.Start] = e.runStep(ctx, log, inst, idx, tmpl.Steps[idx], previous)
		}(i)
	}
	wg.Wait()

	var out []models.StepResult
	for _, rs := range perStep {
		out = append(out, rs...)
	}
	return out
}

// previousOutputs collects the payloads of successful attempts keyed by
// action. Later steps overwrite earlier ones with the same action.
func previousOutputs(results []models.StepResult) map[string]any {
	out := make(map[string]any)
	for _, r := range results {
		if r.Outcome == models.OutcomeSuccess && r.Payload != nil {
			out[r.Action] = r.Payload
		}
	}
	return out
}

func stepTask(inst *models.WorkflowInstance, idx int, step models.Step, previous map[string]any) models.Task {
	payload := models.CloneMap(inst.Task.Payload)
	if payload == nil {
		payload = make(map[string]any)
	}
	payload["step"] = idx
	if len(previous) > 0 {
		payload["previous"] = previous
	}
	return models.Task{
		Description: inst.Task.Description,
		Action:      step.Action,
		Payload:     payload,
	}
}

// CorrelationID is stable per (instance, step, attempt) so a re-dispatched
// attempt after a crash carries the id of the original.
func CorrelationID(workflowID string, step, attempt int) string {
	return fmt.Sprintf("%s/%d/%d", workflowID, step, attempt)
}

func (e *Executor) runStep(ctx context.Context, log *zap.Logger, inst *models.WorkflowInstance, idx int, step models.Step, previous map[string]any) []models.StepResult {
	task := stepTask(inst, idx, step, previous)
	timeout := e.stepTimeout
	if step.TimeoutMs > 0 {
		timeout = time.Duration(step.TimeoutMs) * time.Millisecond
	}

	var out []models.StepResult
	for attempt := 1; attempt <= step.RetryPolicy.MaxAttempts; attempt++ {
		corrID := CorrelationID(inst.ID, idx, attempt)
		started := time.Now().UTC()
		res, err := e.dispatcher.Dispatch(ctx, step.AgentID, task, agents.DispatchOptions{
			CorrelationID: corrID,
			Timeout:       timeout,
		})
		if ctx.Err() != nil {
			return out
		}

		sr := models.StepResult{
			StepIndex:     idx,
			AgentID:       step.AgentID,
			Action:        step.Action,
			Attempt:       attempt,
			CorrelationID: corrID,
			StartedAt:     started,
			FinishedAt:    time.Now().UTC(),
		}
		switch {
		case errors.Is(err, bus.ErrTimeout):
			sr.Outcome = models.OutcomeTimeout
			sr.Error = err.Error()
		case err != nil:
			sr.Outcome = models.OutcomeFailure
			sr.Error = err.Error()
		case !res.Success:
			sr.Outcome = models.OutcomeFailure
			sr.Error = res.Error
			sr.Payload = res.Data
		default:
			sr.Outcome = models.OutcomeSuccess
			sr.Payload = res.Data
		}
		out = append(out, sr)

		log.Info("step attempt",
			zap.Int("step", idx),
			zap.String("agent", step.AgentID),
			zap.String("action", step.Action),
			zap.Int("attempt", attempt),
			zap.String("outcome", string(sr.Outcome)),
			zap.String("correlation_id", corrID),
			zap.String("error", sr.Error))
		e.publish(ctx, TopicStepAttempt, inst, map[string]any{
			"step":    idx,
			"agent":   step.AgentID,
			"action":  step.Action,
			"attempt": attempt,
			"outcome": string(sr.Outcome),
		})

		if sr.Outcome == models.OutcomeSuccess || permanent(err) {
			break
		}
		if attempt < step.RetryPolicy.MaxAttempts {
			if err := e.sleep(ctx, step.RetryPolicy.Backoff(attempt)); err != nil {
				return out
			}
		}
	}
	return out
}

// permanent reports dispatch errors that a retry cannot fix.
func permanent(err error) bool {
	return errors.Is(err, registry.ErrAgentNotFound) || errors.Is(err, bus.ErrDepthExceeded)
}

func (e *Executor) publish(ctx context.Context, topic string, inst *models.WorkflowInstance, extra map[string]any) {
	if e.events == nil {
		return
	}
	payload := map[string]any{
		"workflow_id": inst.ID,
		"template":    inst.TemplateName,
		"status":      string(inst.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	if err := e.events.Publish(ctx, topic, eventSource, payload); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Debug("event not published", zap.String("topic", topic), zap.Error(err))
	}
}

// Cancel requests cancellation of id. An executing instance stops at its
// next batch boundary; one that is persisted but not executing is
// finalised immediately.
func (e *Executor) Cancel(ctx context.Context, id string) error {
	e.mu.Lock()
	if x, ok := e.running[id]; ok {
		x.cancelRequested.Store(true)
		e.mu.Unlock()
		e.logger.Info("cancellation requested", zap.String("workflow_id", id))
		return nil
	}
	e.mu.Unlock()

	if _, err := e.acquire(id); err != nil {
		// Started between the two checks.
		return e.Cancel(ctx, id)
	}
	defer e.release(id)

	inst, err := e.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if inst == nil {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	if inst.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, id, inst.Status)
	}

	_, err = e.finish(ctx, e.logger.With(zap.String("workflow_id", id), zap.String("template", inst.TemplateName)),
		inst, models.WorkflowCancelled, "cancelled before execution resumed")
	return err
}

// TemplateLookup resolves a template by name.
type TemplateLookup func(name string) (models.WorkflowTemplate, bool)

// ResumeAll runs every persisted RUNNING instance to completion. Instances
// whose template no longer exists are marked FAILED. It returns once all
// resumed instances have stopped. ctx bounds the listing only: resumed
// instances have no caller to go away, and are interrupted by Stop.
func (e *Executor) ResumeAll(ctx context.Context, lookup TemplateLookup) ([]*models.WorkflowInstance, error) {
	pending, err := e.store.ListByStatus(ctx, models.WorkflowRunning)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		e.logger.Info("resuming workflows", zap.Int("count", len(pending)))
	}

	out := make([]*models.WorkflowInstance, len(pending))
	errs := make([]error, len(pending))
	var wg sync.WaitGroup
	for i, inst := range pending {
		tmpl, ok := lookup(inst.TemplateName)
		if !ok {
			out[i], errs[i] = e.failOrphan(ctx, inst)
			continue
		}
		wg.Add(1)
		go func(i int, inst *models.WorkflowInstance) {
			defer wg.Done()
			out[i], errs[i] = e.Run(context.WithoutCancel(ctx), inst, tmpl)
		}(i, inst)
	}
	wg.Wait()

	var failed []string
	for i, err := range errs {
		if err != nil && !errors.Is(err, ErrWorkflowAborted) && !errors.Is(err, ErrTerminal) && !errors.Is(err, ErrStopped) {
			failed = append(failed, fmt.Sprintf("%s: %v", pending[i].ID, err))
		}
	}
	if len(failed) > 0 {
		return out, fmt.Errorf("resume: %s", strings.Join(failed, "; "))
	}
	return out, nil
}

func (e *Executor) failOrphan(ctx context.Context, inst *models.WorkflowInstance) (*models.WorkflowInstance, error) {
	if _, err := e.acquire(inst.ID); err != nil {
		return inst, err
	}
	defer e.release(inst.ID)

	log := e.logger.With(zap.String("workflow_id", inst.ID), zap.String("template", inst.TemplateName))
	log.Warn("template missing, failing workflow")
	return e.finish(ctx, log, inst, models.WorkflowFailed,
		fmt.Sprintf("%s: %s", ErrTemplateNotFound, inst.TemplateName))
}
