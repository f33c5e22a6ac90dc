// Package models defines the core domain types for Conductor.
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow instance.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "PENDING"
	WorkflowRunning   WorkflowStatus = "RUNNING"
	WorkflowCompleted WorkflowStatus = "COMPLETED"
	WorkflowFailed    WorkflowStatus = "FAILED"
	WorkflowCancelled WorkflowStatus = "CANCELLED"
)

// Terminal reports whether the status is final.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowFailed, WorkflowCancelled:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowPending, WorkflowRunning, WorkflowCompleted, WorkflowFailed, WorkflowCancelled:
		return true
	}
	return false
}

// Outcome is the result of a single step attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
	OutcomeTimeout Outcome = "TIMEOUT"
)

// Task is a unit of work submitted by a caller. It is not mutated once accepted.
type Task struct {
	Description string         `json:"description"`
	Action      string         `json:"action,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Triggers are the keyword phrases the classifier scores a candidate by.
type Triggers struct {
	Primary   []string `json:"primary,omitempty" yaml:"primary" mapstructure:"primary"`
	Secondary []string `json:"secondary,omitempty" yaml:"secondary" mapstructure:"secondary"`
}

// AgentDescriptor declares an agent's identity, capabilities and dependencies.
type AgentDescriptor struct {
	ID           string   `json:"id" yaml:"id"`
	Version      string   `json:"version" yaml:"version"`
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies"`
	Triggers     Triggers `json:"triggers" yaml:"triggers"`
}

// HasCapability reports whether the agent accepts the given action.
func (d AgentDescriptor) HasCapability(action string) bool {
	for _, c := range d.Capabilities {
		if c == action {
			return true
		}
	}
	return false
}

// DefaultAction is the first declared capability.
func (d AgentDescriptor) DefaultAction() string {
	if len(d.Capabilities) == 0 {
		return ""
	}
	return d.Capabilities[0]
}

// RetryPolicy controls how a failed step is re-dispatched.
type RetryPolicy struct {
	MaxAttempts int `json:"maxAttempts" yaml:"maxAttempts" mapstructure:"maxAttempts"`
	BackoffMs   int `json:"backoffMs" yaml:"backoffMs" mapstructure:"backoffMs"`
}

// Backoff returns the delay before the attempt following the given one:
// backoffMs * 2^(attempt-1).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BackoffMs <= 0 || attempt < 1 {
		return 0
	}
	return time.Duration(p.BackoffMs) * time.Millisecond << uint(attempt-1)
}

// Step is one entry of a workflow template.
type Step struct {
	AgentID         string      `json:"agentId" yaml:"agentId" mapstructure:"agentId"`
	Action          string      `json:"action" yaml:"action" mapstructure:"action"`
	ParallelGroup   string      `json:"parallelGroup,omitempty" yaml:"parallelGroup,omitempty" mapstructure:"parallelGroup"`
	RetryPolicy     RetryPolicy `json:"retryPolicy" yaml:"retryPolicy" mapstructure:"retryPolicy"`
	ContinueOnError bool        `json:"continueOnError" yaml:"continueOnError" mapstructure:"continueOnError"`
	TimeoutMs       int         `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty" mapstructure:"timeoutMs"`
}

// WorkflowTemplate is a named, immutable multi-step plan.
type WorkflowTemplate struct {
	Name        string   `json:"name" yaml:"name" mapstructure:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	Triggers    Triggers `json:"triggers" yaml:"triggers" mapstructure:"triggers"`
	Steps       []Step   `json:"steps" yaml:"steps" mapstructure:"steps"`
}

// StepResult records one attempt of one step. Results are append-only.
type StepResult struct {
	StepIndex     int            `json:"stepIndex"`
	AgentID       string         `json:"agentId"`
	Action        string         `json:"action"`
	Attempt       int            `json:"attempt"`
	Outcome       Outcome        `json:"outcome"`
	Payload       map[string]any `json:"payload,omitempty"`
	Error         string         `json:"error,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	StartedAt     time.Time      `json:"startedAt"`
	FinishedAt    time.Time      `json:"finishedAt"`
}

// WorkflowInstance is the persisted execution state of one workflow run.
type WorkflowInstance struct {
	ID               string         `json:"id"`
	TemplateName     string         `json:"templateName"`
	Task             Task           `json:"task"`
	Status           WorkflowStatus `json:"status"`
	CurrentStepIndex int            `json:"currentStepIndex"`
	StepResults      []StepResult   `json:"stepResults"`
	Error            string         `json:"error,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (w *WorkflowInstance) Clone() *WorkflowInstance {
	if w == nil {
		return nil
	}
	c := *w
	c.Task.Payload = CloneMap(w.Task.Payload)
	c.StepResults = make([]StepResult, len(w.StepResults))
	for i, r := range w.StepResults {
		r.Payload = CloneMap(r.Payload)
		c.StepResults[i] = r
	}
	return &c
}

// MessageKind distinguishes bus message types.
type MessageKind string

const (
	KindRequest MessageKind = "REQUEST"
	KindReply   MessageKind = "REPLY"
	KindEvent   MessageKind = "EVENT"
)

// Message is the envelope carried by the message bus.
type Message struct {
	ID            string         `json:"id"`
	CorrelationID string         `json:"correlationId,omitempty"`
	From          string         `json:"from"`
	To            string         `json:"to"`
	Kind          MessageKind    `json:"kind"`
	Depth         int            `json:"depth"`
	Payload       map[string]any `json:"payload,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// RouteKind is the classifier's routing verdict.
type RouteKind string

const (
	RouteSingleAgent RouteKind = "SINGLE_AGENT"
	RouteWorkflow    RouteKind = "WORKFLOW"
	RouteUnroutable  RouteKind = "UNROUTABLE"
)

// RouteDecision selects either one agent+action or a named workflow template.
type RouteDecision struct {
	Kind         RouteKind `json:"kind"`
	AgentID      string    `json:"agentId,omitempty"`
	Action       string    `json:"action,omitempty"`
	TemplateName string    `json:"templateName,omitempty"`
	Score        int       `json:"score"`
}

// Result is what an agent returns and what HandleTask returns to callers.
type Result struct {
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Route       *RouteDecision `json:"route,omitempty"`
	WorkflowID  string         `json:"workflowId,omitempty"`
	Status      WorkflowStatus `json:"status,omitempty"`
	StepResults []StepResult   `json:"stepResults,omitempty"`
}

// Failure builds an unsuccessful result.
func Failure(err string) Result {
	return Result{Success: false, Error: err}
}

// PDREntry is a Process Decision Record for audit.
type PDREntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// CloneMap makes a shallow copy of a payload map.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
