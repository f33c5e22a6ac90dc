// Package workflow holds workflow templates and the executor that runs them.
package workflow

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fentz26/conductor/internal/models"
)

// AgentLookup resolves agent descriptors during template validation.
type AgentLookup interface {
	Get(id string) (models.AgentDescriptor, error)
}

// Registry is the catalog of workflow templates, keyed by name.
type Registry struct {
	agents AgentLookup

	mu        sync.RWMutex
	templates map[string]models.WorkflowTemplate
	order     []string
}

// NewRegistry creates an empty template registry validating against agents.
func NewRegistry(agents AgentLookup) *Registry {
	return &Registry{
		agents:    agents,
		templates: make(map[string]models.WorkflowTemplate),
	}
}

// Register validates and adds a template. A zero maxAttempts is stored as 1.
func (r *Registry) Register(t models.WorkflowTemplate) error {
	if errs := Validate(t, r.agents); len(errs) > 0 {
		return fmt.Errorf("%w %q: %w", ErrInvalidTemplate, t.Name, errors.Join(errs...))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.templates[t.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTemplate, t.Name)
	}
	r.templates[t.Name] = normalize(t)
	r.order = append(r.order, t.Name)
	return nil
}

// RegisterAll registers templates in order, stopping at the first error.
func (r *Registry) RegisterAll(list []models.WorkflowTemplate) error {
	for _, t := range list {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a copy of the named template.
func (r *Registry) Get(name string) (models.WorkflowTemplate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[name]
	if !ok {
		return models.WorkflowTemplate{}, false
	}
	return cloneTemplate(t), true
}

// List returns all templates in registration order.
func (r *Registry) List() []models.WorkflowTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.WorkflowTemplate, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, cloneTemplate(r.templates[name]))
	}
	return out
}

// Validate reports every problem with t. Agents may be nil, in which case
// agent references are not checked.
func Validate(t models.WorkflowTemplate, agents AgentLookup) []error {
	var errs []error

	if strings.TrimSpace(t.Name) == "" {
		errs = append(errs, fmt.Errorf("name is required"))
	}
	if len(t.Steps) == 0 {
		errs = append(errs, fmt.Errorf("at least one step is required"))
	}

	closed := make(map[string]bool)
	prevGroup := ""
	for i, s := range t.Steps {
		if s.AgentID == "" {
			errs = append(errs, fmt.Errorf("step %d: agentId is required", i))
		} else if agents != nil {
			desc, err := agents.Get(s.AgentID)
			if err != nil {
				errs = append(errs, fmt.Errorf("step %d: %w", i, err))
			} else if s.Action != "" && !desc.HasCapability(s.Action) {
				errs = append(errs, fmt.Errorf("step %d: agent %s does not support action %q", i, s.AgentID, s.Action))
			}
		}
		if s.Action == "" {
			errs = append(errs, fmt.Errorf("step %d: action is required", i))
		}
		if s.RetryPolicy.MaxAttempts < 0 {
			errs = append(errs, fmt.Errorf("step %d: maxAttempts must not be negative", i))
		}
		if s.RetryPolicy.BackoffMs < 0 {
			errs = append(errs, fmt.Errorf("step %d: backoffMs must not be negative", i))
		}
		if s.TimeoutMs < 0 {
			errs = append(errs, fmt.Errorf("step %d: timeoutMs must not be negative", i))
		}

		if s.ParallelGroup != prevGroup && prevGroup != "" {
			closed[prevGroup] = true
		}
		if s.ParallelGroup != "" && closed[s.ParallelGroup] {
			errs = append(errs, fmt.Errorf("step %d: parallel group %q is not contiguous", i, s.ParallelGroup))
		}
		prevGroup = s.ParallelGroup
	}
	return errs
}

func normalize(t models.WorkflowTemplate) models.WorkflowTemplate {
	t = cloneTemplate(t)
	for i := range t.Steps {
		if t.Steps[i].RetryPolicy.MaxAttempts == 0 {
			t.Steps[i].RetryPolicy.MaxAttempts = 1
		}
	}
	return t
}

func cloneTemplate(t models.WorkflowTemplate) models.WorkflowTemplate {
	t.Steps = append([]models.Step(nil), t.Steps...)
	t.Triggers.Primary = append([]string(nil), t.Triggers.Primary...)
	t.Triggers.Secondary = append([]string(nil), t.Triggers.Secondary...)
	return t
}
