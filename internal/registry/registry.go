// Package registry holds the static table of agent descriptors.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fentz26/conductor/internal/models"
)

// Sentinel errors for agent registration and lookup.
var (
	ErrAgentNotFound        = errors.New("agent not found")
	ErrDuplicateAgent       = errors.New("agent already registered")
	ErrInvalidDescriptor    = errors.New("invalid agent descriptor")
	ErrUnresolvedDependency = errors.New("unresolved agent dependency")
	ErrDependencyCycle      = errors.New("agent dependency cycle")
)

func cloneDescriptor(d *models.AgentDescriptor) models.AgentDescriptor {
	c := *d
	c.Capabilities = append([]string(nil), d.Capabilities...)
	c.Dependencies = append([]string(nil), d.Dependencies...)
	c.Triggers.Primary = append([]string(nil), d.Triggers.Primary...)
	c.Triggers.Secondary = append([]string(nil), d.Triggers.Secondary...)
	return c
}

// Registry maps agent ids to descriptors. It is populated at startup and
// only read afterwards.
type Registry struct {
	agents map[string]*models.AgentDescriptor
	order  []string
	mu     sync.RWMutex
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		agents: make(map[string]*models.AgentDescriptor),
	}
}

// Register adds a single descriptor. Its dependencies must already be registered.
func (r *Registry) Register(d models.AgentDescriptor) error {
	return r.RegisterAll([]models.AgentDescriptor{d})
}

// RegisterAll adds a batch of descriptors atomically. Dependencies may point
// at other members of the batch or at already registered agents; cycles and
// unresolved references reject the whole batch.
func (r *Registry) RegisterAll(descs []models.AgentDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch := make(map[string]*models.AgentDescriptor, len(descs))
	for i := range descs {
		d := descs[i]
		if err := validate(d); err != nil {
			return err
		}
		if _, ok := r.agents[d.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateAgent, d.ID)
		}
		if _, ok := batch[d.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateAgent, d.ID)
		}
		c := cloneDescriptor(&d)
		batch[d.ID] = &c
	}

	lookup := func(id string) (*models.AgentDescriptor, bool) {
		if d, ok := batch[id]; ok {
			return d, true
		}
		d, ok := r.agents[id]
		return d, ok
	}

	for _, d := range descs {
		for _, dep := range d.Dependencies {
			if _, ok := lookup(dep); !ok {
				return fmt.Errorf("%w: %s depends on %s", ErrUnresolvedDependency, d.ID, dep)
			}
		}
	}

	if cycle := findCycle(descs, lookup); cycle != nil {
		return fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(cycle, " -> "))
	}

	for _, d := range descs {
		r.agents[d.ID] = batch[d.ID]
		r.order = append(r.order, d.ID)
	}
	return nil
}

func validate(d models.AgentDescriptor) error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidDescriptor)
	}
	if len(d.Capabilities) == 0 {
		return fmt.Errorf("%w: %s declares no capabilities", ErrInvalidDescriptor, d.ID)
	}
	return nil
}

// findCycle runs a three-colour DFS from every batch member. Already
// registered agents cannot close a cycle through the batch, but they are
// walked anyway so a self-dependency is caught.
func findCycle(descs []models.AgentDescriptor, lookup func(string) (*models.AgentDescriptor, bool)) []string {
	const (
		white = iota
		grey
		black
	)
	colour := make(map[string]int)
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		colour[id] = grey
		stack = append(stack, id)
		d, _ := lookup(id)
		for _, dep := range d.Dependencies {
			switch colour[dep] {
			case grey:
				for i, s := range stack {
					if s == dep {
						cycle = append(append([]string(nil), stack[i:]...), dep)
						break
					}
				}
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		colour[id] = black
		return false
	}

	for _, d := range descs {
		if colour[d.ID] == white && visit(d.ID) {
			return cycle
		}
	}
	return nil
}

// Get retrieves a descriptor by id.
func (r *Registry) Get(id string) (models.AgentDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.agents[id]
	if !ok {
		return models.AgentDescriptor{}, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return cloneDescriptor(d), nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[id]
	return ok
}

// List returns all descriptors in registration order.
func (r *Registry) List() []models.AgentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.AgentDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, cloneDescriptor(r.agents[id]))
	}
	return out
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// FindByCapability returns the first agent, in registration order, that
// accepts action. Agents listed in exclude are skipped.
func (r *Registry) FindByCapability(action string, exclude ...string) (models.AgentDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	for _, id := range r.order {
		d := r.agents[id]
		if !skip[id] && d.HasCapability(action) {
			return cloneDescriptor(d), true
		}
	}
	return models.AgentDescriptor{}, false
}
