package agents

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/fentz26/conductor/internal/models"
)

// PatternAgentID identifies the business-logic agent.
const PatternAgentID = "workflow-business-logic"

// patternAction is the closed set of actions the pattern agent accepts.
type patternAction interface{ isPatternAction() }

type addPattern struct {
	name       string
	expression string
}

type updatePattern struct {
	name       string
	expression string
}

type listPatterns struct{}

func (addPattern) isPatternAction()    {}
func (updatePattern) isPatternAction() {}
func (listPatterns) isPatternAction()  {}

func parsePatternAction(t models.Task) (patternAction, error) {
	name := patternName(t)
	expr := payloadString(t, "expression")
	if expr == "" {
		expr = regexp.QuoteMeta(name)
	}

	switch t.Action {
	case "add_pattern":
		return addPattern{name: name, expression: expr}, nil
	case "update_pattern":
		return updatePattern{name: name, expression: expr}, nil
	case "list_patterns":
		return listPatterns{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedAction, t.Action)
}

// PatternAgent maintains the library of detection patterns. Patterns are
// compiled regular expressions keyed by name.
type PatternAgent struct {
	mu       sync.RWMutex
	patterns map[string]*regexp.Regexp
}

// NewPatternAgent creates an empty pattern library.
func NewPatternAgent() *PatternAgent {
	return &PatternAgent{patterns: make(map[string]*regexp.Regexp)}
}

// Descriptor implements Agent.
func (a *PatternAgent) Descriptor() models.AgentDescriptor {
	return models.AgentDescriptor{
		ID:           PatternAgentID,
		Version:      "1.0.0",
		Capabilities: []string{"add_pattern", "update_pattern", "list_patterns"},
		Dependencies: []string{TestAgentID},
		Triggers: models.Triggers{
			Primary:   []string{"update pattern", "modify pattern"},
			Secondary: []string{"pattern", "rule", "regex"},
		},
	}
}

// Execute implements Agent.
func (a *PatternAgent) Execute(_ context.Context, task models.Task, _ Invoker) models.Result {
	action, err := parsePatternAction(task)
	if err != nil {
		return models.Failure(err.Error())
	}

	switch act := action.(type) {
	case addPattern:
		re, err := regexp.Compile(act.expression)
		if err != nil {
			return models.Failure(fmt.Sprintf("invalid expression for %s: %v", act.name, err))
		}
		a.mu.Lock()
		existing, ok := a.patterns[act.name]
		if ok && existing.String() != act.expression {
			a.mu.Unlock()
			return models.Failure(fmt.Sprintf("pattern %s already exists", act.name))
		}
		a.patterns[act.name] = re
		a.mu.Unlock()
		// Re-adding an identical pattern is a retry and succeeds.
		return models.Result{Success: true, Data: map[string]any{
			"pattern":    act.name,
			"expression": act.expression,
			"created":    !ok,
		}}

	case updatePattern:
		re, err := regexp.Compile(act.expression)
		if err != nil {
			return models.Failure(fmt.Sprintf("invalid expression for %s: %v", act.name, err))
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		if _, ok := a.patterns[act.name]; !ok {
			return models.Failure(fmt.Sprintf("pattern %s not found", act.name))
		}
		a.patterns[act.name] = re
		return models.Result{Success: true, Data: map[string]any{
			"pattern":    act.name,
			"expression": act.expression,
		}}

	case listPatterns:
		a.mu.RLock()
		defer a.mu.RUnlock()
		out := make(map[string]any, len(a.patterns))
		names := make([]string, 0, len(a.patterns))
		for name, re := range a.patterns {
			out[name] = re.String()
			names = append(names, name)
		}
		sort.Strings(names)
		return models.Result{Success: true, Data: map[string]any{
			"patterns": out,
			"names":    names,
		}}
	}
	return models.Failure(fmt.Sprintf("unhandled pattern action %T", action))
}
