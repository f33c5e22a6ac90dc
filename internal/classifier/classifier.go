// Package classifier routes tasks to a single agent or a workflow template
// by deterministic keyword scoring.
package classifier

import (
	"strings"

	"github.com/fentz26/conductor/internal/models"
)

const (
	// PrimaryWeight is added for every primary trigger found in a task.
	PrimaryWeight = 3
	// SecondaryWeight is added for every secondary trigger found in a task.
	SecondaryWeight = 1
	// DefaultMinScore is the lowest score that still routes a task.
	DefaultMinScore = 3
)

// Config tunes classification.
type Config struct {
	MinScore int `mapstructure:"min_score" yaml:"min_score"`
}

// Candidate is one scored routing target.
type Candidate struct {
	Kind  models.RouteKind `json:"kind"`
	Name  string           `json:"name"`
	Score int              `json:"score"`
}

type agentEntry struct {
	desc models.AgentDescriptor
}

type templateEntry struct {
	name     string
	triggers models.Triggers
}

// Classifier is immutable after construction and safe for concurrent use.
type Classifier struct {
	agents    []agentEntry
	templates []templateEntry
	minScore  int
}

// New builds a classifier over agents and templates. Slice order is the
// declaration order used to break ties.
func New(agents []models.AgentDescriptor, templates []models.WorkflowTemplate, cfg Config) *Classifier {
	if cfg.MinScore <= 0 {
		cfg.MinScore = DefaultMinScore
	}

	c := &Classifier{minScore: cfg.MinScore}
	for _, a := range agents {
		c.agents = append(c.agents, agentEntry{desc: a})
	}
	for _, t := range templates {
		c.templates = append(c.templates, templateEntry{name: t.Name, triggers: t.Triggers})
	}
	return c
}

// MinScore returns the routing threshold.
func (c *Classifier) MinScore() int { return c.minScore }

// Score returns the trigger score of text. Matching is a case-insensitive
// substring test.
func Score(text string, triggers models.Triggers) int {
	text = strings.ToLower(text)
	score := 0
	for _, p := range triggers.Primary {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" && strings.Contains(text, p) {
			score += PrimaryWeight
		}
	}
	for _, s := range triggers.Secondary {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" && strings.Contains(text, s) {
			score += SecondaryWeight
		}
	}
	return score
}

// Classify picks a route for task. A template scoring at least the minimum
// wins over any agent; within a kind the highest score wins and ties go to
// the earliest declared candidate. Nothing at or above the minimum yields
// UNROUTABLE.
func (c *Classifier) Classify(task models.Task) models.RouteDecision {
	bestTemplate, templateScore := -1, 0
	for i, t := range c.templates {
		if s := Score(task.Description, t.triggers); s >= c.minScore && s > templateScore {
			bestTemplate, templateScore = i, s
		}
	}
	if bestTemplate >= 0 {
		return models.RouteDecision{
			Kind:         models.RouteWorkflow,
			TemplateName: c.templates[bestTemplate].name,
			Score:        templateScore,
		}
	}

	bestAgent, agentScore := -1, 0
	for i, a := range c.agents {
		if s := Score(task.Description, a.desc.Triggers); s >= c.minScore && s > agentScore {
			bestAgent, agentScore = i, s
		}
	}
	if bestAgent >= 0 {
		desc := c.agents[bestAgent].desc
		return models.RouteDecision{
			Kind:    models.RouteSingleAgent,
			AgentID: desc.ID,
			Action:  selectAction(desc, task),
			Score:   agentScore,
		}
	}

	return models.RouteDecision{Kind: models.RouteUnroutable}
}

// selectAction prefers the task's explicit action, then a capability named
// in the description ("run test" for run_test), then the default action.
func selectAction(desc models.AgentDescriptor, task models.Task) string {
	if task.Action != "" && desc.HasCapability(task.Action) {
		return task.Action
	}
	text := strings.ToLower(task.Description)
	for _, capability := range desc.Capabilities {
		if strings.Contains(text, strings.ReplaceAll(capability, "_", " ")) {
			return capability
		}
	}
	return desc.DefaultAction()
}

// Candidates returns every template and agent with its score, templates
// first, each in declaration order.
func (c *Classifier) Candidates(task models.Task) []Candidate {
	out := make([]Candidate, 0, len(c.templates)+len(c.agents))
	for _, t := range c.templates {
		out = append(out, Candidate{Kind: models.RouteWorkflow, Name: t.name, Score: Score(task.Description, t.triggers)})
	}
	for _, a := range c.agents {
		out = append(out, Candidate{Kind: models.RouteSingleAgent, Name: a.desc.ID, Score: Score(task.Description, a.desc.Triggers)})
	}
	return out
}
