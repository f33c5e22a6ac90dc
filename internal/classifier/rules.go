package classifier

import (
	"errors"
	"fmt"
	"os"

	"github.com/fentz26/conductor/internal/models"
	"gopkg.in/yaml.v3"
)

// Rules overrides trigger phrases and the threshold without a rebuild.
//
//	min_score: 3
//	agents:
//	  test-automation:
//	    primary: ["run test"]
//	    secondary: ["test"]
//	templates:
//	  PATTERN_ADDITION:
//	    primary: ["add pattern"]
type Rules struct {
	MinScore  int                        `yaml:"min_score,omitempty"`
	Agents    map[string]models.Triggers `yaml:"agents,omitempty"`
	Templates map[string]models.Triggers `yaml:"templates,omitempty"`
}

// LoadRules reads a rule file. A missing file yields empty rules.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Rules{}, nil
		}
		return nil, fmt.Errorf("reading rules file: %w", err)
	}

	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing rules file: %w", err)
	}
	if r.MinScore < 0 {
		return nil, fmt.Errorf("min_score must not be negative")
	}
	return &r, nil
}

// Marshal renders the rules as YAML.
func (r *Rules) Marshal() ([]byte, error) {
	return yaml.Marshal(r)
}

// Apply returns copies of agents and templates with overridden triggers,
// and cfg with the rule file's threshold when it sets one. Unknown names are
// reported so a typo in the rule file does not go unnoticed.
func (r *Rules) Apply(agents []models.AgentDescriptor, templates []models.WorkflowTemplate, cfg Config) ([]models.AgentDescriptor, []models.WorkflowTemplate, Config, error) {
	outAgents := append([]models.AgentDescriptor(nil), agents...)
	outTemplates := append([]models.WorkflowTemplate(nil), templates...)
	if r == nil {
		return outAgents, outTemplates, cfg, nil
	}

	seen := make(map[string]bool)
	for i := range outAgents {
		if t, ok := r.Agents[outAgents[i].ID]; ok {
			outAgents[i].Triggers = t
			seen[outAgents[i].ID] = true
		}
	}
	for id := range r.Agents {
		if !seen[id] {
			return nil, nil, cfg, fmt.Errorf("rules reference unknown agent %q", id)
		}
	}

	seen = make(map[string]bool)
	for i := range outTemplates {
		if t, ok := r.Templates[outTemplates[i].Name]; ok {
			outTemplates[i].Triggers = t
			seen[outTemplates[i].Name] = true
		}
	}
	for name := range r.Templates {
		if !seen[name] {
			return nil, nil, cfg, fmt.Errorf("rules reference unknown template %q", name)
		}
	}

	if r.MinScore > 0 {
		cfg.MinScore = r.MinScore
	}
	return outAgents, outTemplates, cfg, nil
}
