package classifier

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fentz26/conductor/internal/models"
)

func testAgents() []models.AgentDescriptor {
	return []models.AgentDescriptor{
		{
			ID:           "test-automation",
			Capabilities: []string{"create_test", "run_test", "verify_test"},
			Triggers: models.Triggers{
				Primary:   []string{"run test", "write test"},
				Secondary: []string{"test", "verify"},
			},
		},
		{
			ID:           "workflow-business-logic",
			Capabilities: []string{"add_pattern", "update_pattern"},
			Triggers: models.Triggers{
				Primary:   []string{"update pattern"},
				Secondary: []string{"pattern", "regex"},
			},
		},
	}
}

func testTemplates() []models.WorkflowTemplate {
	return []models.WorkflowTemplate{
		{
			Name: "PATTERN_ADDITION",
			Triggers: models.Triggers{
				Primary:   []string{"add pattern", "new pattern"},
				Secondary: []string{"add", "pattern", "detection"},
			},
		},
	}
}

func TestScore(t *testing.T) {
	triggers := models.Triggers{Primary: []string{"add pattern"}, Secondary: []string{"add", "pattern"}}

	tests := []struct {
		text string
		want int
	}{
		{"Add Pattern for XSS", 3 + 1 + 1},
		{"add a pattern", 1 + 1},
		{"ADD", 1},
		{"nothing here", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := Score(tt.text, triggers); got != tt.want {
			t.Errorf("Score(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestClassifyScenario(t *testing.T) {
	c := New(testAgents(), testTemplates(), Config{})

	got := c.Classify(models.Task{Description: "Add SQL injection detection pattern"})
	if got.Kind != models.RouteWorkflow || got.TemplateName != "PATTERN_ADDITION" {
		t.Fatalf("expected PATTERN_ADDITION workflow, got %+v", got)
	}
	if got.Score != 3 {
		t.Errorf("expected score 3, got %d", got.Score)
	}
}

func TestClassifyWorkflowBeatsAgent(t *testing.T) {
	c := New(testAgents(), testTemplates(), Config{})

	// The agent scores 3+1; the template only matches "pattern".
	got := c.Classify(models.Task{Description: "update pattern for tokens"})
	if got.Kind != models.RouteSingleAgent || got.AgentID != "workflow-business-logic" {
		t.Fatalf("expected single agent route, got %+v", got)
	}
	if got.Action != "update_pattern" {
		t.Errorf("expected action inferred from description, got %q", got.Action)
	}

	// Both qualify: the template wins even with a lower score.
	got = c.Classify(models.Task{Description: "add detection and update pattern"})
	if got.Kind != models.RouteWorkflow {
		t.Fatalf("expected workflow precedence, got %+v", got)
	}
}

func TestClassifyTieBreaksByDeclarationOrder(t *testing.T) {
	shared := models.Triggers{Primary: []string{"deploy"}}
	agents := []models.AgentDescriptor{
		{ID: "first", Capabilities: []string{"go"}, Triggers: shared},
		{ID: "second", Capabilities: []string{"go"}, Triggers: shared},
	}
	templates := []models.WorkflowTemplate{
		{Name: "A", Triggers: shared},
		{Name: "B", Triggers: shared},
	}

	got := New(agents, nil, Config{}).Classify(models.Task{Description: "deploy now"})
	if got.AgentID != "first" {
		t.Errorf("agent tie should go to first declared, got %s", got.AgentID)
	}

	got = New(nil, templates, Config{}).Classify(models.Task{Description: "deploy now"})
	if got.TemplateName != "A" {
		t.Errorf("template tie should go to first declared, got %s", got.TemplateName)
	}

	// A strictly higher score still wins over declaration order.
	agents[1].Triggers = models.Triggers{Primary: []string{"deploy"}, Secondary: []string{"now"}}
	got = New(agents, nil, Config{}).Classify(models.Task{Description: "deploy now"})
	if got.AgentID != "second" {
		t.Errorf("higher score should win, got %s", got.AgentID)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c := New(testAgents(), testTemplates(), Config{})
	tasks := []string{
		"Add SQL injection detection pattern",
		"run test suite",
		"verify the test results",
		"make coffee",
		"",
	}

	for _, desc := range tasks {
		first := c.Classify(models.Task{Description: desc})
		for i := 0; i < 50; i++ {
			if got := c.Classify(models.Task{Description: desc}); got != first {
				t.Fatalf("classify(%q) changed between calls: %+v vs %+v", desc, first, got)
			}
		}
	}
}

func TestClassifyUnroutable(t *testing.T) {
	c := New(testAgents(), testTemplates(), Config{})
	got := c.Classify(models.Task{Description: "make coffee"})
	if got.Kind != models.RouteUnroutable {
		t.Fatalf("expected UNROUTABLE, got %+v", got)
	}

	// Raising the threshold demotes a previously routable task.
	strict := New(testAgents(), testTemplates(), Config{MinScore: 10})
	if got := strict.Classify(models.Task{Description: "run test"}); got.Kind != models.RouteUnroutable {
		t.Errorf("expected UNROUTABLE with high threshold, got %+v", got)
	}
}

func TestClassifyExplicitAction(t *testing.T) {
	c := New(testAgents(), nil, Config{})

	got := c.Classify(models.Task{Description: "run test please", Action: "verify_test"})
	if got.Action != "verify_test" {
		t.Errorf("explicit capability should be kept, got %q", got.Action)
	}

	got = c.Classify(models.Task{Description: "write test now", Action: "teleport"})
	if got.Action != "create_test" {
		t.Errorf("unknown action should fall back to default, got %q", got.Action)
	}
}

func TestCandidates(t *testing.T) {
	c := New(testAgents(), testTemplates(), Config{})
	cands := c.Candidates(models.Task{Description: "Add SQL injection detection pattern"})
	if len(cands) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(cands))
	}
	if cands[0].Name != "PATTERN_ADDITION" || cands[0].Score != 3 {
		t.Errorf("unexpected first candidate: %+v", cands[0])
	}
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := `min_score: 2
agents:
  test-automation:
    primary: ["qa"]
templates:
  PATTERN_ADDITION:
    secondary: ["signature"]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}

	agents, templates, cfg, err := rules.Apply(testAgents(), testTemplates(), Config{MinScore: 3})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if cfg.MinScore != 2 {
		t.Errorf("expected min score 2, got %d", cfg.MinScore)
	}

	c := New(agents, templates, cfg)
	if got := c.Classify(models.Task{Description: "qa pass"}); got.AgentID != "test-automation" {
		t.Errorf("overridden trigger not applied: %+v", got)
	}
	if got := c.Classify(models.Task{Description: "new signature signature"}); got.Kind != models.RouteUnroutable {
		// One secondary match scores 1, under the threshold of 2.
		t.Errorf("expected UNROUTABLE, got %+v", got)
	}

	// Inputs are not modified.
	if testAgents()[0].Triggers.Primary[0] != "run test" {
		t.Error("Apply mutated its input")
	}
}

func TestLoadRulesMissingFile(t *testing.T) {
	rules, err := LoadRules(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if rules.MinScore != 0 || len(rules.Agents) != 0 {
		t.Errorf("expected empty rules, got %+v", rules)
	}
}

func TestRulesUnknownAgent(t *testing.T) {
	rules := &Rules{Agents: map[string]models.Triggers{"ghost": {Primary: []string{"x"}}}}
	if _, _, _, err := rules.Apply(testAgents(), nil, Config{}); err == nil {
		t.Fatal("expected error for unknown agent")
	}
}
