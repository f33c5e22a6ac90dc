package agents

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/fentz26/conductor/internal/connectors"
	"github.com/fentz26/conductor/internal/models"
)

// TestAgentID identifies the test automation agent.
const TestAgentID = "test-automation"

type testAction interface{ isTestAction() }

type createTest struct {
	name   string
	sample string
}

type runTest struct {
	name     string
	pkg      string
	recorded createTest
}

type verifyTest struct {
	name     string
	pkg      string
	recorded createTest
}

func (createTest) isTestAction() {}
func (runTest) isTestAction()    {}
func (verifyTest) isTestAction() {}

func parseTestAction(t models.Task) (testAction, error) {
	name := patternName(t)
	switch t.Action {
	case "create_test":
		sample := payloadString(t, "sample")
		if sample == "" {
			sample = name
		}
		return createTest{name: name, sample: sample}, nil
	case "run_test":
		return runTest{name: name, pkg: payloadString(t, "package"), recorded: recordedTest(t)}, nil
	case "verify_test":
		return verifyTest{name: name, pkg: payloadString(t, "package"), recorded: recordedTest(t)}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedAction, t.Action)
}

// recordedTest reads the create_test output a workflow carries in
// payload["previous"]. It is how a resumed workflow finds a test written
// by an earlier process.
func recordedTest(t models.Task) createTest {
	prev, _ := t.Payload["previous"].(map[string]any)
	out, _ := prev["create_test"].(map[string]any)
	name, _ := out["test"].(string)
	sample, _ := out["sample"].(string)
	return createTest{name: name, sample: sample}
}

// TestAgent writes and runs detection tests against the pattern library.
// A test passes once the pattern it covers exists and matches the test's
// sample input. When a task names a Go package, the package's tests must
// pass as well.
type TestAgent struct {
	conn connectors.Connector

	mu    sync.RWMutex
	tests map[string]string // pattern name -> sample input
}

// NewTestAgent creates a test agent. conn may be nil, in which case package
// test runs are refused.
func NewTestAgent(conn connectors.Connector) *TestAgent {
	return &TestAgent{conn: conn, tests: make(map[string]string)}
}

// Descriptor implements Agent.
func (a *TestAgent) Descriptor() models.AgentDescriptor {
	return models.AgentDescriptor{
		ID:           TestAgentID,
		Version:      "1.0.0",
		Capabilities: []string{"create_test", "run_test", "verify_test"},
		Triggers: models.Triggers{
			Primary:   []string{"run test", "write test", "create test"},
			Secondary: []string{"test", "verify", "coverage"},
		},
	}
}

// Execute implements Agent.
func (a *TestAgent) Execute(ctx context.Context, task models.Task, inv Invoker) models.Result {
	action, err := parseTestAction(task)
	if err != nil {
		return models.Failure(err.Error())
	}

	switch act := action.(type) {
	case createTest:
		a.mu.Lock()
		a.tests[act.name] = act.sample
		a.mu.Unlock()
		return models.Result{Success: true, Data: map[string]any{
			"test":   act.name,
			"sample": act.sample,
		}}

	case runTest:
		return a.check(ctx, act.name, act.pkg, act.recorded, inv)

	case verifyTest:
		res := a.check(ctx, act.name, act.pkg, act.recorded, inv)
		if res.Success {
			res.Data["verified"] = true
		}
		return res
	}
	return models.Failure(fmt.Sprintf("unhandled test action %T", action))
}

func (a *TestAgent) check(ctx context.Context, name, pkg string, recorded createTest, inv Invoker) models.Result {
	a.mu.Lock()
	sample, ok := a.tests[name]
	if !ok && recorded.name == name && recorded.sample != "" {
		sample, ok = recorded.sample, true
		a.tests[name] = sample
	}
	a.mu.Unlock()
	if !ok {
		return models.Failure(fmt.Sprintf("no test exists for pattern %s", name))
	}

	lib, err := inv.InvokeAgent(ctx, PatternAgentID, models.Task{
		Description: "list patterns",
		Action:      "list_patterns",
	})
	if err != nil {
		return models.Failure(fmt.Sprintf("query pattern library: %v", err))
	}
	if !lib.Success {
		return models.Failure(fmt.Sprintf("query pattern library: %s", lib.Error))
	}

	patterns, _ := lib.Data["patterns"].(map[string]any)
	expr, ok := patterns[name].(string)
	if !ok {
		return models.Failure(fmt.Sprintf("test %s failed: pattern not implemented", name))
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return models.Failure(fmt.Sprintf("test %s failed: %v", name, err))
	}
	if !re.MatchString(sample) {
		return models.Failure(fmt.Sprintf("test %s failed: %q does not match %q", name, expr, sample))
	}

	data := map[string]any{"test": name, "passed": true}
	if pkg != "" {
		out, err := a.goTest(ctx, pkg)
		if err != nil {
			return models.Failure(fmt.Sprintf("test %s: %v", name, err))
		}
		data["go_test"] = out.Stdout
		if !out.Passed() {
			return models.Result{
				Success: false,
				Error:   fmt.Sprintf("go test %s exited %d", pkg, out.ExitCode),
				Data:    data,
			}
		}
	}
	return models.Result{Success: true, Data: data}
}

func (a *TestAgent) goTest(ctx context.Context, pkg string) (*connectors.ExecResult, error) {
	if a.conn == nil {
		return nil, fmt.Errorf("no connector configured for package tests")
	}
	if strings.HasPrefix(pkg, "-") {
		return nil, fmt.Errorf("invalid package %q", pkg)
	}
	return a.conn.Execute(ctx, "go", []string{"test", pkg})
}
