package workflow

import "github.com/fentz26/conductor/internal/models"

// Built-in template names.
const (
	PatternAddition = "PATTERN_ADDITION"
	PatternReview   = "PATTERN_REVIEW"
)

// Builtins returns the templates shipped with conductor.
//
// PATTERN_ADDITION follows a test-first flow: the test is written and run
// before the pattern exists, so run_test is expected to fail and is marked
// continueOnError.
func Builtins() []models.WorkflowTemplate {
	return []models.WorkflowTemplate{
		{
			Name:        PatternAddition,
			Description: "Write a failing detection test, add the pattern, verify the test passes.",
			Triggers: models.Triggers{
				Primary:   []string{"add pattern", "new pattern"},
				Secondary: []string{"add", "pattern", "detection"},
			},
			Steps: []models.Step{
				{AgentID: "test-automation", Action: "create_test", RetryPolicy: models.RetryPolicy{MaxAttempts: 2, BackoffMs: 100}},
				{AgentID: "test-automation", Action: "run_test", RetryPolicy: models.RetryPolicy{MaxAttempts: 1}, ContinueOnError: true},
				{AgentID: "workflow-business-logic", Action: "add_pattern", RetryPolicy: models.RetryPolicy{MaxAttempts: 3, BackoffMs: 100}},
				{AgentID: "test-automation", Action: "verify_test", RetryPolicy: models.RetryPolicy{MaxAttempts: 2, BackoffMs: 100}},
			},
		},
		{
			Name:        PatternReview,
			Description: "Prepare a test and a pattern in parallel, then verify them together.",
			Triggers: models.Triggers{
				Primary:   []string{"review pattern", "pattern review"},
				Secondary: []string{"review", "audit"},
			},
			Steps: []models.Step{
				{AgentID: "test-automation", Action: "create_test", ParallelGroup: "checks", RetryPolicy: models.RetryPolicy{MaxAttempts: 2, BackoffMs: 100}},
				{AgentID: "workflow-business-logic", Action: "add_pattern", ParallelGroup: "checks", RetryPolicy: models.RetryPolicy{MaxAttempts: 2, BackoffMs: 100}},
				{AgentID: "test-automation", Action: "verify_test", RetryPolicy: models.RetryPolicy{MaxAttempts: 2, BackoffMs: 100}},
			},
		},
	}
}
