package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/fentz26/conductor/internal/models"
)

// printStatus prints a status line with color
func printStatus(w io.Writer, symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Fprintf(w, "%s %s\n", c.Sprint(symbol), message)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusColor(s models.WorkflowStatus) color.Attribute {
	switch s {
	case models.WorkflowCompleted:
		return color.FgGreen
	case models.WorkflowFailed:
		return color.FgRed
	case models.WorkflowRunning:
		return color.FgCyan
	case models.WorkflowCancelled:
		return color.FgYellow
	}
	return color.FgWhite
}

func outcomeColor(o models.Outcome) color.Attribute {
	switch o {
	case models.OutcomeSuccess:
		return color.FgGreen
	case models.OutcomeTimeout:
		return color.FgYellow
	}
	return color.FgRed
}

func describeRoute(r *models.RouteDecision) string {
	if r == nil {
		return "-"
	}
	switch r.Kind {
	case models.RouteWorkflow:
		return fmt.Sprintf("workflow %s (score %d)", r.TemplateName, r.Score)
	case models.RouteSingleAgent:
		return fmt.Sprintf("agent %s.%s (score %d)", r.AgentID, r.Action, r.Score)
	}
	return fmt.Sprintf("unroutable, fallback %s.%s", r.AgentID, r.Action)
}

// printResult renders a task result. Workflow results list every attempt.
func printResult(w io.Writer, res *models.Result) {
	fmt.Fprintf(w, "Route:    %s\n", describeRoute(res.Route))
	if res.WorkflowID != "" {
		fmt.Fprintf(w, "Workflow: %s\n", res.WorkflowID)
		fmt.Fprintf(w, "Status:   %s\n", color.New(statusColor(res.Status)).Sprint(res.Status))
	}
	if len(res.StepResults) > 0 {
		fmt.Fprintln(w)
		printStepResults(w, res.StepResults)
	}
	if len(res.Data) > 0 {
		fmt.Fprintln(w)
		printJSON(w, res.Data)
	}

	fmt.Fprintln(w)
	if res.Success {
		printStatus(w, "✓", "task succeeded", color.FgGreen)
	} else {
		printStatus(w, "✗", "task failed: "+res.Error, color.FgRed)
	}
}

func printStepResults(w io.Writer, results []models.StepResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tAGENT\tACTION\tATTEMPT\tOUTCOME\tERROR")
	for _, r := range results {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n",
			r.StepIndex, r.AgentID, r.Action, r.Attempt,
			color.New(outcomeColor(r.Outcome)).Sprint(r.Outcome),
			truncate(r.Error, 60))
	}
	tw.Flush()
}

func printWorkflow(w io.Writer, inst *models.WorkflowInstance) {
	fmt.Fprintf(w, "ID:          %s\n", inst.ID)
	fmt.Fprintf(w, "Template:    %s\n", inst.TemplateName)
	fmt.Fprintf(w, "Description: %s\n", inst.Task.Description)
	fmt.Fprintf(w, "Status:      %s\n", color.New(statusColor(inst.Status)).Sprint(inst.Status))
	fmt.Fprintf(w, "Next step:   %d\n", inst.CurrentStepIndex)
	if inst.Error != "" {
		fmt.Fprintf(w, "Error:       %s\n", inst.Error)
	}
	fmt.Fprintf(w, "Created:     %s\n", inst.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Updated:     %s\n", inst.UpdatedAt.Format("2006-01-02 15:04:05"))
	if len(inst.StepResults) > 0 {
		fmt.Fprintln(w)
		printStepResults(w, inst.StepResults)
	}
}

func printWorkflowTable(w io.Writer, list []*models.WorkflowInstance) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No workflows found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTEMPLATE\tSTATUS\tSTEP\tDESCRIPTION")
	for _, inst := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			truncateID(inst.ID), inst.TemplateName, inst.Status, inst.CurrentStepIndex,
			truncate(inst.Task.Description, 40))
	}
	tw.Flush()
}

// parsePayload turns key=value flags into a task payload. Nested keys are
// not supported; values stay strings.
func parsePayload(pairs map[string]string) map[string]any {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]any, len(pairs))
	for k, v := range pairs {
		out[strings.TrimSpace(k)] = v
	}
	return out
}

// --- Helpers ---

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
