package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/fentz26/conductor/internal/models"
	"github.com/spf13/cobra"
)

var workflowCmd = &cobra.Command{
	Use:     "workflow",
	Aliases: []string{"wf"},
	Short:   "Inspect and cancel workflow instances",
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflow instances",
	RunE:  runWorkflowList,
}

var workflowShowCmd = &cobra.Command{
	Use:   "show [workflow-id]",
	Short: "Show a workflow instance and its step results",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowShow,
}

var workflowCancelCmd = &cobra.Command{
	Use:   "cancel [workflow-id]",
	Short: "Cancel a workflow at its next batch boundary",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowCancel,
}

var workflowStatus string

func init() {
	workflowCmd.AddCommand(workflowListCmd, workflowShowCmd, workflowCancelCmd)

	workflowListCmd.Flags().StringVar(&workflowStatus, "status", "", "Filter by status (PENDING, RUNNING, COMPLETED, FAILED, CANCELLED)")
	workflowListCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON")
	workflowShowCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON")
}

func runWorkflowList(cmd *cobra.Command, args []string) error {
	status := models.WorkflowStatus(strings.ToUpper(workflowStatus))
	if status != "" && !status.Valid() {
		return fmt.Errorf("unknown status %q", workflowStatus)
	}

	list, err := newClient().ListWorkflows(cmd.Context(), status)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), list)
	}
	printWorkflowTable(cmd.OutOrStdout(), list)
	return nil
}

func runWorkflowShow(cmd *cobra.Command, args []string) error {
	inst, err := newClient().GetWorkflow(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), inst)
	}
	printWorkflow(cmd.OutOrStdout(), inst)
	return nil
}

func runWorkflowCancel(cmd *cobra.Command, args []string) error {
	if err := newClient().CancelWorkflow(cmd.Context(), args[0]); err != nil {
		return err
	}
	printStatus(cmd.OutOrStdout(), "✓", fmt.Sprintf("cancellation requested for %s", args[0]), color.FgGreen)
	return nil
}
