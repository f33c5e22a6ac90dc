package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/fentz26/conductor/internal/agents"
	"github.com/fentz26/conductor/internal/models"
	"github.com/fentz26/conductor/internal/registry"
	"github.com/fentz26/conductor/internal/workflow"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List registered agents",
	RunE:  runAgents,
}

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List and validate workflow templates",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered workflow templates",
	RunE:  runTemplatesList,
}

var templatesValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a YAML or JSON template file against the built-in agents",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplatesValidate,
}

func init() {
	templatesCmd.AddCommand(templatesListCmd, templatesValidateCmd)
}

func runAgents(cmd *cobra.Command, args []string) error {
	list, err := newClient().Agents(cmd.Context())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVERSION\tCAPABILITIES\tDEPENDS ON")
	for _, a := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.ID, a.Version,
			strings.Join(a.Capabilities, ","), strings.Join(a.Dependencies, ","))
	}
	return tw.Flush()
}

func runTemplatesList(cmd *cobra.Command, args []string) error {
	list, err := newClient().Templates(cmd.Context())
	if err != nil {
		return err
	}
	printTemplates(cmd.OutOrStdout(), list)
	return nil
}

func printTemplates(w io.Writer, list []models.WorkflowTemplate) {
	for _, t := range list {
		fmt.Fprintf(w, "%s\n", color.New(color.Bold).Sprint(t.Name))
		if t.Description != "" {
			fmt.Fprintf(w, "  %s\n", t.Description)
		}
		for i, s := range t.Steps {
			extra := []string{fmt.Sprintf("attempts=%d", s.RetryPolicy.MaxAttempts)}
			if s.ParallelGroup != "" {
				extra = append(extra, "group="+s.ParallelGroup)
			}
			if s.ContinueOnError {
				extra = append(extra, "continue-on-error")
			}
			fmt.Fprintf(w, "  %d. %s.%s  (%s)\n", i, s.AgentID, s.Action, strings.Join(extra, ", "))
		}
		fmt.Fprintln(w)
	}
}

// runTemplatesValidate checks a template document offline. Valid documents
// are echoed back in normalised YAML.
func runTemplatesValidate(cmd *cobra.Command, args []string) error {
	loaded, err := workflow.LoadTemplates(args[0])
	if err != nil {
		return err
	}

	agentReg := registry.New()
	descs := make([]models.AgentDescriptor, 0, 3)
	for _, a := range agents.Builtins(agentReg, nil) {
		descs = append(descs, a.Descriptor())
	}
	if err := agentReg.RegisterAll(descs); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	templates := workflow.NewRegistry(agentReg)
	var errs []error
	for _, t := range loaded {
		if err := templates.Register(t); err != nil {
			printStatus(out, "✗", err.Error(), color.FgRed)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d templates invalid: %w", len(errs), len(loaded), errors.Join(errs...))
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(workflow.Document{Templates: templates.List()}); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	printStatus(out, "✓", fmt.Sprintf("%d templates valid", len(loaded)), color.FgGreen)
	return nil
}
