package main

import (
	"context"
	"errors"
	"strings"

	"github.com/fentz26/conductor/internal/logging"
	"github.com/fentz26/conductor/internal/models"
	"github.com/fentz26/conductor/internal/orchestrator"
	"github.com/spf13/cobra"
)

var errTaskFailed = errors.New("task failed")

var runCmd = &cobra.Command{
	Use:   "run [description]",
	Short: "Handle a task in-process without a daemon",
	Long: `Classifies and executes a task inside this process, using the configured
state backend. Useful for scripting and for running without the daemon.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

var (
	taskAction  string
	taskPayload map[string]string
	jsonOutput  bool
)

func addTaskFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&taskAction, "action", "", "Explicit action for the selected agent")
	cmd.Flags().StringToStringVar(&taskPayload, "payload", nil, "Payload fields (key=value,...)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the raw result as JSON")
}

func init() {
	addTaskFlags(runCmd)
}

func buildTask(args []string) models.Task {
	return models.Task{
		Description: strings.Join(args, " "),
		Action:      taskAction,
		Payload:     parsePayload(taskPayload),
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := orchestrator.Build(ctx, cfg.RuntimeOptions(logger))
	if err != nil {
		return err
	}
	defer rt.Close()

	res := rt.Orchestrator.HandleTask(ctx, buildTask(args))
	return reportResult(cmd, &res)
}

func reportResult(cmd *cobra.Command, res *models.Result) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := printJSON(out, res); err != nil {
			return err
		}
	} else {
		printResult(out, res)
	}
	if !res.Success {
		return errTaskFailed
	}
	return nil
}
