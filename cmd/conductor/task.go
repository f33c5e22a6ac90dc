package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Submit tasks to the daemon",
}

var taskSubmitCmd = &cobra.Command{
	Use:   "submit [description]",
	Short: "Submit a task and wait for its result",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTaskSubmit,
}

var taskClassifyCmd = &cobra.Command{
	Use:   "classify [description]",
	Short: "Show how a task would be routed",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTaskClassify,
}

func init() {
	taskCmd.AddCommand(taskSubmitCmd, taskClassifyCmd)
	addTaskFlags(taskSubmitCmd)
}

func runTaskSubmit(cmd *cobra.Command, args []string) error {
	res, err := newClient().SubmitTask(cmd.Context(), buildTask(args))
	if err != nil {
		return err
	}
	return reportResult(cmd, res)
}

func runTaskClassify(cmd *cobra.Command, args []string) error {
	route, candidates, err := newClient().Classify(cmd.Context(), buildTask(args))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Route: %s\n\n", describeRoute(&route))

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tNAME\tSCORE")
	for _, c := range candidates {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", c.Kind, c.Name, c.Score)
	}
	return tw.Flush()
}
