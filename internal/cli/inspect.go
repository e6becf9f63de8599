package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

func newJobsCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List the registered jobs and their latest run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withEngine(cmd.Context(), func(ctx context.Context, e *Engine) error {
				names := e.Jobs.Names()
				latest := make([]*model.JobExecution, len(names))
				for i, name := range names {
					// A job that never ran has no execution.
					latest[i], _ = e.Explorer.FindLatestJobExecution(ctx, name)
				}
				printSummary(cmd.OutOrStdout(), names, latest)
				return nil
			})
		},
	}
}

func newStatusCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <runId>",
		Short: "Show a run and its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withEngine(cmd.Context(), func(ctx context.Context, e *Engine) error {
				je, err := e.Explorer.GetJobExecution(ctx, args[0])
				if err != nil {
					return err
				}
				steps, err := e.Explorer.GetStepExecutions(ctx, args[0])
				if err != nil {
					return err
				}
				printExecution(cmd.OutOrStdout(), je, steps)
				return nil
			})
		},
	}
}

// printSummary prints one line per job with its run, or "-" when runs[i] is nil.
func printSummary(out io.Writer, names []string, runs []*model.JobExecution) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tRUN\tSTATUS\tEXIT\tSTARTED\tDURATION")
	for i, name := range names {
		je := runs[i]
		if je == nil {
			fmt.Fprintf(w, "%s\t-\t-\t-\t-\t-\n", name)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", name, je.ID, je.Status, je.ExitStatus, formatTime(je.StartTime), duration(je.StartTime, je.EndTime))
	}
	_ = w.Flush()
}

func printExecution(out io.Writer, je *model.JobExecution, steps []*model.StepExecution) {
	fmt.Fprintf(out, "Run:         %s\n", je.ID)
	fmt.Fprintf(out, "Job:         %s (instance %s)\n", je.JobName, je.JobInstanceID)
	fmt.Fprintf(out, "Status:      %s (exit %s)\n", je.Status, je.ExitStatus)
	fmt.Fprintf(out, "Parameters:  %s\n", je.Parameters.String())
	fmt.Fprintf(out, "Started:     %s\n", formatTime(je.StartTime))
	fmt.Fprintf(out, "Duration:    %s\n", duration(je.StartTime, je.EndTime))
	if je.RestartCount > 0 {
		fmt.Fprintf(out, "Restarts:    %d\n", je.RestartCount)
	}
	if len(je.Failures) > 0 {
		fmt.Fprintf(out, "Failures:\n")
		for _, f := range je.Failures {
			fmt.Fprintf(out, "  %s\n", f)
		}
	}
	if len(steps) == 0 {
		return
	}
	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "STEP\tSTATUS\tEXIT\tREAD\tWRITE\tFILTER\tSKIP(R/P/W)\tRETRY\tCOMMIT\tROLLBACK\t")
	for _, se := range steps {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d/%d/%d\t%d\t%d\t%d\t\n",
			se.StepName, se.Status, se.ExitStatus,
			se.ReadCount, se.WriteCount, se.FilterCount,
			se.ReadSkipCount, se.ProcessSkipCount, se.WriteSkipCount,
			se.RetryCount, se.CommitCount, se.RollbackCount)
	}
	_ = w.Flush()
	for _, se := range steps {
		if se.ExitDescription != "" && se.Status != model.BatchStatusCompleted {
			fmt.Fprintf(out, "%s: %s\n", se.StepName, strings.TrimSpace(se.ExitDescription))
		}
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func duration(start time.Time, end *time.Time) string {
	if start.IsZero() {
		return "-"
	}
	if end == nil {
		return "running"
	}
	return end.Sub(start).Round(time.Millisecond).String()
}
