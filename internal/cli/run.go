package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	usecase "github.com/tigerroll/chunkbatch/pkg/batch/core/application/usecase"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// stopGrace is how long an interrupted run may take to reach a chunk boundary.
const stopGrace = 30 * time.Second

// ErrRunUnsuccessful is returned when a run ends in a status other than COMPLETED.
var ErrRunUnsuccessful = errors.New("run did not complete")

func newRunCommand(o *Options) *cobra.Command {
	var params []string
	cmd := &cobra.Command{
		Use:   "run <job>",
		Short: "Launch a job and wait for it to end",
		Example: "  chunkbatch run firstJob\n" +
			"  chunkbatch run retryJob --param failures=2:long\n" +
			"  chunkbatch run exportJob -p category=books -p day=2024-01-31:date",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jp, err := ParseParameters(params)
			if err != nil {
				return err
			}
			return o.withEngine(cmd.Context(), func(ctx context.Context, e *Engine) error {
				runID, err := e.Launcher.Launch(ctx, args[0], jp)
				if err != nil {
					return err
				}
				return e.report(ctx, cmd.OutOrStdout(), runID)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "job parameter as key=value[:type]; type is string, long, double or date")
	return cmd
}

func newRestartCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <runId>",
		Short: "Restart a FAILED or STOPPED run from its last committed chunk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withEngine(cmd.Context(), func(ctx context.Context, e *Engine) error {
				runID, err := e.Operator.Restart(ctx, args[0])
				if err != nil {
					return err
				}
				return e.report(ctx, cmd.OutOrStdout(), runID)
			})
		},
	}
}

func newAbandonCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "abandon <runId>",
		Short: "Mark a FAILED or STOPPED run as never to be restarted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withEngine(cmd.Context(), func(ctx context.Context, e *Engine) error {
				if err := e.Operator.Abandon(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Run %s abandoned.\n", args[0])
				return nil
			})
		},
	}
}

func newRunAllCommand(o *Options) *cobra.Command {
	var params []string
	cmd := &cobra.Command{
		Use:   "run-all",
		Short: "Launch every registered job concurrently and wait for all of them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			jp, err := ParseParameters(params)
			if err != nil {
				return err
			}
			return o.withEngine(cmd.Context(), func(ctx context.Context, e *Engine) error {
				return e.runAll(ctx, cmd.OutOrStdout(), jp)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "job parameter passed to every job, as key=value[:type]")
	return cmd
}

// runAll launches every job and waits for all runs. A failed run does not
// cancel the others; the summary lists every job.
func (e *Engine) runAll(ctx context.Context, out io.Writer, params model.JobParameters) error {
	names := e.Jobs.Names()
	results := make([]*model.JobExecution, len(names))
	errs := make([]error, len(names))

	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			runID, err := e.Launcher.Launch(ctx, name, params)
			if err == nil {
				results[i], err = e.await(ctx, runID)
			}
			if err == nil && results[i].Status != model.BatchStatusCompleted {
				err = fmt.Errorf("%w: %s", ErrRunUnsuccessful, results[i].Status)
			}
			if err != nil {
				logger.Errorf("Job '%s': %v", name, err)
			}
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	printSummary(out, names, results)
	var failed []string
	for i, err := range errs {
		if err != nil {
			failed = append(failed, names[i])
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: %d of %d job(s): %v", ErrRunUnsuccessful, len(failed), len(names), failed)
	}
	return nil
}

// await waits for runID. When ctx ends first the run is asked to stop and
// given stopGrace to reach a chunk boundary.
func (e *Engine) await(ctx context.Context, runID string) (*model.JobExecution, error) {
	je, err := e.Operator.Wait(ctx, runID)
	if err == nil || ctx.Err() == nil {
		return je, err
	}
	logger.Warnf("Interrupted; stopping run %s.", runID)
	bg := context.WithoutCancel(ctx)
	if serr := e.Operator.Stop(bg, runID); serr != nil && !errors.Is(serr, usecase.ErrRunNotActive) {
		logger.Warnf("Failed to stop run %s: %v", runID, serr)
	}
	waitCtx, cancel := context.WithTimeout(bg, stopGrace)
	defer cancel()
	return e.Operator.Wait(waitCtx, runID)
}

// report waits for runID, prints it and fails unless it COMPLETED.
func (e *Engine) report(ctx context.Context, out io.Writer, runID string) error {
	je, err := e.await(ctx, runID)
	if err != nil {
		return err
	}
	steps, err := e.Explorer.GetStepExecutions(context.WithoutCancel(ctx), runID)
	if err != nil {
		return err
	}
	printExecution(out, je, steps)
	if je.Status != model.BatchStatusCompleted {
		return fmt.Errorf("%w: run %s ended as %s", ErrRunUnsuccessful, runID, je.Status)
	}
	return nil
}
