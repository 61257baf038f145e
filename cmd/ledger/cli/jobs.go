package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func newJobsCommand(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Enqueue or run background jobs",
	}
	cmd.AddCommand(newClosePeriodJobCommand(st), newIntegrityJobCommand(st))
	return cmd
}

func newClosePeriodJobCommand(st *state) *cobra.Command {
	var (
		payload jobs.PeriodClosePayload
		inline  bool
	)
	cmd := &cobra.Command{
		Use:   "close-period",
		Short: "Close a period; defaults to the previous month for every account",
		Args:  cobra.NoArgs,
		RunE: st.run(func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, _ []string) error {
			payload.ActorID = st.actorID
			if inline {
				var locker *redislock.Client
				if rt.Redis != nil {
					locker = redislock.New(rt.Redis)
				}
				job := jobs.NewPeriodCloseJob(rt.Engine.Periods, locker, rt.Logger.With(slog.String("job", jobs.TaskPeriodClose)), rt.Metrics.Jobs())
				if err := job.Run(ctx, payload); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "period close finished")
				return nil
			}
			return enqueue(cmd, rt, func(c *jobs.Client) (*asynq.TaskInfo, error) {
				return c.EnqueuePeriodClose(ctx, payload)
			})
		}),
	}
	cmd.Flags().StringVar(&payload.AccountCode, "account", "", "single account code (defaults to every account)")
	cmd.Flags().StringVar(&payload.Start, "start", "", "first day of the period")
	cmd.Flags().StringVar(&payload.End, "end", "", "last day of the period")
	cmd.Flags().BoolVar(&inline, "inline", false, "run in this process instead of enqueueing")
	return cmd
}

func newIntegrityJobCommand(st *state) *cobra.Command {
	var (
		payload jobs.GLIntegrityPayload
		inline  bool
	)
	cmd := &cobra.Command{
		Use:   "integrity",
		Short: "Check that the general ledger matches the journal",
		Args:  cobra.NoArgs,
		RunE: st.run(func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, _ []string) error {
			if inline {
				job := jobs.NewGLIntegrityJob(rt.Engine.Poster, rt.Logger.With(slog.String("job", jobs.TaskGLIntegrity)), rt.Metrics.Jobs())
				report, err := job.Run(ctx, payload)
				if st.asJSON {
					if encErr := writeJSON(cmd.OutOrStdout(), report); encErr != nil {
						return encErr
					}
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "scanned %d posting(s), %d entr(ies), %d line(s)\n", report.Postings, report.Entries, report.Lines)
					tw := newTable(cmd.OutOrStdout(), "KIND", "POSTING", "DETAIL")
					for _, issue := range report.Issues {
						row(tw, issue.Kind, issue.PostingID, issue.Detail)
					}
					if flushErr := tw.Flush(); flushErr != nil {
						return flushErr
					}
				}
				return err
			}
			return enqueue(cmd, rt, func(c *jobs.Client) (*asynq.TaskInfo, error) {
				return c.EnqueueGLIntegrity(ctx, payload)
			})
		}),
	}
	cmd.Flags().StringVar(&payload.From, "from", "", "first posting date to scan")
	cmd.Flags().StringVar(&payload.To, "to", "", "last posting date to scan")
	cmd.Flags().BoolVar(&inline, "inline", false, "run in this process instead of enqueueing")
	return cmd
}

func enqueue(cmd *cobra.Command, rt *app.Runtime, fn func(*jobs.Client) (*asynq.TaskInfo, error)) error {
	if rt.Config.RedisAddr == "" {
		return fmt.Errorf("%w: REDIS_ADDR is required to enqueue; use --inline", accounting.ErrInvalidInput)
	}
	client := jobs.NewClient(asynq.RedisClientOpt{Addr: rt.Config.RedisAddr})
	defer client.Close()
	info, err := fn(client)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s %s on %s\n", info.Type, info.ID, info.Queue)
	return nil
}
