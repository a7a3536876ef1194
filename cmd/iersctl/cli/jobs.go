package cli

import (
	"fmt"
	"io"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/iers-platform/iers/jobs"
)

func newJobsCommand(rt *Runtime, opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect the background job queues",
	}
	cmd.AddCommand(newJobsInspectCommand(rt, opts))
	cmd.AddCommand(newJobsScheduledCommand(rt, opts))
	return cmd
}

func newJobsInspectCommand(rt *Runtime, opts *RootOptions) *cobra.Command {
	var queue string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show queue counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: rt.Config.RedisAddr})
			defer inspector.Close()

			stats, err := jobs.Inspect(inspector, queue)
			if err != nil {
				return err
			}
			return emit(cmd, opts, stats, func(w io.Writer) {
				fmt.Fprintln(w, "QUEUE\tPENDING\tACTIVE\tRETRY\tARCHIVED\tPROCESSED\tFAILED")
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n", stats.Queue, stats.Pending, stats.Active, stats.Retry, stats.Archived, stats.Processed, stats.Failed)
			})
		},
	}
	cmd.Flags().StringVar(&queue, "queue", jobs.QueueCompliance, "queue name")
	return cmd
}

type scheduledEntry struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	NextAt string `json:"next_process_at"`
}

func newJobsScheduledCommand(rt *Runtime, opts *RootOptions) *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "scheduled",
		Short: "List scheduled tasks on the compliance queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if size <= 0 {
				size = 10
			}
			inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: rt.Config.RedisAddr})
			defer inspector.Close()

			infos, err := inspector.ListScheduledTasks(jobs.QueueCompliance, asynq.PageSize(size), asynq.Page(1))
			if err != nil {
				return err
			}
			entries := make([]scheduledEntry, 0, len(infos))
			for _, info := range infos {
				entries = append(entries, scheduledEntry{ID: info.ID, Type: info.Type, NextAt: info.NextProcessAt.UTC().Format("2006-01-02T15:04:05Z")})
			}
			return emit(cmd, opts, entries, func(w io.Writer) {
				fmt.Fprintln(w, "ID\tTYPE\tNEXT")
				for _, e := range entries {
					fmt.Fprintf(w, "%s\t%s\t%s\n", e.ID, e.Type, e.NextAt)
				}
			})
		},
	}
	cmd.Flags().IntVar(&size, "size", 10, "page size")
	return cmd
}
