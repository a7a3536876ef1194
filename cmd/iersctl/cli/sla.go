package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/iers-platform/iers/internal/audit"
	"github.com/iers-platform/iers/internal/sla"
	"github.com/iers-platform/iers/jobs"
)

func newSLACommand(rt *Runtime, opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sla",
		Short: "Inspect and run SLA escalation rules",
	}
	cmd.AddCommand(newSLARulesCommand(rt, opts))
	cmd.AddCommand(newSLARunCommand(rt, opts))
	cmd.AddCommand(newSLATriggerCommand(rt, opts))
	return cmd
}

func newSLARulesCommand(rt *Runtime, opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the configured SLA rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rules := rt.rules()
			return emit(cmd, opts, rules, func(w io.Writer) {
				fmt.Fprintln(w, "NAME\tTABLE\tPREDICATE\tDUE\tNOTIFY")
				for _, r := range rules {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Name, r.SourceTable, predicate(r), r.DueField, r.NotifyRole)
				}
			})
		},
	}
}

func predicate(r sla.Rule) string {
	if r.NullColumn != "" {
		return r.NullColumn + " IS NULL"
	}
	return r.StatusColumn + " IN (" + strings.Join(r.StatusValues, ",") + ")"
}

func newSLARunCommand(rt *Runtime, opts *RootOptions) *cobra.Command {
	var rule string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one audit pass in this process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, recorder, closeFn, err := rt.slaDeps(ctx)
			if err != nil {
				return &ExitError{Code: ExitCommandError, Err: err}
			}
			defer closeFn()

			engine, err := sla.NewEngine(store, recorder, rt.rules(), rt.logger())
			if err != nil {
				return &ExitError{Code: ExitCommandError, Err: err}
			}
			var summary sla.Summary
			if rule != "" {
				summary, err = engine.RunRule(ctx, rule)
			} else {
				summary, err = engine.RunAudit(ctx)
			}
			if errors.Is(err, sla.ErrInvalidRule) {
				return &ExitError{Code: ExitCommandError, Err: err}
			}
			if emitErr := emit(cmd, opts, summary, func(w io.Writer) {
				fmt.Fprintln(w, "RULES\tBREACHES\tESCALATED\tSKIPPED\tFAILED")
				fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\n", summary.Rules, summary.Breaches, summary.Escalated, summary.Skipped, summary.Failed)
			}); emitErr != nil {
				return emitErr
			}
			if err != nil {
				return &ExitError{Code: ExitFailure, Err: err}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rule, "rule", "", "run a single rule by name")
	return cmd
}

func (rt *Runtime) slaDeps(ctx context.Context) (sla.Store, audit.Recorder, func(), error) {
	if rt.SLAStore != nil {
		recorder := rt.Recorder
		if recorder == nil {
			recorder = audit.Discard{}
		}
		return rt.SLAStore, recorder, func() {}, nil
	}
	pool, err := rt.pool(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return sla.NewStore(pool), audit.NewPGRecorder(pool), pool.Close, nil
}

type triggerResult struct {
	TaskID string `json:"task_id"`
	Queue  string `json:"queue"`
	Rule   string `json:"rule,omitempty"`
}

func newSLATriggerCommand(rt *Runtime, opts *RootOptions) *cobra.Command {
	var (
		rule      string
		uniqueFor time.Duration
	)
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Enqueue an audit pass for the worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rule != "" {
				if _, ok := sla.FindRule(rt.rules(), rule); !ok {
					return &ExitError{Code: ExitCommandError, Err: fmt.Errorf("%w: unknown rule %q", sla.ErrInvalidRule, rule)}
				}
			}
			client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: rt.Config.RedisAddr})
			if err != nil {
				return &ExitError{Code: ExitCommandError, Err: err}
			}
			defer client.Close()

			info, err := client.EnqueueSLAAudit(cmd.Context(), rule, uniqueFor)
			if errors.Is(err, asynq.ErrDuplicateTask) {
				return &ExitError{Code: ExitFailure, Err: errors.New("an identical audit pass is already queued")}
			}
			if err != nil {
				return err
			}
			res := triggerResult{TaskID: info.ID, Queue: info.Queue, Rule: rule}
			return emit(cmd, opts, res, func(w io.Writer) {
				fmt.Fprintf(w, "enqueued\t%s\ton %s\n", res.TaskID, res.Queue)
			})
		},
	}
	cmd.Flags().StringVar(&rule, "rule", "", "limit the pass to one rule")
	cmd.Flags().DurationVar(&uniqueFor, "unique", time.Minute, "deduplicate identical passes for this long (0 disables)")
	return cmd
}
