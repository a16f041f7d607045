package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/jacksonlee411/arena-engine/modules/arena/domain/types"
	"github.com/jacksonlee411/arena-engine/modules/arena/services"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "arenactl",
		Short:         "Arena reconciliation operator tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return withCode(exitUsage, err)
	})
	root.AddCommand(
		newMigrateCmd(a),
		newApproveCmd(a),
		newBackfillCmd(a),
		newClassifyLegacyCmd(a),
	)
	return root
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			applied, err := a.migrate(cmd.Context(), a.cfg.DatabaseURL, a.logger.Named("migrate"))
			if err != nil {
				return withCode(exitDB, err)
			}
			if applied == nil {
				applied = []int64{}
			}
			return a.printJSON(map[string]any{"applied": applied})
		},
	}
}

type approveOptions struct {
	projectID string
	startsAt  string
	endsAt    string
	actor     string
}

func newApproveCmd(a *app) *cobra.Command {
	var opts approveOptions
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve a project's leaderboard arena",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			startsAt, err := services.ParseArenaDate("startsAt", opts.startsAt)
			if err != nil {
				return err
			}
			endsAt, err := services.ParseArenaEndDate("endsAt", opts.endsAt)
			if err != nil {
				return err
			}
			req := types.ApprovalRequest{
				ProjectID:  opts.projectID,
				StartsAt:   startsAt,
				EndsAt:     endsAt,
				ApprovedBy: opts.actor,
			}
			return a.withRunner(cmd.Context(), func(r arenaRunner) error {
				res, err := r.Approve(cmd.Context(), req)
				if err != nil {
					return err
				}
				return a.printJSON(map[string]any{
					"outcome":      res.Outcome,
					"observedKind": res.ObservedKind,
					"arena":        res.Arena,
				})
			})
		},
	}
	cmd.Flags().StringVar(&opts.projectID, "project", "", "Project id (required)")
	cmd.Flags().StringVar(&opts.startsAt, "starts-at", "", "Start date, YYYY-MM-DD or RFC 3339")
	cmd.Flags().StringVar(&opts.endsAt, "ends-at", "", "End date, YYYY-MM-DD (whole day) or RFC 3339")
	cmd.Flags().StringVar(&opts.actor, "actor", "", "Approver recorded as created_by (required)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func newBackfillCmd(a *app) *cobra.Command {
	var (
		limit int
		apply bool
	)
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Reconcile eligible projects that lack a settled ms arena",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRunner(cmd.Context(), func(r arenaRunner) error {
				summary, err := r.Backfill(cmd.Context(), services.BackfillOptions{Limit: limit, DryRun: !apply})
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					if perr := a.printJSON(map[string]any{"dryRun": !apply, "interrupted": true, "summary": summary}); perr != nil {
						return errors.Join(err, perr)
					}
					return err
				}
				if err != nil {
					return err
				}
				return a.printJSON(map[string]any{"dryRun": !apply, "summary": summary})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum projects to process (default from config)")
	cmd.Flags().BoolVar(&apply, "apply", false, "Write changes (default is dry-run)")
	return cmd
}

func newClassifyLegacyCmd(a *app) *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "classify-legacy",
		Short: "Promote unambiguous unknown arenas to legacy_ms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRunner(cmd.Context(), func(r arenaRunner) error {
				summary, err := r.ClassifyLegacy(cmd.Context(), !apply)
				if err != nil {
					return err
				}
				return a.printJSON(map[string]any{"dryRun": !apply, "summary": summary})
			})
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "Write changes (default is dry-run)")
	return cmd
}
