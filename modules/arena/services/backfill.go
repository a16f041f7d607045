package services

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/jacksonlee411/arena-engine/modules/arena/domain/types"
)

type BackfillOptions struct {
	Limit  int
	DryRun bool
}

func (s *ArenaService) resolveLimit(limit int) (int, error) {
	if limit <= 0 {
		return s.defaultLimit, nil
	}
	if limit > s.maxLimit {
		return 0, types.NewInvalidInput("", "limit", "limit must be at most "+strconv.Itoa(s.maxLimit))
	}
	return limit, nil
}

// Backfill runs the approval logic for up to opts.Limit eligible projects that
// are not yet settled, in project id order. A failing project is recorded in
// the summary and the run moves on. A cancelled context stops the run and
// returns the partial summary with the context error.
func (s *ArenaService) Backfill(ctx context.Context, opts BackfillOptions) (types.BackfillSummary, error) {
	summary := types.BackfillSummary{Errors: []types.BackfillError{}}
	limit, err := s.resolveLimit(opts.Limit)
	if err != nil {
		return summary, err
	}

	states, err := s.store.ListProjectStates(ctx)
	if err != nil {
		return summary, fmt.Errorf("list project states: %w", err)
	}

	var pending []string
	for _, st := range states {
		ok, err := s.gate.Eligible(st.Project)
		if err != nil {
			summary.Errors = append(summary.Errors, types.BackfillError{ProjectID: st.Project.ID, Message: err.Error()})
			continue
		}
		if !ok {
			continue
		}
		summary.TotalEligible++
		if st.Settled() || len(pending) >= limit {
			continue
		}
		pending = append(pending, st.Project.ID)
	}

	s.metrics.ObserveBackfillRun(opts.DryRun)
	for _, projectID := range pending {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.ScannedCount++

		req, err := normalizeApproval(types.ApprovalRequest{ProjectID: projectID, ApprovedBy: s.backfillActor})
		var res types.ApprovalResult
		if err == nil {
			res, err = s.runUnit(ctx, req, opts.DryRun)
		}
		if err != nil {
			if types.IsConflict(err) {
				s.reportFailure(req, err)
			}
			s.logger.Warn("backfill project failed",
				zap.String("project_id", projectID),
				zap.Bool("dry_run", opts.DryRun),
				zap.Error(err),
			)
			s.metrics.ObserveBackfillItem("error", opts.DryRun)
			summary.Errors = append(summary.Errors, types.BackfillError{ProjectID: projectID, Message: err.Error()})
			continue
		}

		switch res.Outcome {
		case types.OutcomeCreated:
			summary.CreatedCount++
		case types.OutcomeUpdated:
			summary.UpdatedCount++
		default:
			summary.SkippedCount++
		}
		s.metrics.ObserveBackfillItem(string(res.Outcome), opts.DryRun)
	}

	s.logger.Info("backfill finished",
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("limit", limit),
		zap.Int("total_eligible", summary.TotalEligible),
		zap.Int("scanned", summary.ScannedCount),
		zap.Int("created", summary.CreatedCount),
		zap.Int("updated", summary.UpdatedCount),
		zap.Int("skipped", summary.SkippedCount),
		zap.Int("errors", len(summary.Errors)),
	)
	return summary, nil
}
