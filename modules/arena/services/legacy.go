package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jacksonlee411/arena-engine/modules/arena/domain/classifier"
	"github.com/jacksonlee411/arena-engine/modules/arena/domain/types"
)

// ClassifyLegacy relabels unknown rows that the classifier resolves to
// legacy_ms. Rows already relabeled by a concurrent writer are left alone, so
// repeated runs converge. dryRun rolls the transaction back.
func (s *ArenaService) ClassifyLegacy(ctx context.Context, dryRun bool) (types.ClassifySummary, error) {
	summary := types.ClassifySummary{PromotedIDs: []string{}}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return summary, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	rows, err := tx.ListLegacyRows(ctx)
	if err != nil {
		return summary, fmt.Errorf("list legacy rows: %w", err)
	}

	for _, r := range rows {
		summary.Scanned++
		if !classifier.NeedsPromotion(r) {
			summary.Untouched++
			continue
		}
		to := classifier.Normalize(r.Arena, r.Competing)
		changed, err := tx.SetKind(ctx, r.Arena.ID, r.Arena.Kind, to)
		if err != nil {
			return summary, fmt.Errorf("relabel arena %s (project %s): %w", r.Arena.ID, r.Arena.ProjectID, err)
		}
		if !changed {
			summary.Untouched++
			continue
		}
		summary.Promoted++
		summary.PromotedIDs = append(summary.PromotedIDs, r.Arena.ID)
		s.logger.Info("legacy arena promoted",
			zap.String("arena_id", r.Arena.ID),
			zap.String("project_id", r.Arena.ProjectID),
			zap.String("to", string(to)),
			zap.Bool("dry_run", dryRun),
		)
	}

	if !dryRun {
		if err := tx.Commit(ctx); err != nil {
			return types.ClassifySummary{PromotedIDs: []string{}}, fmt.Errorf("commit: %w", err)
		}
	}
	s.metrics.AddLegacyPromotions(summary.Promoted, dryRun)
	return summary, nil
}
