package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jacksonlee411/arena-engine/modules/arena/domain/classifier"
	"github.com/jacksonlee411/arena-engine/modules/arena/domain/ports"
	"github.com/jacksonlee411/arena-engine/modules/arena/domain/types"
)

type EligibilityGate interface {
	Eligible(p types.Project) (bool, error)
}

type ArenaService struct {
	store   ports.ArenaStore
	gate    EligibilityGate
	logger  *zap.Logger
	metrics Metrics
	now     func() time.Time
	newID   func(time.Time) (string, error)

	backfillActor string
	defaultLimit  int
	maxLimit      int
}

func NewArenaService(store ports.ArenaStore, gate EligibilityGate, opts ...Option) *ArenaService {
	s := &ArenaService{
		store:         store,
		gate:          gate,
		logger:        zap.NewNop(),
		metrics:       nopMetrics{},
		now:           time.Now,
		newID:         newArenaID,
		backfillActor: DefaultBackfillActor,
		defaultLimit:  DefaultBackfillLimit,
		maxLimit:      MaxBackfillLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Approve reconciles the project's ms arena in one unit of work: lock, read,
// then update the existing ms-family row or insert a new one.
func (s *ArenaService) Approve(ctx context.Context, req types.ApprovalRequest) (types.ApprovalResult, error) {
	started := s.now()
	req, err := normalizeApproval(req)
	if err != nil {
		return types.ApprovalResult{}, err
	}

	res, err := s.runUnit(ctx, req, false)
	if err != nil {
		s.reportFailure(req, err)
		return types.ApprovalResult{}, err
	}

	s.metrics.ObserveApproval(res.Outcome, s.now().Sub(started))
	s.logger.Info("arena approved",
		zap.String("project_id", req.ProjectID),
		zap.String("arena_id", res.Arena.ID),
		zap.String("slug", res.Arena.Slug),
		zap.String("outcome", string(res.Outcome)),
		zap.String("observed_kind", string(res.ObservedKind)),
		zap.String("approved_by", req.ApprovedBy),
	)
	return res, nil
}

func (s *ArenaService) ListLive(ctx context.Context) ([]types.Arena, error) {
	return s.store.ListLiveArenas(ctx, s.now().UTC())
}

// runUnit executes the decision logic in its own transaction. dryRun always
// rolls back, so it exercises the same statements a real run would.
func (s *ArenaService) runUnit(ctx context.Context, req types.ApprovalRequest, dryRun bool) (types.ApprovalResult, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return types.ApprovalResult{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	res, err := s.reconcile(ctx, tx, req)
	if err != nil {
		return types.ApprovalResult{}, err
	}
	if dryRun {
		return res, nil
	}

	if err := tx.Commit(ctx); err != nil {
		if uv, ok := errors.AsType[*ports.UniqueViolationError](err); ok {
			return types.ApprovalResult{}, types.NewConflict(req.ProjectID, "commit", describeArena(&res.Arena), uv)
		}
		return types.ApprovalResult{}, fmt.Errorf("commit project %s: %w", req.ProjectID, err)
	}
	return res, nil
}

func (s *ArenaService) reconcile(ctx context.Context, tx ports.ArenaTx, req types.ApprovalRequest) (types.ApprovalResult, error) {
	if err := tx.LockProject(ctx, req.ProjectID); err != nil {
		return types.ApprovalResult{}, fmt.Errorf("lock project %s: %w", req.ProjectID, err)
	}

	p, err := tx.GetProject(ctx, req.ProjectID)
	if err != nil {
		if errors.Is(err, ports.ErrProjectNotFound) {
			return types.ApprovalResult{}, types.NewProjectNotFound(req.ProjectID)
		}
		return types.ApprovalResult{}, fmt.Errorf("load project %s: %w", req.ProjectID, err)
	}

	ok, err := s.gate.Eligible(p)
	if err != nil {
		return types.ApprovalResult{}, err
	}
	if !ok {
		return types.ApprovalResult{}, types.NewNotEligible(p.ID, p.FlagSummary())
	}

	cand, err := tx.FindCandidate(ctx, p.ID)
	if err != nil {
		return types.ApprovalResult{}, fmt.Errorf("find candidate %s: %w", p.ID, err)
	}
	if cand != nil {
		return s.updatePath(ctx, tx, req, *cand)
	}
	return s.insertPath(ctx, tx, p, req)
}

// updatePath promotes whatever ms-family row exists to kind=ms/status=active
// and merges only the dates the caller supplied. unknown rows take this path
// too; inserting beside them would break the one-row-per-project rule.
func (s *ArenaService) updatePath(ctx context.Context, tx ports.ArenaTx, req types.ApprovalRequest, cand types.Candidate) (types.ApprovalResult, error) {
	cur := cand.Arena
	observed := classifier.NormalizeCandidate(cand)
	if cand.Competing > 0 {
		s.logger.Warn("project has competing ms-family arenas",
			zap.String("project_id", req.ProjectID),
			zap.String("arena_id", cur.ID),
			zap.Int("competing", cand.Competing),
		)
	}

	startsAt := mergeTime(cur.StartsAt, req.StartsAt)
	endsAt := mergeTime(cur.EndsAt, req.EndsAt)
	if startsAt != nil && endsAt != nil && endsAt.Before(*startsAt) {
		return types.ApprovalResult{}, types.NewInvalidInput(req.ProjectID, "endsAt", "endsAt before startsAt")
	}

	var patch types.ArenaPatch
	if cur.Kind != types.KindMS {
		k := types.KindMS
		patch.Kind = &k
	}
	if cur.Status != types.StatusActive {
		st := types.StatusActive
		patch.Status = &st
	}
	if req.StartsAt != nil && !sameTime(cur.StartsAt, req.StartsAt) {
		patch.StartsAt = req.StartsAt
	}
	if req.EndsAt != nil && !sameTime(cur.EndsAt, req.EndsAt) {
		patch.EndsAt = req.EndsAt
	}

	outcome := types.OutcomeUpdated
	if patch.Empty() {
		outcome = types.OutcomeSkipped
	}

	arena, err := tx.Update(ctx, cur.ID, patch)
	if err != nil {
		return types.ApprovalResult{}, fmt.Errorf("update arena %s for project %s (%s): %w", cur.ID, req.ProjectID, describeArena(&cur), err)
	}
	return types.ApprovalResult{Arena: arena, Outcome: outcome, ObservedKind: observed}, nil
}

func (s *ArenaService) insertPath(ctx context.Context, tx ports.ArenaTx, p types.Project, req types.ApprovalRequest) (types.ApprovalResult, error) {
	base, err := baseSlug(p)
	if err != nil {
		return types.ApprovalResult{}, err
	}
	taken, err := tx.SlugsWithPrefix(ctx, base)
	if err != nil {
		return types.ApprovalResult{}, fmt.Errorf("list slugs %s: %w", base, err)
	}

	// Double-check right before the write: a pre-flight read outside this
	// transaction may have raced with another approver.
	cand, err := tx.FindCandidate(ctx, p.ID)
	if err != nil {
		return types.ApprovalResult{}, fmt.Errorf("recheck candidate %s: %w", p.ID, err)
	}
	if cand != nil {
		return s.updatePath(ctx, tx, req, *cand)
	}

	id, err := s.newID(s.now())
	if err != nil {
		return types.ApprovalResult{}, err
	}
	spec := types.ArenaSpec{
		ID:        id,
		ProjectID: p.ID,
		Slug:      nextFreeSlug(base, taken),
		Kind:      types.KindMS,
		Status:    types.StatusActive,
		StartsAt:  req.StartsAt,
		EndsAt:    req.EndsAt,
		CreatedBy: req.ApprovedBy,
	}

	arena, err := tx.Create(ctx, spec)
	if err == nil {
		return types.ApprovalResult{Arena: arena, Outcome: types.OutcomeCreated}, nil
	}
	uv, ok := errors.AsType[*ports.UniqueViolationError](err)
	if !ok {
		return types.ApprovalResult{}, fmt.Errorf("insert arena for project %s: %w", p.ID, err)
	}

	// One bounded retry. A slug race picks the next free slug; anything else
	// means a row appeared under us, so re-read it and update instead.
	if uv.OnSlug() {
		taken, err := tx.SlugsWithPrefix(ctx, base)
		if err != nil {
			return types.ApprovalResult{}, fmt.Errorf("list slugs %s: %w", base, err)
		}
		spec.Slug = nextFreeSlug(base, taken)
		arena, err := tx.Create(ctx, spec)
		if err != nil {
			return types.ApprovalResult{}, types.NewConflict(p.ID, "insert_retry", "slug="+spec.Slug, err)
		}
		return types.ApprovalResult{Arena: arena, Outcome: types.OutcomeCreated}, nil
	}

	cand, err = tx.FindCandidate(ctx, p.ID)
	if err != nil {
		return types.ApprovalResult{}, types.NewConflict(p.ID, "reread_after_conflict", "candidate=unreadable", errors.Join(uv, err))
	}
	if cand == nil {
		return types.ApprovalResult{}, types.NewConflict(p.ID, "reread_after_conflict", "candidate=none", uv)
	}
	res, err := s.updatePath(ctx, tx, req, *cand)
	if err != nil {
		if types.IsInvalidInput(err) {
			return types.ApprovalResult{}, err
		}
		return types.ApprovalResult{}, types.NewConflict(p.ID, "update_retry", describeArena(&cand.Arena), errors.Join(uv, err))
	}
	return res, nil
}

func (s *ArenaService) reportFailure(req types.ApprovalRequest, err error) {
	if !types.IsConflict(err) {
		return
	}
	s.metrics.IncConflict()
	fields := []zap.Field{
		zap.String("project_id", req.ProjectID),
		zap.String("approved_by", req.ApprovedBy),
		zap.Error(err),
	}
	if e, ok := errors.AsType[*types.ReconcileError](err); ok {
		fields = append(fields, zap.String("op", e.Op), zap.String("observed", e.Observed))
		if uv, ok := errors.AsType[*ports.UniqueViolationError](e.Err); ok {
			fields = append(fields, zap.String("constraint", uv.Constraint))
		}
	}
	s.logger.Error("reconciliation conflict requires operator attention", fields...)
}

func mergeTime(stored *time.Time, supplied *time.Time) *time.Time {
	if supplied != nil {
		return supplied
	}
	return stored
}

func sameTime(a *time.Time, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func describeArena(a *types.Arena) string {
	if a == nil || a.ID == "" {
		return "candidate=none"
	}
	return fmt.Sprintf("candidate=%s kind=%s status=%s", a.ID, a.Kind, a.Status)
}
