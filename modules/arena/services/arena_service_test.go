package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/jacksonlee411/arena-engine/modules/arena/domain/eligibility"
	"github.com/jacksonlee411/arena-engine/modules/arena/domain/ports"
	"github.com/jacksonlee411/arena-engine/modules/arena/domain/types"
)

func eligibleProject(id string, slug string) types.Project {
	return types.Project{
		ID:                    id,
		Slug:                  slug,
		ArcActive:             true,
		ArcAccessLevel:        "leaderboard",
		ApplicationStatus:     "approved",
		Option2NormalUnlocked: true,
		LeaderboardEnabled:    true,
	}
}

type gateFunc func(types.Project) (bool, error)

func (f gateFunc) Eligible(p types.Project) (bool, error) { return f(p) }

type recordingMetrics struct {
	mu         sync.Mutex
	approvals  map[types.Outcome]int
	conflicts  int
	items      map[string]int
	runs       int
	promotions int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{approvals: map[types.Outcome]int{}, items: map[string]int{}}
}

func (m *recordingMetrics) ObserveApproval(o types.Outcome, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvals[o]++
}

func (m *recordingMetrics) IncConflict() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts++
}

func (m *recordingMetrics) ObserveBackfillItem(outcome string, _ bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[outcome]++
}

func (m *recordingMetrics) ObserveBackfillRun(bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
}

func (m *recordingMetrics) AddLegacyPromotions(n int, _ bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promotions += n
}

var testNow = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, store *memStore, opts ...Option) *ArenaService {
	t.Helper()
	gate, err := eligibility.NewDefaultGate()
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewArenaService(store, gate, opts...)
}

func mustDate(t *testing.T, raw string) *time.Time {
	t.Helper()
	d, err := ParseArenaDate("date", raw)
	if err != nil {
		t.Fatalf("date %q: %v", raw, err)
	}
	return d
}

func TestApprove_CreatesArena(t *testing.T) {
	store := newMemStore(eligibleProject("p1", "p"))
	svc := newTestService(t, store)

	res, err := svc.Approve(context.Background(), types.ApprovalRequest{
		ProjectID:  "p1",
		StartsAt:   mustDate(t, "2025-03-01"),
		EndsAt:     mustDate(t, "2025-03-31"),
		ApprovedBy: "admin-1",
	})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if res.Outcome != types.OutcomeCreated {
		t.Fatalf("outcome=%q", res.Outcome)
	}

	rows := store.rows()
	if len(rows) != 1 {
		t.Fatalf("rows=%d", len(rows))
	}
	a := rows[0]
	if a.Kind != types.KindMS || a.Status != types.StatusActive || a.Slug != "p-leaderboard" || a.CreatedBy != "admin-1" {
		t.Fatalf("arena=%+v", a)
	}
	if !a.StartsAt.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) || !a.EndsAt.Equal(time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("dates=%v %v", a.StartsAt, a.EndsAt)
	}
	if !a.LiveAt(testNow) {
		t.Fatal("approved arena must be visible to the read surface")
	}
	live, err := svc.ListLive(context.Background())
	if err != nil || len(live) != 1 || live[0].ID != a.ID {
		t.Fatalf("live=%+v err=%v", live, err)
	}
}

func TestApprove_NullableDates(t *testing.T) {
	store := newMemStore(eligibleProject("p1", "p"))
	svc := newTestService(t, store)
	res, err := svc.Approve(context.Background(), types.ApprovalRequest{ProjectID: "p1", ApprovedBy: "admin"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if res.Arena.StartsAt != nil || res.Arena.EndsAt != nil {
		t.Fatalf("arena=%+v", res.Arena)
	}
}

func TestApprove_Idempotent(t *testing.T) {
	store := newMemStore(eligibleProject("p1", "p"))
	svc := newTestService(t, store)
	req := types.ApprovalRequest{ProjectID: "p1", StartsAt: mustDate(t, "2025-03-01"), ApprovedBy: "admin"}

	first, err := svc.Approve(context.Background(), req)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := svc.Approve(context.Background(), req)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.Outcome != types.OutcomeSkipped {
		t.Fatalf("outcome=%q", second.Outcome)
	}

	rows := store.rows()
	if len(rows) != 1 {
		t.Fatalf("rows=%d", len(rows))
	}
	a, b := first.Arena, rows[0]
	if !b.UpdatedAt.After(a.UpdatedAt) {
		t.Fatal("second approval must refresh updated_at")
	}
	a.UpdatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	if a.ID != b.ID || a.Slug != b.Slug || a.Kind != b.Kind || a.Status != b.Status || !a.StartsAt.Equal(*b.StartsAt) || a.CreatedBy != b.CreatedBy {
		t.Fatalf("first=%+v now=%+v", a, b)
	}
}

func TestApprove_UpdatePathMergesDates(t *testing.T) {
	store := newMemStore(eligibleProject("p1", "p"))
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	store.seed(types.Arena{ID: "a1", ProjectID: "p1", Slug: "p-leaderboard", Kind: types.KindMS, Status: types.StatusDraft, StartsAt: &start, CreatedBy: "old"})
	svc := newTestService(t, store)

	res, err := svc.Approve(context.Background(), types.ApprovalRequest{ProjectID: "p1", EndsAt: mustDate(t, "2025-04-30"), ApprovedBy: "admin"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if res.Outcome != types.OutcomeUpdated {
		t.Fatalf("outcome=%q", res.Outcome)
	}
	a := store.rows()[0]
	if a.Status != types.StatusActive || !a.StartsAt.Equal(start) || a.EndsAt == nil || a.CreatedBy != "old" {
		t.Fatalf("arena=%+v", a)
	}

	t.Run("merged window must be ordered", func(t *testing.T) {
		_, err := svc.Approve(context.Background(), types.ApprovalRequest{ProjectID: "p1", EndsAt: mustDate(t, "2025-02-01"), ApprovedBy: "admin"})
		if !types.IsInvalidInput(err) {
			t.Fatalf("err=%v", err)
		}
		if got := store.rows()[0]; !got.EndsAt.Equal(time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC)) {
			t.Fatalf("rejected approval must not write: %+v", got)
		}
	})
}

func TestApprove_PromotesLegacyKinds(t *testing.T) {
	for _, kind := range []types.Kind{types.KindUnknown, types.KindLegacyMS} {
		t.Run(string(kind), func(t *testing.T) {
			store := newMemStore(eligibleProject("p1", "p"))
			store.seed(types.Arena{ID: "old", ProjectID: "p1", Slug: "p-leaderboard", Kind: kind, Status: types.StatusDraft})
			svc := newTestService(t, store)

			res, err := svc.Approve(context.Background(), types.ApprovalRequest{ProjectID: "p1", ApprovedBy: "admin"})
			if err != nil {
				t.Fatalf("err=%v", err)
			}
			if res.Outcome != types.OutcomeUpdated || res.ObservedKind != types.KindLegacyMS {
				t.Fatalf("res=%+v", res)
			}
			rows := store.rows()
			if len(rows) != 1 || rows[0].ID != "old" || rows[0].Kind != types.KindMS || rows[0].Status != types.StatusActive {
				t.Fatalf("rows=%+v", rows)
			}
		})
	}
}

func TestApprove_CompetingUnknownRowsNeverInsert(t *testing.T) {
	store := newMemStore(eligibleProject("p1", "p"))
	store.seed(types.Arena{ID: "u1", ProjectID: "p1", Slug: "p-leaderboard", Kind: types.KindUnknown, Status: types.StatusActive})
	store.seed(types.Arena{ID: "u2", ProjectID: "p1", Slug: "p-leaderboard-2", Kind: types.KindUnknown, Status: types.StatusActive})
	core, logs := observer.New(zap.WarnLevel)
	svc := newTestService(t, store, WithLogger(zap.New(core)))

	res, err := svc.Approve(context.Background(), types.ApprovalRequest{ProjectID: "p1", ApprovedBy: "admin"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if res.Arena.ID != "u1" || res.Outcome != types.OutcomeUpdated || res.ObservedKind != types.KindUnknown {
		t.Fatalf("res=%+v", res)
	}
	rows := store.rows()
	if len(rows) != 2 {
		t.Fatalf("rows=%+v", rows)
	}
	for _, a := range rows {
		switch a.ID {
		case "u1":
			if a.Kind != types.KindMS || a.Status != types.StatusActive {
				t.Fatalf("u1=%+v", a)
			}
		case "u2":
			if a.Kind != types.KindUnknown {
				t.Fatalf("u2 must stay for an operator: %+v", a)
			}
		}
	}
	warned := logs.FilterMessage("project has competing ms-family arenas").All()
	if len(warned) != 1 || warned[0].ContextMap()["competing"] != int64(1) {
		t.Fatalf("warnings=%+v", logs.All())
	}

	again, err := svc.Approve(context.Background(), types.ApprovalRequest{ProjectID: "p1", ApprovedBy: "admin"})
	if err != nil || again.Arena.ID != "u1" || again.Outcome != types.OutcomeSkipped {
		t.Fatalf("res=%+v err=%v", again, err)
	}
}

func TestApprove_LeavesOtherKindsAlone(t *testing.T) {
	store := newMemStore(eligibleProject("p1", "p"))
	other := store.seed(types.Arena{ID: "o1", ProjectID: "p1", Slug: "p-leaderboard", Kind: types.KindOther, Status: types.StatusDraft})
	svc := newTestService(t, store)

	res, err := svc.Approve(context.Background(), types.ApprovalRequest{ProjectID: "p1", ApprovedBy: "admin"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if res.Outcome != types.OutcomeCreated || res.Arena.Slug != "p-leaderboard-2" {
		t.Fatalf("res=%+v", res)
	}
	for _, a := range store.rows() {
		if a.ID == other.ID && (a.Kind != types.KindOther || a.Status != types.StatusDraft || !a.UpdatedAt.Equal(other.UpdatedAt)) {
			t.Fatalf("other row touched: %+v", a)
		}
	}
}

func TestApprove_Rejections(t *testing.T) {
	notEligible := eligibleProject("p2", "q")
	notEligible.LeaderboardEnabled = false
	store := newMemStore(eligibleProject("p1", "p"), notEligible, eligibleProject("p3", "!!!"))
	svc := newTestService(t, store)
	ctx := context.Background()

	t.Run("not eligible", func(t *testing.T) {
		_, err := svc.Approve(ctx, types.ApprovalRequest{ProjectID: "p2", ApprovedBy: "admin"})
		if !types.IsNotEligible(err) {
			t.Fatalf("err=%v", err)
		}
		if !strings.Contains(err.Error(), "leaderboard_enabled=false") {
			t.Fatalf("err=%v", err)
		}
	})
	t.Run("unknown project", func(t *testing.T) {
		_, err := svc.Approve(ctx, types.ApprovalRequest{ProjectID: "nope", ApprovedBy: "admin"})
		if !types.IsProjectNotFound(err) {
			t.Fatalf("err=%v", err)
		}
	})
	t.Run("bad project id", func(t *testing.T) {
		_, err := svc.Approve(ctx, types.ApprovalRequest{ProjectID: "p 1", ApprovedBy: "admin"})
		if !types.IsInvalidInput(err) {
			t.Fatalf("err=%v", err)
		}
	})
	t.Run("missing approver", func(t *testing.T) {
		_, err := svc.Approve(ctx, types.ApprovalRequest{ProjectID: "p1", ApprovedBy: "  "})
		if !types.IsInvalidInput(err) {
			t.Fatalf("err=%v", err)
		}
	})
	t.Run("inverted window", func(t *testing.T) {
		_, err := svc.Approve(ctx, types.ApprovalRequest{ProjectID: "p1", StartsAt: mustDate(t, "2025-03-31"), EndsAt: mustDate(t, "2025-03-01"), ApprovedBy: "admin"})
		if !types.IsInvalidInput(err) {
			t.Fatalf("err=%v", err)
		}
	})
	t.Run("slug normalizes to nothing", func(t *testing.T) {
		_, err := svc.Approve(ctx, types.ApprovalRequest{ProjectID: "p3", ApprovedBy: "admin"})
		if !types.IsInvalidInput(err) {
			t.Fatalf("err=%v", err)
		}
	})
	t.Run("gate error", func(t *testing.T) {
		svc := NewArenaService(store, gateFunc(func(types.Project) (bool, error) { return false, errors.New("eval") }))
		if _, err := svc.Approve(ctx, types.ApprovalRequest{ProjectID: "p1", ApprovedBy: "admin"}); err == nil || types.IsNotEligible(err) {
			t.Fatalf("err=%v", err)
		}
	})
	t.Run("begin error", func(t *testing.T) {
		broken := newMemStore(eligibleProject("p1", "p"))
		broken.beginErr = errors.New("db down")
		if _, err := newTestService(t, broken).Approve(ctx, types.ApprovalRequest{ProjectID: "p1", ApprovedBy: "admin"}); err == nil {
			t.Fatal("expected error")
		}
	})

	if n := len(store.rows()); n != 0 {
		t.Fatalf("rejections must not write, rows=%d", n)
	}
}

func TestApprove_ConcurrentSameProject(t *testing.T) {
	store := newMemStore(eligibleProject("p1", "p"))
	metrics := newRecordingMetrics()
	svc := newTestService(t, store, WithMetrics(metrics))

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			_, err := svc.Approve(context.Background(), types.ApprovalRequest{ProjectID: "p1", ApprovedBy: "admin"})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("err=%v", err)
	}

	if n := len(store.msFamily("p1")); n != 1 {
		t.Fatalf("ms-family rows=%d", n)
	}
	if metrics.approvals[types.OutcomeCreated] != 1 || metrics.approvals[types.OutcomeSkipped] != 15 {
		t.Fatalf("approvals=%v", metrics.approvals)
	}
}

func TestApprove_DoubleCheckSeesConcurrentWinner(t *testing.T) {
	store := newMemStore(eligibleProject("p1", "p"))
	store.noLock = true
	var once sync.Once
	store.onSlugs = func(string) {
		once.Do(func() {
			store.seed(types.Arena{ID: "winner", ProjectID: "p1", Slug: "p-leaderboard", Kind: types.KindMS, Status: types.StatusActive, CreatedBy: "admin-a"})
		})
	}
	svc := newTestService(t, store)

	res, err := svc.Approve(context.Background(), types.ApprovalRequest{ProjectID: "p1", EndsAt: mustDate(t, "2025-03-31"), ApprovedBy: "admin-b"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if res.Outcome != types.OutcomeUpdated || res.Arena.ID != "winner" {
		t.Fatalf("res=%+v", res)
	}
	if n := len(store.rows()); n != 1 {
		t.Fatalf("rows=%d", n)
	}
}

func TestApprove_UniqueViolationRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("slug race takes next suffix", func(t *testing.T) {
		store := newMemStore(eligibleProject("p1", "p"), eligibleProject("p9", "other"))
		calls := 0
		store.onCreate = func(types.ArenaSpec) error {
			calls++
			if calls == 1 {
				store.seed(types.Arena{ID: "x", ProjectID: "p9", Slug: "p-leaderboard", Kind: types.KindOther, Status: types.StatusDraft})
			}
			return nil
		}
		res, err := newTestService(t, store).Approve(ctx, types.ApprovalRequest{ProjectID: "p1", ApprovedBy: "admin"})
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if res.Outcome != types.OutcomeCreated || res.Arena.Slug != "p-leaderboard-2" || calls != 2 {
			t.Fatalf("res=%+v calls=%d", res, calls)
		}
	})

	t.Run("row appeared under us becomes update", func(t *testing.T) {
		store := newMemStore(eligibleProject("p1", "p"))
		store.onCreate = func(types.ArenaSpec) error {
			store.onCreate = nil
			store.seed(types.Arena{ID: "migrated", ProjectID: "p1", Slug: "legacy-slug", Kind: types.KindUnknown, Status: types.StatusDraft})
			return nil
		}
		res, err := newTestService(t, store).Approve(ctx, types.ApprovalRequest{ProjectID: "p1", ApprovedBy: "admin"})
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if res.Outcome != types.OutcomeUpdated || res.Arena.ID != "migrated" {
			t.Fatalf("res=%+v", res)
		}
		rows := store.rows()
		if len(rows) != 1 || rows[0].Kind != types.KindMS || rows[0].Status != types.StatusActive {
			t.Fatalf("rows=%+v", rows)
		}
	})

	t.Run("second slug violation is a conflict", func(t *testing.T) {
		store := newMemStore(eligibleProject("p1", "p"))
		store.onCreate = func(types.ArenaSpec) error {
			return &ports.UniqueViolationError{Constraint: ports.ConstraintSlugUnique, Err: errors.New("dup")}
		}
		metrics := newRecordingMetrics()
		_, err := newTestService(t, store, WithMetrics(metrics)).Approve(ctx, types.ApprovalRequest{ProjectID: "p1", ApprovedBy: "admin"})
		if !types.IsConflict(err) {
			t.Fatalf("err=%v", err)
		}
		if !strings.Contains(err.Error(), "op=insert_retry") || metrics.conflicts != 1 {
			t.Fatalf("err=%v conflicts=%d", err, metrics.conflicts)
		}
	})

	t.Run("violation without a visible row is a conflict", func(t *testing.T) {
		store := newMemStore(eligibleProject("p1", "p"))
		store.onCreate = func(types.ArenaSpec) error {
			return &ports.UniqueViolationError{Constraint: ports.ConstraintOneMSFamilyPerProject, Err: errors.New("dup")}
		}
		_, err := newTestService(t, store).Approve(ctx, types.ApprovalRequest{ProjectID: "p1", ApprovedBy: "admin"})
		if !types.IsConflict(err) {
			t.Fatalf("err=%v", err)
		}
		var uv *ports.UniqueViolationError
		if !errors.As(err, &uv) || uv.Constraint != ports.ConstraintOneMSFamilyPerProject {
			t.Fatalf("err=%v", err)
		}
	})

	t.Run("commit violation is a conflict", func(t *testing.T) {
		store := newMemStore(eligibleProject("p1", "p"))
		store.onCommit = func() error {
			return &ports.UniqueViolationError{Constraint: ports.ConstraintOneMSFamilyPerProject, Err: errors.New("dup")}
		}
		_, err := newTestService(t, store).Approve(ctx, types.ApprovalRequest{ProjectID: "p1", ApprovedBy: "admin"})
		if !types.IsConflict(err) || !strings.Contains(err.Error(), "op=commit") {
			t.Fatalf("err=%v", err)
		}
		if n := len(store.rows()); n != 0 {
			t.Fatalf("rows=%d", n)
		}
	})

	t.Run("other insert errors pass through", func(t *testing.T) {
		store := newMemStore(eligibleProject("p1", "p"))
		store.onCreate = func(types.ArenaSpec) error { return errors.New("disk full") }
		_, err := newTestService(t, store).Approve(ctx, types.ApprovalRequest{ProjectID: "p1", ApprovedBy: "admin"})
		if err == nil || types.IsConflict(err) {
			t.Fatalf("err=%v", err)
		}
	})
}

func TestApprove_IDGenerator(t *testing.T) {
	store := newMemStore(eligibleProject("p1", "p"))
	svc := newTestService(t, store, WithIDGenerator(func(time.Time) (string, error) { return "fixed-id", nil }))
	res, err := svc.Approve(context.Background(), types.ApprovalRequest{ProjectID: "p1", ApprovedBy: "admin"})
	if err != nil || res.Arena.ID != "fixed-id" {
		t.Fatalf("res=%+v err=%v", res, err)
	}

	store = newMemStore(eligibleProject("p1", "p"))
	svc = newTestService(t, store, WithIDGenerator(func(time.Time) (string, error) { return "", errors.New("entropy") }))
	if _, err := svc.Approve(context.Background(), types.ApprovalRequest{ProjectID: "p1", ApprovedBy: "admin"}); err == nil {
		t.Fatal("expected id error")
	}
}
