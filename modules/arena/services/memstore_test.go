package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jacksonlee411/arena-engine/modules/arena/domain/ports"
	"github.com/jacksonlee411/arena-engine/modules/arena/domain/types"
)

var memEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// memStore is an ArenaStore double: per-project locks, buffered writes that
// only land on Commit, and the same unique rules the schema enforces.
type memStore struct {
	mu       sync.Mutex
	projects map[string]types.Project
	arenas   map[string]types.Arena
	locks    map[string]*sync.Mutex
	seq      int
	commits  int

	noLock      bool
	onSlugs     func(projectID string)
	onCreate    func(spec types.ArenaSpec) error
	onCommit    func() error
	onList      func()
	listErr     error
	beginErr    error
	findErrOnce map[string]error
}

func newMemStore(projects ...types.Project) *memStore {
	s := &memStore{
		projects: map[string]types.Project{},
		arenas:   map[string]types.Arena{},
		locks:    map[string]*sync.Mutex{},
	}
	for _, p := range projects {
		s.projects[p.ID] = p
	}
	return s
}

func (s *memStore) tick() time.Time {
	s.seq++
	return memEpoch.Add(time.Duration(s.seq) * time.Second)
}

// seed writes a committed row directly, bypassing the unique rules.
func (s *memStore) seed(a types.Arena) types.Arena {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.tick()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	s.arenas[a.ID] = a
	return a
}

func (s *memStore) rows() []types.Arena {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Arena, 0, len(s.arenas))
	for _, a := range s.arenas {
		out = append(out, a)
	}
	sortArenas(out)
	return out
}

func (s *memStore) msFamily(projectID string) []types.Arena {
	var out []types.Arena
	for _, a := range s.rows() {
		if a.ProjectID == projectID && a.Kind.IsMSFamily() {
			out = append(out, a)
		}
	}
	return out
}

func (s *memStore) commitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *memStore) Begin(context.Context) (ports.ArenaTx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return &memTx{s: s, pending: map[string]types.Arena{}}, nil
}

func (s *memStore) ListProjectStates(context.Context) ([]types.ProjectState, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	ids := make([]string, 0, len(s.projects))
	for id := range s.projects {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)

	rows := s.rows()
	out := make([]types.ProjectState, 0, len(ids))
	for _, id := range ids {
		s.mu.Lock()
		st := types.ProjectState{Project: s.projects[id]}
		s.mu.Unlock()
		if c := pickCandidate(rows, id); c != nil {
			st.Arena = &types.ArenaState{Kind: c.Arena.Kind, Status: c.Arena.Status}
		}
		out = append(out, st)
	}
	if s.onList != nil {
		s.onList()
	}
	return out, nil
}

func (s *memStore) ListLiveArenas(_ context.Context, now time.Time) ([]types.Arena, error) {
	var out []types.Arena
	for _, a := range s.rows() {
		if a.LiveAt(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

func sortArenas(rows []types.Arena) {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return rows[i].ID < rows[j].ID
	})
}

func kindRank(k types.Kind) int {
	switch k {
	case types.KindMS:
		return 0
	case types.KindLegacyMS:
		return 1
	default:
		return 2
	}
}

func pickCandidate(rows []types.Arena, projectID string) *types.Candidate {
	var family []types.Arena
	for _, a := range rows {
		if a.ProjectID == projectID && a.Kind.IsMSFamily() {
			family = append(family, a)
		}
	}
	if len(family) == 0 {
		return nil
	}
	sort.SliceStable(family, func(i, j int) bool {
		return kindRank(family[i].Kind) < kindRank(family[j].Kind)
	})
	return &types.Candidate{Arena: family[0], Competing: len(family) - 1}
}

type memTx struct {
	s       *memStore
	pending map[string]types.Arena
	locked  []*sync.Mutex
	done    bool
}

func (t *memTx) view() []types.Arena {
	t.s.mu.Lock()
	merged := make(map[string]types.Arena, len(t.s.arenas)+len(t.pending))
	for id, a := range t.s.arenas {
		merged[id] = a
	}
	t.s.mu.Unlock()
	for id, a := range t.pending {
		merged[id] = a
	}
	out := make([]types.Arena, 0, len(merged))
	for _, a := range merged {
		out = append(out, a)
	}
	sortArenas(out)
	return out
}

func (t *memTx) LockProject(_ context.Context, projectID string) error {
	if t.s.noLock {
		return nil
	}
	t.s.mu.Lock()
	m, ok := t.s.locks[projectID]
	if !ok {
		m = &sync.Mutex{}
		t.s.locks[projectID] = m
	}
	t.s.mu.Unlock()
	m.Lock()
	t.locked = append(t.locked, m)
	return nil
}

func (t *memTx) GetProject(_ context.Context, projectID string) (types.Project, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.projects[projectID]
	if !ok {
		return types.Project{}, ports.ErrProjectNotFound
	}
	return p, nil
}

func (t *memTx) FindCandidate(_ context.Context, projectID string) (*types.Candidate, error) {
	t.s.mu.Lock()
	err := t.s.findErrOnce[projectID]
	delete(t.s.findErrOnce, projectID)
	t.s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return pickCandidate(t.view(), projectID), nil
}

func (t *memTx) SlugsWithPrefix(_ context.Context, base string) ([]string, error) {
	if t.s.onSlugs != nil {
		t.s.onSlugs(base)
	}
	var out []string
	for _, a := range t.view() {
		if a.Slug == base || len(a.Slug) > len(base) && a.Slug[:len(base)+1] == base+"-" {
			out = append(out, a.Slug)
		}
	}
	return out, nil
}

// checkUnique rejects a write that introduces a clash. A row that was already
// ms-family for the same project before the write keeps its index entry, so
// rows seeded in breach of the one-per-project rule do not fail later updates.
func checkUnique(rows []types.Arena, a types.Arena, before *types.Arena) error {
	familyKept := before != nil && before.ProjectID == a.ProjectID && before.Kind.IsMSFamily()
	for _, r := range rows {
		if r.ID == a.ID {
			continue
		}
		if r.Slug == a.Slug {
			return &ports.UniqueViolationError{Constraint: ports.ConstraintSlugUnique, Err: errors.New("duplicate slug")}
		}
		if !familyKept && a.ProjectID != "" && r.ProjectID == a.ProjectID && r.Kind.IsMSFamily() && a.Kind.IsMSFamily() {
			return &ports.UniqueViolationError{Constraint: ports.ConstraintOneMSFamilyPerProject, Err: errors.New("duplicate ms-family row")}
		}
	}
	return nil
}

func (t *memTx) Create(_ context.Context, spec types.ArenaSpec) (types.Arena, error) {
	if t.s.onCreate != nil {
		if err := t.s.onCreate(spec); err != nil {
			return types.Arena{}, err
		}
	}
	t.s.mu.Lock()
	now := t.s.tick()
	t.s.mu.Unlock()
	a := types.Arena{
		ID:        spec.ID,
		ProjectID: spec.ProjectID,
		Slug:      spec.Slug,
		Kind:      spec.Kind,
		Status:    spec.Status,
		StartsAt:  spec.StartsAt,
		EndsAt:    spec.EndsAt,
		CreatedBy: spec.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := checkUnique(t.view(), a, nil); err != nil {
		return types.Arena{}, err
	}
	t.pending[a.ID] = a
	return a, nil
}

func (t *memTx) Update(_ context.Context, id string, patch types.ArenaPatch) (types.Arena, error) {
	for _, a := range t.view() {
		if a.ID != id {
			continue
		}
		if patch.Kind != nil {
			a.Kind = *patch.Kind
		}
		if patch.Status != nil {
			a.Status = *patch.Status
		}
		if patch.StartsAt != nil {
			a.StartsAt = patch.StartsAt
		}
		if patch.EndsAt != nil {
			a.EndsAt = patch.EndsAt
		}
		t.s.mu.Lock()
		a.UpdatedAt = t.s.tick()
		t.s.mu.Unlock()
		t.pending[id] = a
		return a, nil
	}
	return types.Arena{}, errors.New("arena not found")
}

func (t *memTx) ListLegacyRows(context.Context) ([]types.LegacyRow, error) {
	rows := t.view()
	var out []types.LegacyRow
	for _, a := range rows {
		if a.Kind != types.KindUnknown {
			continue
		}
		competing := 0
		if a.ProjectID != "" {
			for _, r := range rows {
				if r.ID != a.ID && r.ProjectID == a.ProjectID && r.Kind.IsMSFamily() {
					competing++
				}
			}
		}
		out = append(out, types.LegacyRow{Arena: a, Competing: competing})
	}
	return out, nil
}

func (t *memTx) SetKind(_ context.Context, id string, from types.Kind, to types.Kind) (bool, error) {
	for _, a := range t.view() {
		if a.ID == id {
			if a.Kind != from {
				return false, nil
			}
			a.Kind = to
			t.pending[id] = a
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) Commit(context.Context) error {
	defer t.release()
	if t.s.onCommit != nil {
		if err := t.s.onCommit(); err != nil {
			return err
		}
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	committed := make([]types.Arena, 0, len(t.s.arenas))
	for _, a := range t.s.arenas {
		committed = append(committed, a)
	}
	for id, a := range t.pending {
		var before *types.Arena
		if prev, ok := t.s.arenas[id]; ok {
			before = &prev
		}
		if err := checkUnique(committed, a, before); err != nil {
			return err
		}
	}
	for id, a := range t.pending {
		t.s.arenas[id] = a
	}
	t.s.commits++
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	t.release()
	return nil
}

func (t *memTx) release() {
	if t.done {
		return
	}
	t.done = true
	t.pending = map[string]types.Arena{}
	for i := len(t.locked) - 1; i >= 0; i-- {
		t.locked[i].Unlock()
	}
	t.locked = nil
}
