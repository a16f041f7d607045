package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jacksonlee411/arena-engine/modules/arena/domain/ports"
	"github.com/jacksonlee411/arena-engine/modules/arena/domain/types"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type ArenaPGStore struct {
	pool pgBeginner
}

func NewArenaPGStore(pool pgBeginner) ports.ArenaStore {
	return &ArenaPGStore{pool: pool}
}

var errArenaNotFound = errors.New("arena not found")

const arenaColumns = `
  a.id::text,
  COALESCE(a.project_id, ''),
  a.slug,
  a.kind,
  a.status,
  a.starts_at,
  a.ends_at,
  a.created_by,
  a.created_at,
  a.updated_at`

const msFamilyOrder = `CASE a.kind WHEN 'ms' THEN 0 WHEN 'legacy_ms' THEN 1 ELSE 2 END, a.created_at, a.id`

func scanArena(row pgx.Row, extra ...any) (types.Arena, error) {
	var a types.Arena
	var kind, status string
	dest := []any{&a.ID, &a.ProjectID, &a.Slug, &kind, &status, &a.StartsAt, &a.EndsAt, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return types.Arena{}, err
	}
	a.Kind = types.Kind(kind)
	a.Status = types.Status(status)
	return a, nil
}

// uniqueViolation maps SQLSTATE 23505 onto the port error so callers can
// branch on the constraint name.
func uniqueViolation(err error) error {
	if pgErr, ok := errors.AsType[*pgconn.PgError](err); ok && pgErr != nil && pgErr.Code == "23505" {
		return &ports.UniqueViolationError{Constraint: pgErr.ConstraintName, Err: err}
	}
	return err
}

func (s *ArenaPGStore) Begin(ctx context.Context) (ports.ArenaTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &arenaPGTx{tx: tx}, nil
}

func (s *ArenaPGStore) ListProjectStates(ctx context.Context) ([]types.ProjectState, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	rows, err := tx.Query(ctx, `
SELECT
  p.id,
  p.slug,
  p.arc_active,
  COALESCE(p.arc_access_level, ''),
  COALESCE(pa.application_status, ''),
  COALESCE(pf.option2_normal_unlocked, false),
  COALESCE(pf.leaderboard_enabled, false),
  c.kind,
  c.status
FROM arc.projects p
LEFT JOIN arc.project_access pa ON pa.project_id = p.id
LEFT JOIN arc.project_features pf ON pf.project_id = p.id
LEFT JOIN LATERAL (
  SELECT a.kind, a.status
  FROM arena.arenas a
  WHERE a.project_id = p.id
    AND a.kind IN ('ms', 'legacy_ms', 'unknown')
  ORDER BY `+msFamilyOrder+`
  LIMIT 1
) c ON true
ORDER BY p.id
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ProjectState
	for rows.Next() {
		var st types.ProjectState
		var kind, status *string
		p := &st.Project
		if err := rows.Scan(&p.ID, &p.Slug, &p.ArcActive, &p.ArcAccessLevel, &p.ApplicationStatus, &p.Option2NormalUnlocked, &p.LeaderboardEnabled, &kind, &status); err != nil {
			return nil, err
		}
		if kind != nil && status != nil {
			st.Arena = &types.ArenaState{Kind: types.Kind(*kind), Status: types.Status(*status)}
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// ListLiveArenas is the downstream read predicate. It must stay in step with
// types.Arena.LiveAt.
func (s *ArenaPGStore) ListLiveArenas(ctx context.Context, now time.Time) ([]types.Arena, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	rows, err := tx.Query(ctx, `
SELECT`+arenaColumns+`
FROM arena.arenas a
WHERE a.kind IN ('ms', 'legacy_ms')
  AND a.status = 'active'
  AND (a.starts_at IS NULL OR a.starts_at <= $1)
  AND (a.ends_at IS NULL OR a.ends_at >= $1)
ORDER BY a.created_at, a.id
`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Arena
	for rows.Next() {
		a, err := scanArena(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

type arenaPGTx struct {
	tx pgx.Tx
}

func (t *arenaPGTx) LockProject(ctx context.Context, projectID string) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0));`, "arena:project:"+projectID)
	return err
}

func (t *arenaPGTx) GetProject(ctx context.Context, projectID string) (types.Project, error) {
	var p types.Project
	err := t.tx.QueryRow(ctx, `
SELECT
  p.id,
  p.slug,
  p.arc_active,
  COALESCE(p.arc_access_level, ''),
  COALESCE(pa.application_status, ''),
  COALESCE(pf.option2_normal_unlocked, false),
  COALESCE(pf.leaderboard_enabled, false)
FROM arc.projects p
LEFT JOIN arc.project_access pa ON pa.project_id = p.id
LEFT JOIN arc.project_features pf ON pf.project_id = p.id
WHERE p.id = $1
`, projectID).Scan(&p.ID, &p.Slug, &p.ArcActive, &p.ArcAccessLevel, &p.ApplicationStatus, &p.Option2NormalUnlocked, &p.LeaderboardEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Project{}, ports.ErrProjectNotFound
	}
	if err != nil {
		return types.Project{}, err
	}
	return p, nil
}

func (t *arenaPGTx) FindCandidate(ctx context.Context, projectID string) (*types.Candidate, error) {
	var competing int
	a, err := scanArena(t.tx.QueryRow(ctx, `
SELECT`+arenaColumns+`,
  (
    SELECT count(*)::int
    FROM arena.arenas c
    WHERE c.project_id = a.project_id
      AND c.kind IN ('ms', 'legacy_ms', 'unknown')
      AND c.id <> a.id
  )
FROM arena.arenas a
WHERE a.project_id = $1
  AND a.kind IN ('ms', 'legacy_ms', 'unknown')
ORDER BY `+msFamilyOrder+`
LIMIT 1
FOR UPDATE OF a
`, projectID), &competing)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &types.Candidate{Arena: a, Competing: competing}, nil
}

func (t *arenaPGTx) SlugsWithPrefix(ctx context.Context, base string) ([]string, error) {
	rows, err := t.tx.Query(ctx, `
SELECT slug
FROM arena.arenas
WHERE slug = $1 OR slug LIKE $1 || '-%'
ORDER BY slug
`, base)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, err
		}
		out = append(out, slug)
	}
	return out, rows.Err()
}

// Create inserts under a savepoint so a unique violation does not abort the
// enclosing transaction.
func (t *arenaPGTx) Create(ctx context.Context, spec types.ArenaSpec) (types.Arena, error) {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return types.Arena{}, err
	}
	defer func() { _ = sp.Rollback(context.Background()) }()

	var projectID any
	if spec.ProjectID != "" {
		projectID = spec.ProjectID
	}
	a, err := scanArena(sp.QueryRow(ctx, `
INSERT INTO arena.arenas AS a (
  id,
  project_id,
  slug,
  kind,
  status,
  starts_at,
  ends_at,
  created_by,
  created_at,
  updated_at
)
VALUES ($1::uuid, $2::text, $3::text, $4::text, $5::text, $6, $7, $8::text, now(), now())
RETURNING`+arenaColumns+`
`, spec.ID, projectID, spec.Slug, string(spec.Kind), string(spec.Status), spec.StartsAt, spec.EndsAt, spec.CreatedBy))
	if err != nil {
		return types.Arena{}, uniqueViolation(err)
	}
	if err := sp.Commit(ctx); err != nil {
		return types.Arena{}, uniqueViolation(err)
	}
	return a, nil
}

func (t *arenaPGTx) Update(ctx context.Context, id string, patch types.ArenaPatch) (types.Arena, error) {
	var kind, status *string
	if patch.Kind != nil {
		v := string(*patch.Kind)
		kind = &v
	}
	if patch.Status != nil {
		v := string(*patch.Status)
		status = &v
	}
	a, err := scanArena(t.tx.QueryRow(ctx, `
UPDATE arena.arenas AS a
SET
  kind = COALESCE($2::text, a.kind),
  status = COALESCE($3::text, a.status),
  starts_at = COALESCE($4::timestamptz, a.starts_at),
  ends_at = COALESCE($5::timestamptz, a.ends_at),
  updated_at = now()
WHERE a.id = $1::uuid
RETURNING`+arenaColumns+`
`, id, kind, status, patch.StartsAt, patch.EndsAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Arena{}, fmt.Errorf("%w: %s", errArenaNotFound, id)
	}
	if err != nil {
		return types.Arena{}, uniqueViolation(err)
	}
	return a, nil
}

func (t *arenaPGTx) ListLegacyRows(ctx context.Context) ([]types.LegacyRow, error) {
	rows, err := t.tx.Query(ctx, `
SELECT`+arenaColumns+`,
  CASE
    WHEN a.project_id IS NULL OR btrim(a.project_id) = '' THEN 0
    ELSE (
      SELECT count(*)::int
      FROM arena.arenas c
      WHERE c.project_id = a.project_id
        AND c.kind IN ('ms', 'legacy_ms', 'unknown')
        AND c.id <> a.id
    )
  END
FROM arena.arenas a
WHERE a.kind = 'unknown'
ORDER BY a.created_at, a.id
FOR UPDATE OF a
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.LegacyRow
	for rows.Next() {
		var competing int
		a, err := scanArena(rows, &competing)
		if err != nil {
			return nil, err
		}
		out = append(out, types.LegacyRow{Arena: a, Competing: competing})
	}
	return out, rows.Err()
}

func (t *arenaPGTx) SetKind(ctx context.Context, id string, from types.Kind, to types.Kind) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
UPDATE arena.arenas
SET kind = $3::text, updated_at = now()
WHERE id = $1::uuid AND kind = $2::text
`, id, string(from), string(to))
	if err != nil {
		return false, uniqueViolation(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *arenaPGTx) Commit(ctx context.Context) error {
	return uniqueViolation(t.tx.Commit(ctx))
}

func (t *arenaPGTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}
