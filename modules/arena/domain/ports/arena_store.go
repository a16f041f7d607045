package ports

import (
	"context"
	"errors"
	"time"

	"github.com/jacksonlee411/arena-engine/modules/arena/domain/types"
)

// ArenaStore is the sole writer-of-record for arena rows. Writes happen only
// through an ArenaTx.
type ArenaStore interface {
	Begin(ctx context.Context) (ArenaTx, error)
	// ListProjectStates returns every project with its ms-family arena state,
	// ordered by project id.
	ListProjectStates(ctx context.Context) ([]types.ProjectState, error)
	ListLiveArenas(ctx context.Context, now time.Time) ([]types.Arena, error)
}

type ArenaTx interface {
	// LockProject serializes writers of the same project until the
	// transaction ends. Writers of other projects are not blocked.
	LockProject(ctx context.Context, projectID string) error
	GetProject(ctx context.Context, projectID string) (types.Project, error)
	// FindCandidate selects the ms-family row (ms, legacy_ms or unknown) for
	// the project and locks it. Returns nil when none exists.
	FindCandidate(ctx context.Context, projectID string) (*types.Candidate, error)
	SlugsWithPrefix(ctx context.Context, base string) ([]string, error)
	// Create inserts a row. A unique violation leaves the transaction usable
	// and is reported as *UniqueViolationError.
	Create(ctx context.Context, spec types.ArenaSpec) (types.Arena, error)
	Update(ctx context.Context, id string, patch types.ArenaPatch) (types.Arena, error)

	ListLegacyRows(ctx context.Context) ([]types.LegacyRow, error)
	// SetKind relabels a row only if it still has kind from. Returns false
	// when the row was already relabeled.
	SetKind(ctx context.Context, id string, from types.Kind, to types.Kind) (bool, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

var ErrProjectNotFound = errors.New("project not found")

const (
	ConstraintOneMSFamilyPerProject = "arenas_one_ms_family_per_project"
	ConstraintSlugUnique            = "arenas_slug_key"
)

type UniqueViolationError struct {
	Constraint string
	Err        error
}

func (e *UniqueViolationError) Error() string {
	return "unique violation on " + e.Constraint + ": " + e.Err.Error()
}

func (e *UniqueViolationError) Unwrap() error { return e.Err }

func (e *UniqueViolationError) OnSlug() bool { return e.Constraint == ConstraintSlugUnique }
