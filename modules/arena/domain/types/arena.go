package types

import "time"

type Kind string

const (
	KindMS       Kind = "ms"
	KindLegacyMS Kind = "legacy_ms"
	KindOther    Kind = "other"
	KindUnknown  Kind = "unknown"
)

// IsMSFamily reports whether rows of this kind compete for the single
// per-project ms slot. Unknown rows are unlabeled ms rows.
func (k Kind) IsMSFamily() bool {
	switch k {
	case KindMS, KindLegacyMS, KindUnknown:
		return true
	default:
		return false
	}
}

func (k Kind) Valid() bool {
	return k.IsMSFamily() || k == KindOther
}

type Status string

const (
	StatusDraft  Status = "draft"
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusEnded:
		return true
	default:
		return false
	}
}

type Arena struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"projectId"`
	Slug      string     `json:"slug"`
	Kind      Kind       `json:"kind"`
	Status    Status     `json:"status"`
	StartsAt  *time.Time `json:"startsAt"`
	EndsAt    *time.Time `json:"endsAt"`
	CreatedBy string     `json:"createdBy"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// LiveAt mirrors the downstream read predicate: ms-family labeled, active, and
// now inside [starts_at, ends_at] where a missing bound is open.
func (a Arena) LiveAt(now time.Time) bool {
	if a.Kind != KindMS && a.Kind != KindLegacyMS {
		return false
	}
	if a.Status != StatusActive {
		return false
	}
	if a.StartsAt != nil && now.Before(*a.StartsAt) {
		return false
	}
	if a.EndsAt != nil && now.After(*a.EndsAt) {
		return false
	}
	return true
}

// Candidate is the ms-family row found for a project, together with how many
// other ms-family rows exist for the same project.
type Candidate struct {
	Arena     Arena
	Competing int
}

type ArenaSpec struct {
	ID        string
	ProjectID string
	Slug      string
	Kind      Kind
	Status    Status
	StartsAt  *time.Time
	EndsAt    *time.Time
	CreatedBy string
}

// ArenaPatch carries only the columns to change; nil fields keep the stored value.
type ArenaPatch struct {
	Kind     *Kind
	Status   *Status
	StartsAt *time.Time
	EndsAt   *time.Time
}

func (p ArenaPatch) Empty() bool {
	return p.Kind == nil && p.Status == nil && p.StartsAt == nil && p.EndsAt == nil
}
