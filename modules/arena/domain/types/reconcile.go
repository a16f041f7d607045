package types

import "time"

type ApprovalRequest struct {
	ProjectID  string
	StartsAt   *time.Time
	EndsAt     *time.Time
	ApprovedBy string
}

type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
)

type ApprovalResult struct {
	Arena        Arena
	Outcome      Outcome
	ObservedKind Kind
}

type BackfillError struct {
	ProjectID string `json:"projectId"`
	Message   string `json:"message"`
}

// BackfillSummary is returned to the caller and never persisted.
type BackfillSummary struct {
	TotalEligible int             `json:"totalEligible"`
	ScannedCount  int             `json:"scannedCount"`
	CreatedCount  int             `json:"createdCount"`
	UpdatedCount  int             `json:"updatedCount"`
	SkippedCount  int             `json:"skippedCount"`
	Errors        []BackfillError `json:"errors"`
}

// LegacyRow is an unknown-kind arena considered by the bulk classification.
type LegacyRow struct {
	Arena     Arena
	Competing int
}

type ClassifySummary struct {
	Scanned     int      `json:"scanned"`
	Promoted    int      `json:"promoted"`
	Untouched   int      `json:"untouched"`
	PromotedIDs []string `json:"promotedIds"`
}
