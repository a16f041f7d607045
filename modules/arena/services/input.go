package services

import (
	"regexp"
	"strings"
	"time"

	"github.com/jacksonlee411/arena-engine/modules/arena/domain/types"
)

var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,127}$`)

const dateOnly = "2006-01-02"

// lastInstantOfDay is the final microsecond of a UTC day, the finest
// resolution timestamptz keeps.
const lastInstantOfDay = 24*time.Hour - time.Microsecond

// ParseArenaDate accepts YYYY-MM-DD (UTC midnight) or RFC 3339. Empty input
// means "not supplied".
func ParseArenaDate(field string, raw string) (*time.Time, error) {
	return parseArenaDate(field, raw, 0)
}

// ParseArenaEndDate is ParseArenaDate for an inclusive end bound: a bare
// date covers the whole day.
func ParseArenaEndDate(field string, raw string) (*time.Time, error) {
	return parseArenaDate(field, raw, lastInstantOfDay)
}

func parseArenaDate(field string, raw string, dayOffset time.Duration) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(dateOnly, raw); err == nil {
		t = t.Add(dayOffset)
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, types.NewInvalidInput("", field, "invalid "+field)
	}
	t = t.UTC()
	return &t, nil
}

func normalizeApproval(req types.ApprovalRequest) (types.ApprovalRequest, error) {
	req.ProjectID = strings.TrimSpace(req.ProjectID)
	if req.ProjectID == "" {
		return req, types.NewInvalidInput("", "projectId", "projectId is required")
	}
	if !projectIDPattern.MatchString(req.ProjectID) {
		return req, types.NewInvalidInput(req.ProjectID, "projectId", "invalid projectId")
	}
	req.ApprovedBy = strings.TrimSpace(req.ApprovedBy)
	if req.ApprovedBy == "" {
		return req, types.NewInvalidInput(req.ProjectID, "approvedBy", "approver is required")
	}
	if req.StartsAt != nil {
		t := req.StartsAt.UTC()
		req.StartsAt = &t
	}
	if req.EndsAt != nil {
		t := req.EndsAt.UTC()
		req.EndsAt = &t
	}
	if req.StartsAt != nil && req.EndsAt != nil && req.EndsAt.Before(*req.StartsAt) {
		return req, types.NewInvalidInput(req.ProjectID, "endsAt", "endsAt before startsAt")
	}
	return req, nil
}
