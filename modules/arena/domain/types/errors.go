package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jacksonlee411/arena-engine/pkg/httperr"
)

type ErrorCode string

const (
	CodeNotEligible            ErrorCode = "ARENA_NOT_ELIGIBLE"
	CodeInvalidInput           ErrorCode = "ARENA_INVALID_INPUT"
	CodeProjectNotFound        ErrorCode = "ARENA_PROJECT_NOT_FOUND"
	CodeReconciliationConflict ErrorCode = "ARENA_RECONCILIATION_CONFLICT"
)

// ReconcileError is returned by every write path. ProjectID, Op and Observed
// are enough to reproduce the decision without reading logs.
type ReconcileError struct {
	Code      ErrorCode
	ProjectID string
	Op        string
	Observed  string
	Message   string
	Err       error
}

func (e *ReconcileError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.ProjectID != "" {
		fmt.Fprintf(&b, " (project_id=%s", e.ProjectID)
		if e.Op != "" {
			fmt.Fprintf(&b, " op=%s", e.Op)
		}
		if e.Observed != "" {
			fmt.Fprintf(&b, " observed=%s", e.Observed)
		}
		b.WriteByte(')')
	}
	if e.Err != nil && !httperr.IsBadRequest(e.Err) {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ReconcileError) Unwrap() error { return e.Err }

func NewNotEligible(projectID string, observed string) error {
	return &ReconcileError{
		Code:      CodeNotEligible,
		ProjectID: projectID,
		Op:        "eligibility",
		Observed:  observed,
		Message:   "project is not eligible for a leaderboard arena",
	}
}

func NewProjectNotFound(projectID string) error {
	return &ReconcileError{
		Code:      CodeProjectNotFound,
		ProjectID: projectID,
		Op:        "load_project",
		Message:   "project not found",
	}
}

// NewInvalidInput wraps httperr.BadRequestError so callers that only know the
// generic bad-request contract still classify it correctly.
func NewInvalidInput(projectID string, field string, msg string) error {
	return &ReconcileError{
		Code:      CodeInvalidInput,
		ProjectID: projectID,
		Op:        "validate",
		Message:   msg,
		Err:       httperr.NewInvalidField(field, msg),
	}
}

func NewConflict(projectID string, op string, observed string, cause error) error {
	return &ReconcileError{
		Code:      CodeReconciliationConflict,
		ProjectID: projectID,
		Op:        op,
		Observed:  observed,
		Message:   "ms arena uniqueness could not be reconciled",
		Err:       cause,
	}
}

func ErrorCodeOf(err error) ErrorCode {
	if e, ok := errors.AsType[*ReconcileError](err); ok {
		return e.Code
	}
	return ""
}

func IsNotEligible(err error) bool { return ErrorCodeOf(err) == CodeNotEligible }

func IsInvalidInput(err error) bool {
	return ErrorCodeOf(err) == CodeInvalidInput || httperr.IsBadRequest(err)
}

func IsProjectNotFound(err error) bool { return ErrorCodeOf(err) == CodeProjectNotFound }

func IsConflict(err error) bool { return ErrorCodeOf(err) == CodeReconciliationConflict }

// MessageOf returns the caller-facing message for err.
func MessageOf(err error) string {
	if e, ok := errors.AsType[*ReconcileError](err); ok {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
