package main

import (
	"errors"

	"github.com/jacksonlee411/arena-engine/modules/arena/domain/types"
)

const (
	exitFailure    = 1
	exitUsage      = 2
	exitValidation = 3
	exitDB         = 4
	exitConflict   = 5
)

type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &codedError{code: code, err: err}
}

func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if ce, ok := errors.AsType[*codedError](err); ok {
		return ce.code
	}
	switch {
	case types.IsInvalidInput(err), types.IsNotEligible(err), types.IsProjectNotFound(err):
		return exitValidation
	case types.IsConflict(err):
		return exitConflict
	default:
		return exitFailure
	}
}
