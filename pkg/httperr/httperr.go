package httperr

import "errors"

// BadRequestError marks input the caller can fix. Field names the offending
// request field when known.
type BadRequestError struct {
	field string
	msg   string
}

func (e *BadRequestError) Error() string {
	if e.field == "" {
		return e.msg
	}
	return e.field + ": " + e.msg
}

func NewBadRequest(msg string) error { return &BadRequestError{msg: msg} }

func NewInvalidField(field string, msg string) error {
	return &BadRequestError{field: field, msg: msg}
}

func IsBadRequest(err error) bool {
	_, ok := errors.AsType[*BadRequestError](err)
	return ok
}

func FieldOf(err error) string {
	if e, ok := errors.AsType[*BadRequestError](err); ok {
		return e.field
	}
	return ""
}
