// Package fault carries the scheduling engine's error taxonomy. Every
// business failure is an explicit kind the boundary layer can map to a
// status code; nothing in the engine panics or unwinds for control flow.
package fault

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindValidation
	KindLeadTime
	KindBadRequest
)

type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) Kind() Kind { return e.kind }

func NotFound(format string, args ...any) error {
	return &Error{kind: KindNotFound, msg: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) error {
	return &Error{kind: KindConflict, msg: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error {
	return &Error{kind: KindValidation, msg: fmt.Sprintf(format, args...)}
}

func LeadTime(format string, args ...any) error {
	return &Error{kind: KindLeadTime, msg: fmt.Sprintf(format, args...)}
}

func BadRequest(format string, args ...any) error {
	return &Error{kind: KindBadRequest, msg: fmt.Sprintf(format, args...)}
}

// Internal wraps an infrastructure failure (storage, broker) so callers can
// still distinguish it from business errors.
func Internal(err error, msg string) error {
	return &Error{kind: KindInternal, msg: msg, err: err}
}

// KindOf returns the kind of err, or KindInternal for plain errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
