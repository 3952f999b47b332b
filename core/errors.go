package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by storage backends for missing records.
var ErrNotFound = errors.New("not found")

// Kind classifies every failure a request can report.
type Kind string

const (
	KindValidation  Kind = "validation_error"
	KindUnavailable Kind = "service_unavailable"
	KindRejected    Kind = "dispatch_rejected"
	KindTransport   Kind = "transport_failure"
	KindLogical     Kind = "logical_failure"
	KindTimeout     Kind = "poll_timeout"
)

// Error makes Kind usable as an errors.Is target.
func (k Kind) Error() string { return string(k) }

// Error is the single failure type surfaced by every operation.
type Error struct {
	Kind Kind
	// Op is the operation name, e.g. "FindLeaderboard".
	Op string
	// Step names the failing step of a composite operation.
	Step string
	// Completed lists the composite steps that finished before Step failed.
	Completed []string
	Reason    string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Step != "" {
		b.WriteString("/")
		b.WriteString(e.Step)
	}
	if b.Len() > 0 {
		b.WriteString(": ")
	}
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func newError(kind Kind, op, reason string) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason}
}

func Validation(op, reason string) *Error  { return newError(KindValidation, op, reason) }
func Unavailable(op, reason string) *Error { return newError(KindUnavailable, op, reason) }
func Rejected(op, reason string) *Error    { return newError(KindRejected, op, reason) }
func Transport(op, reason string) *Error   { return newError(KindTransport, op, reason) }
func Logical(op, reason string) *Error     { return newError(KindLogical, op, reason) }
func Timeout(op, reason string) *Error     { return newError(KindTimeout, op, reason) }

// Validationf wraps a validation cause.
func Validationf(op string, err error) *Error {
	return &Error{Kind: KindValidation, Op: op, Reason: "invalid input", Err: err}
}

// Logicalf builds a logical failure with a formatted reason.
func Logicalf(op, format string, args ...any) *Error {
	return newError(KindLogical, op, fmt.Sprintf(format, args...))
}

// KindOf returns the failure kind of err, or "" when err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// AsError coerces err into a *Error bound to op. Unknown errors become transport failures.
func AsError(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Op == "" {
			cp := *e
			cp.Op = op
			return &cp
		}
		return e
	}
	return &Error{Kind: KindTransport, Op: op, Reason: "unexpected failure", Err: err}
}
