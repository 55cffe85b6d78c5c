// ABOUTME: Error taxonomy shared by the catalog, streaming engine and controller
// ABOUTME: Errors carry a Kind so the gateway can map them to structured responses
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and for the wire.
type Kind string

const (
	NotFound                Kind = "not_found"
	UpstreamUnavailable     Kind = "upstream_unavailable"
	UpstreamReadFailure     Kind = "upstream_read_failure"
	RangeNotSatisfiable     Kind = "range_not_satisfiable"
	UnsupportedFormat       Kind = "unsupported_format"
	StateConflict           Kind = "state_conflict"
	InternalPipelineFailure Kind = "internal_pipeline_failure"
	InvalidArgument         Kind = "invalid_argument"

	// Unknown is reported for errors that carry no Kind.
	Unknown Kind = "unknown"
)

// Transient reports whether the caller may reasonably retry.
func (k Kind) Transient() bool {
	return k == UpstreamUnavailable || k == UpstreamReadFailure
}

// Error is a classified error.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "catalog.Song"
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a classified error with a formatted message.
func E(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Message returns the human-readable part of err without the Kind prefix.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Msg != "" {
			return e.Msg
		}
		if e.Err != nil {
			return e.Err.Error()
		}
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
