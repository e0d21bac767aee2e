// Package ghosterr defines the typed error taxonomy shared by the personality host,
// the wire codec and the IPC listeners. Callers use errors.Is against the sentinels
// (or KindOf) to tell "needs restart" apart from "bad input, drop this message".
package ghosterr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	// ProcessNotStarted means the personality subprocess could not be resolved or spawned.
	ProcessNotStarted Kind = "process_not_started"
	// ProcessTerminated means a request was attempted against a handle that is not running.
	ProcessTerminated Kind = "process_terminated"
	// CommunicationError means a timeout or pipe failure happened mid-request.
	CommunicationError Kind = "communication_error"
	// ParseError means inbound wire data could not be parsed.
	ParseError Kind = "parse_error"
	// ProtocolViolation means inbound wire data parsed but broke a protocol rule.
	ProtocolViolation Kind = "protocol_violation"
	// MissingResource means a required file or directory is absent.
	MissingResource Kind = "missing_resource"
)

// Sentinels for errors.Is. Any *Error with the same Kind matches.
var (
	ErrProcessNotStarted = &Error{Kind: ProcessNotStarted}
	ErrProcessTerminated = &Error{Kind: ProcessTerminated}
	ErrCommunication     = &Error{Kind: CommunicationError}
	ErrParse             = &Error{Kind: ParseError}
	ErrProtocolViolation = &Error{Kind: ProtocolViolation}
	ErrMissingResource   = &Error{Kind: MissingResource}
)

// Error is a classified error with the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New creates an error of the given kind with a plain message.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Newf is New with formatting.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err. It returns nil when err is nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// NeedsRestart reports whether err leaves the personality subprocess presumed dead.
func NeedsRestart(err error) bool {
	switch KindOf(err) {
	case CommunicationError, ProcessTerminated:
		return true
	}
	return false
}
