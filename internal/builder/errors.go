package builder

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure surfaced by a terminal action.
type ErrorKind int

const (
	// ToolNotFound: no usable compiler, archiver or toolchain was located.
	ToolNotFound ErrorKind = iota
	// ToolInvocationFailed: the process ran and exited non-zero.
	ToolInvocationFailed
	// IOFailure: a process could not be spawned or filesystem I/O failed.
	IOFailure
	// UnsupportedTargetHost: the target/host pair maps to no toolchain family.
	UnsupportedTargetHost
	// ProbeCompileFailed: a flag probe could not run at all. A probe that
	// runs and exits non-zero is a rejection, not an error.
	ProbeCompileFailed
)

func (k ErrorKind) String() string {
	switch k {
	case ToolNotFound:
		return "tool not found"
	case ToolInvocationFailed:
		return "tool invocation failed"
	case IOFailure:
		return "I/O failure"
	case UnsupportedTargetHost:
		return "unsupported target/host"
	case ProbeCompileFailed:
		return "probe compile failed"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Sentinels for errors.Is matching on the kind alone.
var (
	ErrToolNotFound          = &Error{Kind: ToolNotFound}
	ErrToolInvocationFailed  = &Error{Kind: ToolInvocationFailed}
	ErrIOFailure             = &Error{Kind: IOFailure}
	ErrUnsupportedTargetHost = &Error{Kind: UnsupportedTargetHost}
	ErrProbeCompileFailed    = &Error{Kind: ProbeCompileFailed}
)

// Error is the single error type returned by terminal actions.
type Error struct {
	Kind    ErrorKind
	Message string

	// ExitCode and Output are set for ToolInvocationFailed.
	ExitCode int
	Output   []byte

	Err error
}

func newError(kind ErrorKind, cause error, format string, a ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, a...), Err: cause}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind. This lets callers
// write errors.Is(err, builder.ErrToolNotFound).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
