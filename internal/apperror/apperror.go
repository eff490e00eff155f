// Package apperror defines the error taxonomy surfaced by the broker core.
package apperror

import (
	"fmt"
	"strings"
)

// Code classifies an Error for callers that branch on error kind rather
// than matching message text.
type Code int

const (
	Unknown Code = iota
	NotFound
	Transport
	Timeout
	ACP
	IO
	Other
)

func (c Code) String() string {
	switch c {
	case NotFound:
		return "not-found"
	case Transport:
		return "transport"
	case Timeout:
		return "timeout"
	case ACP:
		return "acp"
	case IO:
		return "io"
	case Other:
		return "other"
	default:
		return "unknown"
	}
}

// Kind names the entity a NotFound error refers to.
type Kind string

const (
	KindAgent      Kind = "agent"
	KindConnection Kind = "connection"
	KindSession    Kind = "session"
	KindWorkspace  Kind = "workspace"
)

// Error is the single error type returned across package boundaries in the
// broker core. Wrap with fmt.Errorf("...: %w", err) or use errors.As to
// recover the Code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, &apperror.Error{Code: apperror.NotFound}) style
// checks by code.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

func newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFoundErr builds a not-found error for the given entity kind and id.
func NotFoundErr(kind Kind, id string) *Error {
	return newf(NotFound, "%s not found: %s", kind, id)
}

// TransportErr wraps a transport-layer failure (spawn, stdio, exit-with-pending, forced termination).
func TransportErr(format string, args ...any) *Error {
	return newf(Transport, format, args...)
}

// TimeoutErr builds a timeout error (request deadline, permission wait).
func TimeoutErr(format string, args ...any) *Error {
	return newf(Timeout, format, args...)
}

// ACPErr formats a JSON-RPC error object as surfaced to callers, per base
// spec §7: `"ACP error <code>: <message>"`.
func ACPErr(code int, message string) *Error {
	return &Error{Code: ACP, Message: fmt.Sprintf("ACP error %d: %s", code, message)}
}

// IsMethodNotFound reports whether an ACP error corresponds to JSON-RPC
// code -32601 ("method not found"), recognized for the authenticate/logout
// legacy-name fallback.
func IsMethodNotFound(code int, message string) bool {
	if code == -32601 {
		return true
	}
	if strings.Contains(message, "-32601") {
		return true
	}
	return strings.Contains(strings.ToLower(message), "method not found")
}

// IOErr wraps a filesystem/serialization failure, typically from the
// thread store or a settings loader.
func IOErr(cause error, format string, args ...any) *Error {
	return &Error{Code: IO, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// OtherErr wraps a string-described failure from an external collaborator
// (git, download, HTTP).
func OtherErr(format string, args ...any) *Error {
	return newf(Other, format, args...)
}

// Wrap annotates cause with a Code and message, preserving Unwrap().
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}
