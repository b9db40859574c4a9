// Package apperr defines the error taxonomy shared by every layer.
// Callers branch on Kind (or errors.Is against the sentinels) rather than on
// message text.
package apperr

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindTransport   Kind = "transport"
	KindProvider    Kind = "provider"
	KindParse       Kind = "parse"
	KindCircuitOpen Kind = "circuit_open"
	KindRateLimit   Kind = "rate_limit"
	KindPersistence Kind = "persistence"
	KindConflict    Kind = "conflict"
)

// Machine-readable codes surfaced to API callers and the job error ring.
const (
	CodeValidation        = "VALIDATION_FAILED"
	CodeNotFound          = "NOT_FOUND"
	CodeTransport         = "TRANSPORT_ERROR"
	CodeTimeout           = "OPERATION_TIMEOUT"
	CodeProvider          = "PROVIDER_ERROR"
	CodeParse             = "PARSE_ERROR"
	CodeCircuitOpen       = "CIRCUIT_BREAKER_OPEN"
	CodeRateLimit         = "RATE_LIMIT_EXCEEDED"
	CodePersistence       = "PERSISTENCE_ERROR"
	CodeConflict          = "CONFLICT"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeJobRunning        = "JOB_ALREADY_RUNNING"
)

// Error is the concrete error type for every kind.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Details carries per-field validation messages.
	Details []string
	// ResetAt is set on rate limit errors.
	ResetAt time.Time
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind, and by code when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrValidation  = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrNotFound    = &Error{Kind: KindNotFound, Message: "not found"}
	ErrTransport   = &Error{Kind: KindTransport, Message: "transport error"}
	ErrTimeout     = &Error{Kind: KindTransport, Code: CodeTimeout, Message: "operation timed out"}
	ErrProvider    = &Error{Kind: KindProvider, Message: "provider error"}
	ErrParse       = &Error{Kind: KindParse, Message: "parse error"}
	ErrCircuitOpen = &Error{Kind: KindCircuitOpen, Message: "circuit breaker open"}
	ErrRateLimit   = &Error{Kind: KindRateLimit, Message: "rate limit exceeded"}
	ErrPersistence = &Error{Kind: KindPersistence, Message: "persistence error"}
	ErrConflict    = &Error{Kind: KindConflict, Message: "conflict"}
)

func Validation(msg string, details ...string) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidation, Message: msg, Details: details}
}

func NotFound(what string, id any) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: fmt.Sprintf("%s %v not found", what, id)}
}

func Transport(op string, err error) *Error {
	return &Error{Kind: KindTransport, Code: CodeTransport, Message: op, Err: err}
}

func Timeout(op string, after time.Duration) *Error {
	return &Error{Kind: KindTransport, Code: CodeTimeout, Message: fmt.Sprintf("%s timed out after %s", op, after)}
}

func Provider(provider, msg string) *Error {
	return &Error{Kind: KindProvider, Code: CodeProvider, Message: fmt.Sprintf("%s: %s", provider, msg)}
}

func Parse(msg string, err error) *Error {
	return &Error{Kind: KindParse, Code: CodeParse, Message: msg, Err: err}
}

func CircuitOpen(name string, retryAt time.Time) *Error {
	return &Error{
		Kind:    KindCircuitOpen,
		Code:    CodeCircuitOpen,
		Message: fmt.Sprintf("circuit %q is open until %s", name, retryAt.UTC().Format(time.RFC3339)),
		ResetAt: retryAt,
	}
}

func RateLimited(key string, resetAt time.Time) *Error {
	return &Error{
		Kind:    KindRateLimit,
		Code:    CodeRateLimit,
		Message: fmt.Sprintf("rate limit exceeded for %s", key),
		ResetAt: resetAt,
	}
}

func Persistence(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Code: CodePersistence, Message: op, Err: err}
}

func Conflict(code, msg string) *Error {
	if code == "" {
		code = CodeConflict
	}
	return &Error{Kind: KindConflict, Code: code, Message: msg}
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns err's kind, or "" for errors outside the taxonomy.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// CodeOf returns err's code, falling back to "INTERNAL_ERROR".
func CodeOf(err error) string {
	if e, ok := As(err); ok && e.Code != "" {
		return e.Code
	}
	return "INTERNAL_ERROR"
}

// Retryable reports whether retrying the same call may succeed.
func Retryable(err error) bool {
	return KindOf(err) == KindTransport
}

// Public renders err for API responses and stored error lists. Causes and
// untyped errors are never included.
func Public(err error) string {
	e, ok := As(err)
	if !ok {
		return "unexpected error"
	}
	msg := e.Message
	switch {
	case e.Kind == KindPersistence:
		msg = "failed to save results"
	case len(e.Details) > 0:
		msg += ": " + strings.Join(e.Details, "; ")
	}
	if len(msg) > maxPublic {
		cut := maxPublic
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut] + "..."
	}
	return msg
}

const maxPublic = 300
