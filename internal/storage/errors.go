package storage

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error for the request/response boundary.
type Kind string

// Error kinds surfaced to callers.
const (
	KindValidation  Kind = "ValidationError"
	KindNotFound    Kind = "NotFound"
	KindBlocked     Kind = "Blocked"
	KindCycle       Kind = "CycleError"
	KindConflict    Kind = "Conflict"
	KindUnavailable Kind = "UpstreamUnavailable"
)

// Error is the structured failure shape every engine operation returns.
// Blocked errors additionally carry the unresolved blocker ids.
type Error struct {
	Kind        Kind     `json:"kind"`
	Message     string   `json:"message"`
	BlockingIDs []string `json:"blocking_ticket_ids,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a NotFound error.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// BlockedErr builds a Blocked error carrying the unresolved blocker ids.
// Blocked is a contractual outcome, not a hard failure: callers may wait or
// escalate, and it is never retried internally.
func BlockedErr(ticketID string, blocking []string) *Error {
	return &Error{
		Kind:        KindBlocked,
		Message:     fmt.Sprintf("ticket %s has %d unresolved blocker(s)", ticketID, len(blocking)),
		BlockingIDs: blocking,
	}
}

// Cyclef builds a CycleError.
func Cyclef(format string, args ...any) *Error {
	return &Error{Kind: KindCycle, Message: fmt.Sprintf(format, args...)}
}

// Conflictf builds a Conflict error (concurrent modification, safe to retry).
func Conflictf(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Unavailablef builds an UpstreamUnavailable error.
func Unavailablef(format string, args ...any) *Error {
	return &Error{Kind: KindUnavailable, Message: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// AsError extracts the structured error from err, wrapping unknown errors as
// a Conflict-free internal failure so the RPC boundary never leaks opaque
// error text without a kind.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindUnavailable, Message: err.Error()}
}
