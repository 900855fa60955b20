// Package common defines the error taxonomy shared by services and the HTTP
// edge. Callers should use errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the stable, caller-visible class of a domain error.
type Kind string

const (
	KindNotFound        Kind = "NOT_FOUND"
	KindUnauthorized    Kind = "UNAUTHORIZED"
	KindForbidden       Kind = "FORBIDDEN"
	KindConflict        Kind = "CONFLICT"
	KindTooManyRequests Kind = "TOO_MANY_REQUESTS"
	KindBadRequest      Kind = "BAD_REQUEST"
	KindInternal        Kind = "INTERNAL"
)

// Error is a domain error with a kind and a human-readable message.
//
// An Error with an empty Message acts as a kind-wide sentinel: errors.Is
// reports true for any Error of the same kind.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// Kind-wide sentinels.
var (
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrUnauthorized    = &Error{Kind: KindUnauthorized}
	ErrForbidden       = &Error{Kind: KindForbidden}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrTooManyRequests = &Error{Kind: KindTooManyRequests}
	ErrBadRequest      = &Error{Kind: KindBadRequest}
)

// Specific errors.
var (
	ErrSecretNotFound     = &Error{Kind: KindNotFound, Message: "secret not found"}
	ErrPasswordRequired   = &Error{Kind: KindUnauthorized, Message: "password required"}
	ErrInvalidPassword    = &Error{Kind: KindUnauthorized, Message: "invalid password"}
	ErrInvalidCredentials = &Error{Kind: KindUnauthorized, Message: "invalid email or password"}
	ErrAuthRequired       = &Error{Kind: KindUnauthorized, Message: "authentication required"}
	ErrNotOwner           = &Error{Kind: KindForbidden, Message: "you do not own this secret"}
	ErrSecretExpired      = &Error{Kind: KindBadRequest, Message: "secret has expired"}
	ErrEmailTaken         = &Error{Kind: KindConflict, Message: "email already registered"}
	ErrAccountNotFound    = &Error{Kind: KindNotFound, Message: "account not found"}
)

// Invalid returns a BAD_REQUEST error with the given message.
func Invalid(format string, args ...any) error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

// RateLimitError reports an admission-control rejection and when the
// caller's window resets.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return "too many requests, retry after " + e.ResetAt.UTC().Format(time.RFC3339)
}

func (e *RateLimitError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == KindTooManyRequests && t.Message == ""
}

// KindOf returns the kind of err, or KindInternal for anything unclassified.
func KindOf(err error) Kind {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return KindTooManyRequests
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}
