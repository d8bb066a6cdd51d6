// Package common defines shared constants and sentinel errors used across
// client and server layers of coachkeeper. Callers should use errors.Is to
// match these values.
package common

import (
	"context"
	"errors"
)

var (
	// ErrNotFound reports a missing record in any backend.
	ErrNotFound = errors.New("not found")

	// ErrValidation reports an entity that violates its invariants. Never queued.
	ErrValidation = errors.New("validation error")

	// ErrCodec reports a record that cannot be encoded or decoded.
	ErrCodec = errors.New("codec error")

	// ErrUnavailable reports a backend that cannot be reached or opened.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrNetwork reports a transport failure or timeout talking to the remote store.
	ErrNetwork = errors.New("network error")

	// ErrAuth reports a missing or rejected owner identity. Never retried blindly.
	ErrAuth = errors.New("unauthorized")

	// ErrConflict reports a concurrent modification detected by the remote store.
	ErrConflict = errors.New("version conflict")

	// ErrCapacity reports an exceeded storage quota.
	ErrCapacity = errors.New("storage capacity exceeded")

	// ErrInvalidToken reports a malformed or badly signed access token.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired reports an access token past its expiry.
	ErrTokenExpired = errors.New("token expired")
)

// IsTransient reports whether err is worth queueing for a later retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsPermanent reports whether retrying err can never succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrCodec) || errors.Is(err, ErrConflict)
}
