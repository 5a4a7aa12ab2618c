// Package common defines the sentinel errors and small helpers shared by all
// layers of the rental backend. Callers should match errors with errors.Is.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")

	// Input and state errors surfaced to the caller as-is.
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")

	// Payment linkage errors.
	ErrOwnerSetupRequired = errors.New("owner payment setup required")

	// ErrProviderUnavailable is a transient payment processor failure; the
	// caller may retry the same request later.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	// ErrProviderRejected is a permanent refusal by the payment processor.
	ErrProviderRejected = errors.New("payment provider rejected request")

	// Auth errors.
	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
)
