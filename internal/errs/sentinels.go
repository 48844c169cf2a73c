// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates a missing or invalid session.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates an authenticated user lacking the required role.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited indicates the caller exhausted its request window.
	ErrRateLimited = errors.New("rate limited")

	// ErrInvalidInput indicates a request body failing validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotCredential indicates a reveal was attempted on a non-credential document.
	ErrNotCredential = errors.New("document is not a credential")
)
