package interfaces

import "errors"

var (
	// ErrUserNotFound is returned by user lookups for unknown usernames.
	ErrUserNotFound = errors.New("user not found")

	// ErrUsernameTaken is returned by CreateUser when the username already
	// has an identity. Callers treat it as a lost race, not a failure.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrStoreClosed is returned when an operation reaches a store that has
	// been shut down.
	ErrStoreClosed = errors.New("store is closed")
)
