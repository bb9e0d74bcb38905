package account

import "errors"

// Sentinel errors for account stores.
var (
	// ErrNotFound is returned when no account matches identifier and provider.
	ErrNotFound = errors.New("account not found")

	// ErrConflict is returned when an account with the same identity exists.
	ErrConflict = errors.New("account already exists")
)
