package errors

import (
	"errors"
)

// Error taxonomy shared by the public packages, which re-export these values.
var (
	// Identity errors
	ErrIdentityMismatch = errors.New("token id does not match credential id")

	// Storage consistency errors
	ErrNotFound         = errors.New("not found")
	ErrDuplicateID      = errors.New("token id already stored")
	ErrMetadataMismatch = errors.New("metadata id does not match token id")

	// Credential errors
	ErrNoRefreshToken = errors.New("token has no refresh token")
	ErrTokenRequired  = errors.New("token is required")

	// Orchestration errors
	ErrNoCredential = errors.New("no credential resolvable for request")

	// Key set errors
	ErrKeyNotFound = errors.New("signing key not found in key set")

	// General errors
	ErrUnsupported = errors.New("unsupported operation")
)

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}
