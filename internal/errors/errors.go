package errors

import "errors"

var (
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrLoginRequired      = errors.New("login required")
	ErrMissingTransaction = errors.New("no login transaction in progress")
	ErrStateMismatch      = errors.New("state mismatch")
	ErrMissingIDToken     = errors.New("no id_token in token response")
	ErrNonceMismatch      = errors.New("nonce mismatch")
	ErrAuthorization      = errors.New("authorization failed")
	ErrCacheMiss          = errors.New("cache entry not found")
	ErrNoLocation         = errors.New("no page location in context")
	ErrParameterNotFound  = errors.New("parameter not found")
	ErrNoSessionKeys      = errors.New("no valid session keys")
)
