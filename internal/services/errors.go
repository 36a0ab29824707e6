package services

import "errors"

// Authentication-decision errors. The HTTP layer maps these to a small set of
// generic messages; nothing here leaks whether an account or credential
// exists.
var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrCredentialUnusable = errors.New("credential unusable")
	ErrChallengeNotFound  = errors.New("challenge not found")
	ErrChallengeExpired   = errors.New("challenge expired")
	ErrAlreadyConsumed    = errors.New("challenge already consumed")
	ErrSignatureInvalid   = errors.New("signature invalid")
	ErrRateLimitedIP      = errors.New("rate limited by ip")
	ErrRateLimitedAccount = errors.New("rate limited by account")
	ErrAccountLocked      = errors.New("account locked")
	ErrStoreUnavailable   = errors.New("store unavailable")
)
