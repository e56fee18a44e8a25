package service

import "errors"

// Failure taxonomy shared by the security services. Verification-path
// operations never surface these; they fail closed and log instead.
var (
	ErrStoreUnavailable          = errors.New("backing store unavailable")
	ErrMalformedStoredData       = errors.New("stored record is malformed")
	ErrInvalidOrExpiredChallenge = errors.New("invalid or expired challenge")
	ErrCredentialMismatch        = errors.New("credential mismatch")
	ErrSetupFailure              = errors.New("setup failed")
)
