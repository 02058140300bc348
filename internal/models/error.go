package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrConflict       = errors.New("resource already exists")
	ErrInternalServer = errors.New("internal server error")

	// Policy denials surfaced by the login flow
	ErrAccountLocked     = errors.New("account is temporarily locked")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// Startup configuration errors
	ErrInvalidTierConfig    = errors.New("invalid rate limit tier configuration")
	ErrUnknownTier          = errors.New("unknown rate limit tier")
	ErrInvalidLockoutConfig = errors.New("invalid lockout configuration")
)

// DenialError carries a deny Decision through an error return
type DenialError struct {
	Reason     DenyReason
	RetryAfter time.Duration
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("access denied: %s (retry after %s)", e.Reason, e.RetryAfter)
}

// Unwrap maps the denial reason onto the matching sentinel error
func (e *DenialError) Unwrap() error {
	switch e.Reason {
	case DenyReasonAccountLocked:
		return ErrAccountLocked
	case DenyReasonRateLimited:
		return ErrRateLimitExceeded
	default:
		return ErrForbidden
	}
}
