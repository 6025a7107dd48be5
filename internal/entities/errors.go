package entities

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrJobNotFound        = errors.New("job not found")
	ErrAPIKeyNotFound     = errors.New("api key not found")
	ErrToolNotFound       = errors.New("tool not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidTransition  = errors.New("invalid job status transition")
	ErrJobNotReady        = errors.New("job is not ready for download")
	ErrForbidden          = errors.New("forbidden")
)

// ValidationError rejects a request before any state changes.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// QuotaExceededError is an admission denial, carrying the usage that caused it.
type QuotaExceededError struct {
	Reason DenialReason
	Usage  UsageSnapshot
}

func (e *QuotaExceededError) Error() string {
	if e.Reason == MonthlyLimitExceeded {
		return fmt.Sprintf("monthly conversion limit reached (%d/%d)", e.Usage.MonthlyUsage, e.Usage.MonthlyLimit)
	}
	return fmt.Sprintf("daily conversion limit reached (%d/%d)", e.Usage.DailyUsage, e.Usage.DailyLimit)
}

func transitionError(from, to JobStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
