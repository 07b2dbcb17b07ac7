// Package businessflow contains the core business logic and use cases for deposit integration workflows
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Job-related errors
	ErrJobNotFound          = errors.New("integration job not found")
	ErrJobAlreadyTerminal   = errors.New("integration job is already terminal")
	ErrJobAlreadyProcessing = errors.New("integration job is being processed")
	ErrJobClaimLost         = errors.New("integration job claim lost to another worker")

	// Trigger-related errors
	ErrExternalRecordIDRequired = errors.New("external record ID is required")
	ErrAgencyCodeRequired       = errors.New("agency code is required")
	ErrDuplicateTrigger         = errors.New("duplicate trigger suppressed")

	// Source system errors
	ErrTenancyNotFound   = errors.New("tenancy not found in source system")
	ErrSourceUnavailable = errors.New("source system unavailable")

	// Validation errors
	ErrIdentityIncomplete = errors.New("identity fields are missing")
	ErrRecordIncomplete   = errors.New("record is missing required fields")

	// Submission errors
	ErrSchemeRejected    = errors.New("deposit scheme rejected submission")
	ErrSchemeUnavailable = errors.New("deposit scheme unavailable")

	ErrCacheNotAvailable = errors.New("cache not available")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsJobNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}

func IsJobAlreadyTerminal(err error) bool {
	return errors.Is(err, ErrJobAlreadyTerminal)
}

func IsJobAlreadyProcessing(err error) bool {
	return errors.Is(err, ErrJobAlreadyProcessing)
}

func IsDuplicateTrigger(err error) bool {
	return errors.Is(err, ErrDuplicateTrigger)
}

func IsTenancyNotFound(err error) bool {
	return errors.Is(err, ErrTenancyNotFound)
}

func IsIdentityIncomplete(err error) bool {
	return errors.Is(err, ErrIdentityIncomplete)
}

func IsSchemeRejected(err error) bool {
	return errors.Is(err, ErrSchemeRejected)
}
