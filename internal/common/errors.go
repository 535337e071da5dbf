package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInternal     = errors.New("internal error")
	ErrValidation   = errors.New("validation failed")
	ErrRateLimited  = errors.New("rate limited")

	// ErrNotFoundOrExpired covers unknown, expired and foreign-owner tokens alike.
	ErrNotFoundOrExpired = errors.New("receipt not found or expired")
	// ErrStorageUnavailable signals a backend fault, never a missing record.
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrAlreadyLinked      = errors.New("receipt already linked to a ledger entry")
	// ErrExtractionUnavailable is returned once collaborator retries are exhausted.
	ErrExtractionUnavailable = errors.New("extraction unavailable")
	ErrLedgerUnavailable     = errors.New("ledger unavailable")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// StorageError wraps a backend fault so callers can match ErrStorageUnavailable.
func StorageError(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return NewAppError("STORAGE_UNAVAILABLE", op, errors.Join(ErrStorageUnavailable, cause))
}
