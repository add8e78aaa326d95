package services

import (
	"errors"
	"fmt"

	apperrors "github.com/SAP-F-2025/proctoring-service/internal/errors"
)

// ===== COMMON SERVICE ERRORS =====

var (
	ErrNotFound         = errors.New("resource not found")
	ErrForbidden        = errors.New("forbidden - insufficient permissions")
	ErrValidationFailed = errors.New("validation failed")
	ErrConflict         = errors.New("resource conflict")

	// Proctoring specific errors
	ErrSessionNotFound      = errors.New("proctoring session not found")
	ErrSessionAlreadyActive = errors.New("proctoring session already active for this attempt")
	ErrAttemptTerminated    = errors.New("exam attempt was terminated by proctoring")
	ErrPersistence          = errors.New("proctoring persistence failure")
	ErrReportNotFound       = errors.New("proctoring report not found")
	ErrInvalidImage         = errors.New("invalid screenshot image data")
)

// ===== CUSTOM ERROR TYPES =====

type ValidationError = apperrors.ValidationError
type ValidationErrors = apperrors.ValidationErrors

// PersistenceError wraps a storage failure with the operation that hit it.
type PersistenceError struct {
	Operation string
	Err       error
}

func (pe *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrPersistence, pe.Operation, pe.Err)
}

func (pe *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, pe.Err}
}

func newPersistenceError(operation string, err error) error {
	return &PersistenceError{Operation: operation, Err: err}
}

// ===== ERROR HELPERS =====

func NewValidationError(field, message string, value interface{}) *ValidationError {
	return apperrors.NewValidationError(field, message, value)
}

// IsNotFound checks if error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrReportNotFound)
}

// IsConflict checks if error represents a resource conflict
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrSessionAlreadyActive) ||
		errors.Is(err, ErrAttemptTerminated)
}

func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence)
}

func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsValidation checks if error represents a validation failure
func IsValidation(err error) bool {
	if errors.Is(err, ErrValidationFailed) || errors.Is(err, ErrInvalidImage) {
		return true
	}
	var ve apperrors.ValidationErrors
	if errors.As(err, &ve) {
		return true
	}
	var single *apperrors.ValidationError
	return errors.As(err, &single)
}
