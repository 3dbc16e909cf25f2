package services

import (
	"errors"
	"fmt"
)

// ===== SENTINEL ERRORS =====

var (
	// Not found
	ErrTestNotFound    = errors.New("test not found")
	ErrAttemptNotFound = errors.New("attempt not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrSubjectNotFound = errors.New("subject not found")
	ErrGradeNotFound   = errors.New("grade not found")

	// Attempt lifecycle
	ErrAttemptNotActive        = errors.New("attempt is not in progress")
	ErrAttemptAlreadySubmitted = errors.New("attempt has already been submitted")
	ErrAttemptLimitReached     = errors.New("maximum attempts reached for this test")
	ErrTestNotActive           = errors.New("test is not active")
	ErrTestNotAvailable        = errors.New("test is not available for this grade")

	// Catalog
	ErrConflictingHistory = errors.New("test has finalized attempts, scoring content is frozen")
	ErrHistoryAckRequired = errors.New("test has finalized attempts, deletion requires acknowledgement")

	// Auth
	ErrUnauthenticated = errors.New("caller identity is missing or invalid")
)

// ===== TYPED ERRORS =====

// PermissionError carries the denied action for logging and the 403 payload.
type PermissionError struct {
	UserID string
	Action string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %s is not allowed to %s", e.UserID, e.Action)
}

func NewPermissionError(userID, action string) *PermissionError {
	return &PermissionError{UserID: userID, Action: action}
}

// ValidationError wraps field-level problems with a submitted request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ===== CLASSIFIERS =====

func IsNotFound(err error) bool {
	return errors.Is(err, ErrTestNotFound) ||
		errors.Is(err, ErrAttemptNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrSubjectNotFound) ||
		errors.Is(err, ErrGradeNotFound)
}

func IsPermissionError(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict reports errors that map to a conflicting-state response: the
// attempt limit and the frozen-history guard.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAttemptLimitReached) ||
		errors.Is(err, ErrConflictingHistory) ||
		errors.Is(err, ErrHistoryAckRequired) ||
		errors.Is(err, ErrAttemptAlreadySubmitted)
}
