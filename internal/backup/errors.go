package backup

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrNotInitialized     = errors.New("job not initialized")
	ErrAlreadyInitialized = errors.New("job already initialized")
	ErrAlreadyRunning     = errors.New("backup already running")
	ErrJobDeleted         = errors.New("job deleted")
	ErrJobExists          = errors.New("job already exists")
	ErrNoSuccessfulBackup = errors.New("no successful backup available")
)

// ValidationError rejects malformed input before any state changes
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) match
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NotFoundError names the missing entity
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// Is makes errors.Is(err, ErrNotFound) match
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ErrJobNotFound builds a NotFoundError for a job
func ErrJobNotFound(id string) error {
	return &NotFoundError{Kind: "job", ID: id}
}

// ErrExecutionNotFound builds a NotFoundError for an execution
func ErrExecutionNotFound(id string) error {
	return &NotFoundError{Kind: "execution", ID: id}
}
