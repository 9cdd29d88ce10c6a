package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the evaluation
var (
	// ErrCancelled is raised when an evaluation is cancelled on request
	ErrCancelled = errors.New("evaluation cancelled")
	// ErrNoStatistics is raised when no pool published any statistics
	ErrNoStatistics = errors.New("no statistics were published for any pool")
)

// UserInputError reports a problem with the declaration, plan or configuration
type UserInputError struct {
	Message string
	Err     error
}

// NewUserInputError creates a user input error
func NewUserInputError(message string, err error) *UserInputError {
	return &UserInputError{Message: message, Err: err}
}

func (e *UserInputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid input: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("invalid input: %s", e.Message)
}

func (e *UserInputError) Unwrap() error {
	return e.Err
}

// InternalError reports a failure inside the pipeline: a unit, a lane or the bus
type InternalError struct {
	Message string
	Err     error
}

// NewInternalError creates an internal error
func NewInternalError(message string, err error) *InternalError {
	return &InternalError{Message: message, Err: err}
}

func (e *InternalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("internal error: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("internal error: %s", e.Message)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// IsUserInput reports whether err is, or wraps, a UserInputError
func IsUserInput(err error) bool {
	var target *UserInputError
	return errors.As(err, &target)
}

// IsInternal reports whether err is, or wraps, an InternalError
func IsInternal(err error) bool {
	var target *InternalError
	return errors.As(err, &target)
}
