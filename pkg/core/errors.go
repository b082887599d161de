// Package core provides the companion client: the per-turn orchestration pipeline and its
// configuration.
package core

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNoProvider indicates that no LLM provider is configured (offline mode).
	ErrNoProvider = errors.New("no llm provider configured")

	// ErrEmptyCompletion indicates that the completion loop ended without any text.
	ErrEmptyCompletion = errors.New("empty completion")

	// ErrStorageOperation indicates that a storage operation failed.
	ErrStorageOperation = errors.New("storage operation failed")

	// ErrLLMOperation indicates that an LLM operation failed.
	ErrLLMOperation = errors.New("llm operation failed")
)

// AssistantError wraps errors with operation context.
//
// Example:
//
//	err := &AssistantError{
//	    Op:  "Reply",
//	    Err: ErrNoProvider,
//	}
//	// Error() returns: "companion: Reply: no llm provider configured"
type AssistantError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
//
// The format is: "companion: <Op>: <Err>"
func (e *AssistantError) Error() string {
	return fmt.Sprintf("companion: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *AssistantError) Unwrap() error {
	return e.Err
}

// NewAssistantError creates a new AssistantError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewAssistantError("Reply", err)
//	}
func NewAssistantError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &AssistantError{
		Op:  op,
		Err: err,
	}
}
