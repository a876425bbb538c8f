// Package wwerrors provides a structured error type with category-based
// classification, retry semantics and the exit-code / HTTP status mappings
// used by the CLI and the daemon's HTTP surfaces.
package wwerrors

import (
	stdErrors "errors"
	"fmt"
)

// Category classifies an error for exit codes, HTTP statuses and retry
// decisions.
type Category string

const (
	// User-facing configuration and input errors
	CategoryConfig     Category = "config"
	CategoryValidation Category = "validation"
	CategoryAuth       Category = "auth"

	// External system errors
	CategoryNetwork Category = "network"
	CategoryGit     Category = "git"

	// Run and environment errors
	CategoryRun         Category = "run"         // a workflow run failed
	CategoryEnvironment Category = "environment" // host lacks a tool or interpreter
	CategoryStorage     Category = "storage"

	// Infrastructure errors
	CategoryDaemon   Category = "daemon"
	CategoryNotFound Category = "not_found"
	CategoryInternal Category = "internal"
)

// Severity indicates how critical an error is.
type Severity string

const (
	SeverityFatal   Severity = "fatal"
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Error is a structured error with category, retryability and context.
type Error struct {
	Category  Category       `json:"category"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Cause     error          `json:"-"`
	Retryable bool           `json:"retryable"`
	Context   map[string]any `json:"context,omitempty"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// WithContext adds a context field and returns the error for chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// New creates a classified error.
func New(category Category, severity Severity, message string) *Error {
	return &Error{Category: category, Severity: severity, Message: message}
}

// Wrap classifies an existing error.
func Wrap(err error, category Category, severity Severity, message string) *Error {
	return &Error{Category: category, Severity: severity, Message: message, Cause: err}
}

// Retryable creates a classified error marked safe to retry.
func Retryable(category Category, severity Severity, message string) *Error {
	return &Error{Category: category, Severity: severity, Message: message, Retryable: true}
}

// WrapRetryable classifies an existing error and marks it retryable.
func WrapRetryable(err error, category Category, severity Severity, message string) *Error {
	return &Error{Category: category, Severity: severity, Message: message, Cause: err, Retryable: true}
}

// As extracts the classified error from anywhere in the chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stdErrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable reports whether any classified error in the chain is retryable.
func IsRetryable(err error) bool {
	if e, ok := As(err); ok {
		return e.Retryable
	}
	return false
}

// GetCategory extracts the category, defaulting to internal for foreign errors.
func GetCategory(err error) Category {
	if e, ok := As(err); ok {
		return e.Category
	}
	return CategoryInternal
}

// IsCategory reports whether the error chain carries the given category.
func IsCategory(err error, category Category) bool {
	return GetCategory(err) == category
}
