package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// Pipeline taxonomy
	ErrTypeIntentClassificationFailed ErrorType = "intent_classification_failed"
	ErrTypeUnknownEntity              ErrorType = "unknown_entity"
	ErrTypeNoJoinPath                 ErrorType = "no_join_path"
	ErrTypeMissingUserScopeColumn     ErrorType = "missing_user_scope_column"
	ErrTypeForbiddenOperation         ErrorType = "forbidden_operation"
	ErrTypeExecutionTimeout           ErrorType = "execution_timeout"
	ErrTypeEmbeddingUnavailable       ErrorType = "embedding_unavailable"
	ErrTypeVectorStoreUnavailable     ErrorType = "vector_store_unavailable"
	ErrTypeStaleSchema                ErrorType = "stale_schema"
	ErrTypeUpsertRejected             ErrorType = "upsert_rejected"

	ErrTypeDatabase   ErrorType = "database"
	ErrTypeValidation ErrorType = "validation"
	ErrTypeNotFound   ErrorType = "not_found"
	ErrTypeConfig     ErrorType = "config"
	ErrTypeNetwork    ErrorType = "network"
	ErrTypeCanceled   ErrorType = "canceled"
	ErrTypeInternal   ErrorType = "internal"
)

// Error represents a structured error with type and optional suggestions
type Error struct {
	Type        ErrorType
	Message     string
	Cause       error
	Suggestions []string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithSuggestion adds a suggestion for resolving the error
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// New creates a new structured error
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new structured error with formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with formatted message
func Wrapf(err error, errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Type == errType
	}

	return false
}

// GetType returns the error type if it's a structured error. Context
// cancellation that was never wrapped is reported as canceled.
func GetType(err error) ErrorType {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Type
	}

	if errors.Is(err, context.Canceled) {
		return ErrTypeCanceled
	}

	return ErrTypeInternal
}

// IsRetryable reports whether a component may retry locally after err.
// Only classification and embedding failures qualify; forbidden operations never do.
func IsRetryable(err error) bool {
	switch GetType(err) {
	case ErrTypeIntentClassificationFailed, ErrTypeEmbeddingUnavailable, ErrTypeNetwork:
		return true
	default:
		return false
	}
}

// PublicMessage returns a consumer-safe description of err. It never includes
// statement text, schema names or driver messages.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}

	switch GetType(err) {
	case ErrTypeIntentClassificationFailed:
		return "question not understood"
	case ErrTypeUnknownEntity, ErrTypeNoJoinPath:
		return "requested data is not available"
	case ErrTypeMissingUserScopeColumn:
		return "requested data cannot be scoped to you"
	case ErrTypeForbiddenOperation:
		return "request refused"
	case ErrTypeExecutionTimeout:
		return "data query timed out"
	case ErrTypeEmbeddingUnavailable, ErrTypeVectorStoreUnavailable:
		return "search temporarily unavailable"
	case ErrTypeStaleSchema:
		return "data catalog is refreshing, try again"
	case ErrTypeCanceled:
		return "request canceled"
	default:
		return "data unavailable"
	}
}

// NewConfigError creates a configuration error with suggestions
func NewConfigError(message, field string) *Error {
	err := New(ErrTypeConfig, message)
	if field != "" {
		err.Message = fmt.Sprintf("%s (field: %s)", message, field)
	}

	return err.
		WithSuggestion("Check your configuration file syntax").
		WithSuggestion("Run with --help to see valid configuration options")
}

// NewForbiddenError creates a forbidden-operation error. Reason is kept
// internal; PublicMessage never exposes it.
func NewForbiddenError(reason string) *Error {
	return New(ErrTypeForbiddenOperation, reason).
		WithSuggestion("Only single read-only SELECT statements are executed")
}
