// Package errors provides enhanced error types with helpful context and suggestions
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Query pipeline errors
	ErrCodeGeneratorUnavailable ErrorCode = "GENERATOR_UNAVAILABLE"
	ErrCodeLLMCall              ErrorCode = "LLM_CALL_FAILED"
	ErrCodeResponseParse        ErrorCode = "RESPONSE_PARSE_FAILED"
	ErrCodeSafetyRejection      ErrorCode = "QUERY_REJECTED_UNSAFE"
	ErrCodeQueryExecution       ErrorCode = "QUERY_EXECUTION_FAILED"

	// Execution dispatch errors
	ErrCodeUnknownOperation ErrorCode = "UNKNOWN_OPERATION"
	ErrCodeUnvalidatedQuery ErrorCode = "UNVALIDATED_QUERY"
	ErrCodeMissingArgument  ErrorCode = "MISSING_ARGUMENT"

	// Store errors
	ErrCodeStoreConnection     ErrorCode = "STORE_CONNECTION_FAILED"
	ErrCodeSchemaIntrospection ErrorCode = "SCHEMA_INTROSPECTION_FAILED"

	// Authentication errors
	ErrCodeNotAuthenticated ErrorCode = "NOT_AUTHENTICATED"
	ErrCodeInvalidAPIKey    ErrorCode = "INVALID_API_KEY"
	ErrCodeTokenCreation    ErrorCode = "TOKEN_CREATION_FAILED"
	ErrCodeSessionNotFound  ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeRateLimited      ErrorCode = "RATE_LIMITED"

	// Input validation errors
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED_FIELD"
)

// EnhancedError represents an error with additional context and helpful information
type EnhancedError struct {
	Code          ErrorCode              `json:"code"`
	Message       string                 `json:"message"`
	Details       string                 `json:"details,omitempty"`
	Suggestion    string                 `json:"suggestion,omitempty"`
	Documentation string                 `json:"documentation,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Cause         error                  `json:"-"`
}

// Error implements the error interface
func (e *EnhancedError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))
	if e.Details != "" {
		sb.WriteString(fmt.Sprintf(": %s", e.Details))
	}
	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(" (cause: %v)", e.Cause))
	}
	return sb.String()
}

// Unwrap returns the underlying error for error chain unwrapping
func (e *EnhancedError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly error message with suggestions
func (e *EnhancedError) UserMessage() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if e.Details != "" {
		sb.WriteString(fmt.Sprintf("\n\nDetails: %s", e.Details))
	}

	if e.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("\n\nSuggestion: %s", e.Suggestion))
	}

	if e.Documentation != "" {
		sb.WriteString(fmt.Sprintf("\n\nLearn more: %s", e.Documentation))
	}

	return sb.String()
}

// New creates a new EnhancedError
func New(code ErrorCode, message string) *EnhancedError {
	return &EnhancedError{
		Code:     code,
		Message:  message,
		Metadata: make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with enhanced context
func Wrap(err error, code ErrorCode, message string) *EnhancedError {
	return &EnhancedError{
		Code:     code,
		Message:  message,
		Cause:    err,
		Metadata: make(map[string]interface{}),
	}
}

// WithDetails adds detailed information about the error
func (e *EnhancedError) WithDetails(details string) *EnhancedError {
	e.Details = details
	return e
}

// WithSuggestion adds a suggestion on how to fix the error
func (e *EnhancedError) WithSuggestion(suggestion string) *EnhancedError {
	e.Suggestion = suggestion
	return e
}

// WithMetadata adds additional metadata to the error
func (e *EnhancedError) WithMetadata(key string, value interface{}) *EnhancedError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// Common error constructors with pre-configured messages

// NewGeneratorUnavailableError creates an error for a store with no usable generator
func NewGeneratorUnavailableError(store string) *EnhancedError {
	return New(ErrCodeGeneratorUnavailable, fmt.Sprintf("Query generator for %s is not available", store)).
		WithDetails(fmt.Sprintf("The %s store is not configured or its schema could not be loaded", store)).
		WithSuggestion("Check the store connection settings and make sure the database is reachable.").
		WithMetadata("store", store)
}

// NewLLMCallError creates an error for language model call failures
func NewLLMCallError(err error) *EnhancedError {
	return Wrap(err, ErrCodeLLMCall, "Language model call failed").
		WithDetails("The request to the language model did not complete").
		WithSuggestion("This is typically a temporary issue. Please try your question again in a moment.").
		WithMetadata("retryable", true)
}

// NewResponseParseError creates an error for unparseable model output
func NewResponseParseError(err error) *EnhancedError {
	return Wrap(err, ErrCodeResponseParse, "Failed to parse model response").
		WithDetails("The language model returned output that could not be decoded into a query").
		WithSuggestion("Try rephrasing your question to be more specific about the data you want.")
}

// NewSafetyRejectionError creates an error for queries blocked by the safety gate
func NewSafetyRejectionError(reason string) *EnhancedError {
	return New(ErrCodeSafetyRejection, "Generated query was rejected by the safety check").
		WithDetails(reason).
		WithSuggestion("Only read-only queries are allowed. Rephrase your question as a data lookup rather than a modification.")
}

// NewQueryExecutionError creates an error for store-side execution failures
func NewQueryExecutionError(err error, store string) *EnhancedError {
	return Wrap(err, ErrCodeQueryExecution, "Query execution failed").
		WithDetails(fmt.Sprintf("The %s store rejected or timed out the query", store)).
		WithSuggestion("Try narrowing the question so the query touches less data, then ask again.").
		WithMetadata("store", store).
		WithMetadata("retryable", true)
}

// NewUnknownOperationError creates an error for unrecognized dispatch operations
func NewUnknownOperationError(op string) *EnhancedError {
	return New(ErrCodeUnknownOperation, "Unknown execution operation").
		WithDetails(fmt.Sprintf("No handler is registered for operation: %s", op)).
		WithMetadata("operation", op)
}

// NewUnvalidatedQueryError creates an error for queries that skipped the safety gate
func NewUnvalidatedQueryError() *EnhancedError {
	return New(ErrCodeUnvalidatedQuery, "Query has not passed safety validation").
		WithDetails("Execution dispatch only accepts queries that carry a safety verdict").
		WithSuggestion("This is an internal error in the query pipeline. Please report it if it persists.")
}

// NewMissingArgumentError creates an error for dispatch calls lacking a required argument
func NewMissingArgumentError(op string, arg string) *EnhancedError {
	return New(ErrCodeMissingArgument, "Missing required argument").
		WithDetails(fmt.Sprintf("Operation %s requires argument '%s'", op, arg)).
		WithMetadata("operation", op).
		WithMetadata("argument", arg)
}

// NewStoreConnectionError creates an error for store connection failures
func NewStoreConnectionError(err error, store string) *EnhancedError {
	return Wrap(err, ErrCodeStoreConnection, "Store connection failed").
		WithDetails(fmt.Sprintf("Unable to connect to the %s store", store)).
		WithSuggestion("This is an internal server error. The service may be experiencing issues. Please try again in a moment.").
		WithMetadata("store", store).
		WithMetadata("retryable", true)
}

// NewSchemaIntrospectionError creates an error for schema description failures
func NewSchemaIntrospectionError(err error, store string) *EnhancedError {
	return Wrap(err, ErrCodeSchemaIntrospection, "Schema introspection failed").
		WithDetails(fmt.Sprintf("Could not build a schema description for the %s store", store)).
		WithMetadata("store", store)
}

// NewNotAuthenticatedError creates an error for unauthenticated requests
func NewNotAuthenticatedError() *EnhancedError {
	return New(ErrCodeNotAuthenticated, "Authentication required").
		WithDetails("This endpoint requires authentication").
		WithSuggestion("Include a valid API key in the 'X-API-Key' header, or a session token in the 'Authorization' header.")
}

// NewInvalidAPIKeyError creates an error for rejected API keys
func NewInvalidAPIKeyError() *EnhancedError {
	return New(ErrCodeInvalidAPIKey, "Invalid API key").
		WithDetails("The provided API key is not recognized or has been disabled").
		WithSuggestion("Check the key for typos, or ask your administrator for a new one.")
}

// NewTokenCreationError creates an error for token creation failures
func NewTokenCreationError(err error) *EnhancedError {
	return Wrap(err, ErrCodeTokenCreation, "Failed to create session token").
		WithDetails("The system was unable to sign a session token").
		WithSuggestion("This is an internal server error. Please try creating the session again.").
		WithMetadata("retryable", true)
}

// NewSessionNotFoundError creates an error for missing chat sessions
func NewSessionNotFoundError(sessionID string) *EnhancedError {
	return New(ErrCodeSessionNotFound, "Chat session not found").
		WithDetails(fmt.Sprintf("No active session with ID: %s", sessionID)).
		WithSuggestion("The session may have expired. Create a new session and try again.").
		WithMetadata("session_id", sessionID)
}

// NewRateLimitedError creates an error for rate-limited clients
func NewRateLimitedError(limitPerMinute int) *EnhancedError {
	return New(ErrCodeRateLimited, "Rate limit exceeded").
		WithDetails(fmt.Sprintf("This client is limited to %d requests per minute", limitPerMinute)).
		WithSuggestion("Wait a moment before sending the next question.").
		WithMetadata("limit_per_minute", limitPerMinute)
}

// NewInvalidInputError creates an error for invalid input
func NewInvalidInputError(field string, reason string) *EnhancedError {
	return New(ErrCodeInvalidInput, "Invalid input").
		WithDetails(fmt.Sprintf("Field '%s' is invalid: %s", field, reason)).
		WithSuggestion("Please check the API documentation for the expected format and try again.")
}

// NewMissingRequiredError creates an error for absent required fields
func NewMissingRequiredError(field string) *EnhancedError {
	return New(ErrCodeMissingRequired, "Missing required field").
		WithDetails(fmt.Sprintf("Field '%s' must be provided", field)).
		WithSuggestion("Please check the API documentation for the expected format and try again.")
}

// HTTPStatus maps an error to the status code the API layer reports it with.
// Anything unrecognized is a 500.
func HTTPStatus(err error) int {
	var enhanced *EnhancedError
	if !stderrors.As(err, &enhanced) {
		return http.StatusInternalServerError
	}

	switch enhanced.Code {
	case ErrCodeInvalidInput, ErrCodeMissingRequired, ErrCodeMissingArgument, ErrCodeUnvalidatedQuery:
		return http.StatusBadRequest
	case ErrCodeNotAuthenticated, ErrCodeInvalidAPIKey:
		return http.StatusUnauthorized
	case ErrCodeSessionNotFound, ErrCodeUnknownOperation:
		return http.StatusNotFound
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeGeneratorUnavailable, ErrCodeStoreConnection:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
