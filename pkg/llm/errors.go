package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies provider failures.
type ErrorType string

const (
	ErrorTypeAuth      ErrorType = "auth"
	ErrorTypeModel     ErrorType = "model"
	ErrorTypeEndpoint  ErrorType = "endpoint"
	ErrorTypeRateLimit ErrorType = "rate_limit"
	ErrorTypeEmbedding ErrorType = "embedding"
	ErrorTypeUnknown   ErrorType = "unknown"
)

// Error represents a structured LLM error with classification.
type Error struct {
	Type       ErrorType
	Message    string
	Retryable  bool
	Cause      error
	StatusCode int
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	parts = append(parts, string(e.Type))
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable implements the retry.RetryableError interface so the retry
// package can check retryability without importing llm.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// NewError creates a new structured LLM error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

// ClassifyError categorizes a provider error into a structured Error.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	errStr := err.Error()
	lower := strings.ToLower(errStr)

	statusCode := 0
	for _, code := range []int{400, 401, 402, 403, 404, 429, 500, 502, 503, 504} {
		if strings.Contains(errStr, fmt.Sprintf("%d", code)) {
			statusCode = code
			break
		}
	}

	switch {
	case strings.Contains(errStr, "401") || strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "invalid api key"):
		llmErr = NewError(ErrorTypeAuth, "authentication failed", false, err)

	case strings.Contains(lower, "model") && (strings.Contains(lower, "not found") ||
		strings.Contains(lower, "does not exist")):
		llmErr = NewError(ErrorTypeModel, "model not found", false, err)

	case strings.Contains(errStr, "404"):
		llmErr = NewError(ErrorTypeEndpoint, "endpoint not found", false, err)

	case strings.Contains(errStr, "429") || strings.Contains(lower, "rate limit"):
		llmErr = NewError(ErrorTypeRateLimit, "rate limited", true, err)

	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host"):
		llmErr = NewError(ErrorTypeEndpoint, "connection failed", true, err)

	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		llmErr = NewError(ErrorTypeEndpoint, "request timeout", true, err)

	case strings.Contains(errStr, "500") || strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") || strings.Contains(errStr, "504"):
		llmErr = NewError(ErrorTypeEndpoint, "server error", true, err)

	default:
		llmErr = NewError(ErrorTypeUnknown, "llm error", false, err)
	}

	llmErr.StatusCode = statusCode
	return llmErr
}

// classifyEmbeddingError wraps embedding failures so callers can tell an
// auth/config problem (surface to the operator) from a transient one.
func classifyEmbeddingError(err error) *Error {
	classified := ClassifyError(err)

	lower := strings.ToLower(err.Error())
	switch {
	case classified.Type == ErrorTypeAuth:
		return NewError(ErrorTypeAuth, "embedding authentication failed, check the API key", false, err)
	case strings.Contains(lower, "no allowed providers") || strings.Contains(lower, "402"):
		return NewError(ErrorTypeEmbedding, "no provider available for the embedding model", false, err)
	default:
		return NewError(ErrorTypeEmbedding, "embedding request failed", classified.Retryable, err)
	}
}

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// GetErrorType extracts the ErrorType from an error.
func GetErrorType(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}
