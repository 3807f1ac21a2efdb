package llm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrorType classifies LLM failures for retry and reporting decisions.
type ErrorType string

const (
	ErrorTypeAuth     ErrorType = "auth"
	ErrorTypeModel    ErrorType = "model"
	ErrorTypeEndpoint ErrorType = "endpoint"
	ErrorTypeParse    ErrorType = "parse"
	ErrorTypeUnknown  ErrorType = "unknown"
)

// Error represents a structured LLM error with classification.
type Error struct {
	Type       ErrorType
	Message    string
	Retryable  bool
	Cause      error
	StatusCode int
	Model      string
	Endpoint   string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " HTTP %d", e.StatusCode)
	}
	if e.Model != "" {
		fmt.Fprintf(&b, " model=%s", e.Model)
	}
	b.WriteString(" " + e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the failed call is worth repeating.
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

// classifyRule maps provider error text to a classification. Rules are
// checked in order; the first match wins.
type classifyRule struct {
	match     func(errStr, lower string) bool
	errType   ErrorType
	message   string
	retryable bool
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var classifyRules = []classifyRule{
	{
		match: func(errStr, lower string) bool {
			return strings.Contains(errStr, "401") || containsAny(lower, "unauthorized", "invalid api key")
		},
		errType: ErrorTypeAuth, message: "authentication failed", retryable: false,
	},
	{
		match: func(_, lower string) bool {
			return strings.Contains(lower, "model") && containsAny(lower, "not found", "does not exist")
		},
		errType: ErrorTypeModel, message: "model not found", retryable: false,
	},
	{
		match: func(errStr, _ string) bool {
			return strings.Contains(errStr, "404")
		},
		errType: ErrorTypeEndpoint, message: "endpoint not found", retryable: false,
	},
	{
		match: func(_, lower string) bool {
			return containsAny(lower, "connection refused", "no such host")
		},
		errType: ErrorTypeEndpoint, message: "connection failed", retryable: true,
	},
	{
		match: func(_, lower string) bool {
			return containsAny(lower, "timeout", "deadline exceeded", "context canceled")
		},
		errType: ErrorTypeEndpoint, message: "request timeout", retryable: true,
	},
	{
		match: func(errStr, lower string) bool {
			return strings.Contains(errStr, "429") || strings.Contains(lower, "rate limit")
		},
		errType: ErrorTypeUnknown, message: "rate limited", retryable: true,
	},
	{
		match: func(errStr, _ string) bool {
			return containsAny(errStr, "500", "502", "503", "504")
		},
		errType: ErrorTypeEndpoint, message: "server error", retryable: true,
	},
}

// ClassifyError categorizes a provider error into a structured Error. An
// error that already is an *Error passes through unchanged.
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
	for _, code := range []int{400, 401, 403, 404, 429, 500, 502, 503, 504} {
		if strings.Contains(errStr, strconv.Itoa(code)) {
			statusCode = code
			break
		}
	}

	for _, rule := range classifyRules {
		if rule.match(errStr, lower) {
			e := NewError(rule.errType, rule.message, rule.retryable, err)
			e.StatusCode = statusCode
			return e
		}
	}

	e := NewError(ErrorTypeUnknown, "llm error", false, err)
	e.StatusCode = statusCode
	return e
}

// IsRetryable returns true if the error is a retryable LLM error.
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
