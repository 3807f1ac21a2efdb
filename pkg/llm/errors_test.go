package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		retryable bool
	}{
		{"unauthorized", errors.New("401 unauthorized"), ErrorTypeAuth, false},
		{"invalid key", errors.New("invalid api key provided"), ErrorTypeAuth, false},
		{"model missing", errors.New("model gpt-x not found"), ErrorTypeModel, false},
		{"endpoint 404", errors.New("404 page not found"), ErrorTypeEndpoint, false},
		{"connection refused", errors.New("dial tcp: connection refused"), ErrorTypeEndpoint, true},
		{"timeout", errors.New("context deadline exceeded"), ErrorTypeEndpoint, true},
		{"rate limited", errors.New("429 too many requests"), ErrorTypeUnknown, true},
		{"server error", errors.New("503 service unavailable"), ErrorTypeEndpoint, true},
		{"unknown", errors.New("something odd"), ErrorTypeUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.retryable, got.Retryable)
		})
	}
}

func TestClassifyErrorPassthrough(t *testing.T) {
	orig := NewError(ErrorTypeAuth, "authentication failed", false, nil)
	wrapped := fmt.Errorf("calling provider: %w", orig)

	got := ClassifyError(wrapped)
	assert.Same(t, orig, got)
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewError(ErrorTypeEndpoint, "server error", true, cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsRetryable(err))
	assert.Equal(t, ErrorTypeEndpoint, GetErrorType(err))
}

func TestIsRetryableNonLLMError(t *testing.T) {
	assert.False(t, IsRetryable(errors.New("plain error")))
}
