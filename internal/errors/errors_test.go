package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorMessage(t *testing.T) {
	err := NewNotFoundError("project 7")
	assert.Equal(t, "NOT_FOUND: project 7 not found", err.Error())

	wrapped := NewUpstreamUnavailableError("event store unavailable", context.DeadlineExceeded)
	assert.Contains(t, wrapped.Error(), "UPSTREAM_UNAVAILABLE")
	assert.Contains(t, wrapped.Error(), "deadline exceeded")
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)
}

func TestHelpersSeeThroughWrapping(t *testing.T) {
	base := NewInvalidParameterError("end_date must not be before start_date")
	wrapped := fmt.Errorf("four-keys: %w", base)

	assert.True(t, IsInvalidParameter(wrapped))
	assert.False(t, IsNotFound(wrapped))
	assert.Equal(t, ErrCodeInvalidParameter, CodeOf(wrapped))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, ErrCodeInternal, CodeOf(fmt.Errorf("boom")))
	assert.False(t, IsDataIntegrity(nil))
}

func TestDataIntegrityError(t *testing.T) {
	err := NewDataIntegrityError("merge_request", 42, "merged_at before created_at")
	assert.True(t, IsDataIntegrity(err))
	assert.Equal(t, "merge_request 42: merged_at before created_at", err.Message)
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"upstream", NewUpstreamUnavailableError("down", nil), true},
		{"rate limited", NewRateLimitedError("slow down"), true},
		{"not found", NewNotFoundError("project"), false},
		{"invalid", NewInvalidParameterError("bad date"), false},
		{"plain", fmt.Errorf("plain"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}
