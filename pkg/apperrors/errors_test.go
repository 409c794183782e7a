package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrappersPreserveSentinel(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"validation", Validationf("name %q is taken", "grand-rounds"), ErrValidation},
		{"not found", NotFoundf("purpose %q", "grand-rounds"), ErrNotFound},
		{"invalid state", InvalidStatef("request %d already resolved", 7), ErrInvalidState},
		{"conflict", Conflictf("pending request exists"), ErrConflict},
		{"dependency", Dependency("insert member", errors.New("connection reset")), ErrDependency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, tt.err)
			assert.True(t, errors.Is(tt.err, tt.sentinel))
		})
	}
}

func TestDependencyNil(t *testing.T) {
	assert.NoError(t, Dependency("noop", nil))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(Dependency("query", errors.New("timeout"))))
	assert.True(t, Retryable(fmt.Errorf("outer: %w", ErrDependency)))
	assert.False(t, Retryable(ErrNotFound))
	assert.False(t, Retryable(nil))
}
