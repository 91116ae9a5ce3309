package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"classified", E(KindNotFound, "op", "missing"), KindNotFound},
		{"wrapped by fmt", fmt.Errorf("outer: %w", E(KindConflict, "op", "dup")), KindConflict},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), KindTimeout},
		{"plain", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(KindInternal, "op", nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(E(KindTimeout, "op", "slow")))
	assert.False(t, IsRetryable(E(KindBadRequest, "op", "nope")))
	assert.False(t, IsRetryable(nil))
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(KindTimeout, "store.accept", context.DeadlineExceeded)
	assert.Equal(t, "store.accept: context deadline exceeded", err.Error())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "engine.send: cannot connect to yourself", E(KindBadRequest, "engine.send", "cannot connect to yourself").Error())
}
