package loaderr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigError(t *testing.T) {
	err := Configf("group", "must be >= 0, got %d", -1)

	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.Equal(t, "configuration error: group: must be >= 0, got -1", err.Error())

	noField := &ConfigError{Message: "bad"}
	assert.Equal(t, "configuration error: bad", noField.Error())
}

func TestStateError(t *testing.T) {
	err := &StateError{Subject: "transaction login", State: "InProgress", Op: "start"}

	assert.True(t, errors.Is(err, ErrState))
	assert.Contains(t, err.Error(), "cannot start transaction login in state InProgress")
}

func TestBarrierConflictIsStateError(t *testing.T) {
	assert.True(t, errors.Is(ErrBarrierConflict, ErrState))
	assert.True(t, errors.Is(fmt.Errorf("socket ws-1: %w", ErrBarrierConflict), ErrState))
}

func TestTransportError(t *testing.T) {
	tests := []struct {
		name string
		err  *TransportError
		want string
	}{
		{
			name: "status only",
			err:  &TransportError{Op: "GET", URL: "http://x/a", StatusCode: 503},
			want: "transport error: GET http://x/a: HTTP 503",
		},
		{
			name: "wrapped cause",
			err:  &TransportError{Op: "POST", URL: "http://x/b", Err: context.DeadlineExceeded},
			want: "transport error: POST http://x/b: context deadline exceeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
			assert.True(t, errors.Is(tt.err, ErrTransport))
		})
	}

	wrapped := &TransportError{Err: context.DeadlineExceeded}
	assert.True(t, errors.Is(wrapped, context.DeadlineExceeded))
}

func TestIsCancelled(t *testing.T) {
	assert.True(t, IsCancelled(ErrCancelled))
	assert.True(t, IsCancelled(fmt.Errorf("wait: %w", ErrCancelled)))
	assert.False(t, IsCancelled(ErrTimeout))
	assert.False(t, IsCancelled(nil))
}
