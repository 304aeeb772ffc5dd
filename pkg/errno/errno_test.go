package errno

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"nil", nil, 0, "Success"},
		{"errno", ErrSignerNotConnected, 20101, "Ledger is not connected yet"},
		{"wrapped errno", fmt.Errorf("sign message: %w", ErrDeviceAction), 20103, "sign message: Device action failed"},
		{"with message", ErrChainBackend.WithMessage("rpc down"), 20301, "Chain backend error: rpc down"},
		{"plain", errors.New("boom"), 10001, "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := Decode(tt.err)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantMsg, msg)
		})
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("resolve: %w", ErrDeviceAction.WithMessage("locked"))
	assert.True(t, errors.Is(err, ErrDeviceAction))
	assert.False(t, errors.Is(err, ErrSignerNotConnected))
}
