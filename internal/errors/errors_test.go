package errors

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addrInUse() error {
	return &net.OpError{
		Op:  "listen",
		Net: "tcp",
		Err: &os.SyscallError{Syscall: "bind", Err: syscall.EADDRINUSE},
	}
}

func TestFolioErrorError(t *testing.T) {
	err := NewIOError("RM_OUTPUT", "failed to remove output directory", fmt.Errorf("busy")).
		WithPath("/tmp/__folio_build")

	msg := err.Error()
	assert.Contains(t, msg, "[RM_OUTPUT]")
	assert.Contains(t, msg, "/tmp/__folio_build")
	assert.Contains(t, msg, "failed to remove output directory")
	assert.Contains(t, msg, ": busy")
}

func TestFolioErrorUnwrapAndIs(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := NewBuildError("RENDER", "render failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.True(t, errors.Is(err, &FolioError{Type: ErrorTypeBuild, Code: "RENDER"}))
	assert.False(t, errors.Is(err, &FolioError{Type: ErrorTypeBuild, Code: "OTHER"}))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, IsBuildError(wrapped))
	assert.True(t, IsRecoverable(wrapped))
}

func TestWithContext(t *testing.T) {
	err := NewSessionError("SEND", "send failed", nil).WithContext("session", "abc")
	require.NotNil(t, err.Context)
	assert.Equal(t, "abc", err.Context["session"])
}

func TestIsAddrInUse(t *testing.T) {
	assert.True(t, IsAddrInUse(addrInUse()))
	assert.True(t, IsAddrInUse(fmt.Errorf("wrapped: %w", addrInUse())))
	assert.False(t, IsAddrInUse(fmt.Errorf("address already in use")))
	assert.False(t, IsAddrInUse(nil))
}

func TestBindPort(t *testing.T) {
	port, ok := BindPort(NewBindError("127.0.0.1:4123", addrInUse()))
	require.True(t, ok)
	assert.Equal(t, 4123, port)

	port, ok = BindPort(fmt.Errorf("policy gave up: %w", NewBindError("[::1]:8080", addrInUse())))
	require.True(t, ok)
	assert.Equal(t, 8080, port)

	_, ok = BindPort(NewIOError("X", "not a bind error", nil))
	assert.False(t, ok)
	_, ok = BindPort(fmt.Errorf("plain"))
	assert.False(t, ok)
}

func TestNewBindError(t *testing.T) {
	tests := []struct {
		name        string
		cause       error
		code        string
		recoverable bool
	}{
		{"address in use", addrInUse(), "ADDR_IN_USE", true},
		{"other failure", fmt.Errorf("permission denied"), "BIND_FAILED", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewBindError("127.0.0.1:3000", tt.cause)
			assert.Equal(t, ErrorTypeBind, err.Type)
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.recoverable, IsRecoverable(err))
			assert.True(t, IsBindError(err))
			assert.Contains(t, err.Error(), "127.0.0.1:3000")
		})
	}
}

func TestPredicatesOnPlainErrors(t *testing.T) {
	plain := fmt.Errorf("plain")
	assert.False(t, IsRecoverable(plain))
	assert.False(t, IsBuildError(plain))
	assert.False(t, IsBindError(plain))
	assert.False(t, IsSessionError(plain))
}

func TestBindSuggestions(t *testing.T) {
	t.Run("address in use", func(t *testing.T) {
		suggestions := BindSuggestions(addrInUse(), 3000)
		require.Len(t, suggestions, 2)
		assert.Contains(t, suggestions[0].Command, "3000")
		assert.Contains(t, FormatSuggestions(suggestions), "Port already in use")
	})

	t.Run("privileged port", func(t *testing.T) {
		suggestions := BindSuggestions(fmt.Errorf("listen tcp :80: bind: permission denied"), 80)
		require.Len(t, suggestions, 2)
		assert.Equal(t, "Use unprivileged port", suggestions[1].Title)
	})

	t.Run("nil error", func(t *testing.T) {
		assert.Empty(t, BindSuggestions(nil, 3000))
		assert.Empty(t, FormatSuggestions(nil))
	})
}
