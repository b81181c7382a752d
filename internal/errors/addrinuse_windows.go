//go:build windows

package errors

import (
	"errors"
	"syscall"

	"golang.org/x/sys/windows"
)

// Winsock reports WSAEADDRINUSE, which syscall.EADDRINUSE does not match.
func isAddrInUseErrno(err error) bool {
	return errors.Is(err, windows.WSAEADDRINUSE) || errors.Is(err, syscall.EADDRINUSE)
}
