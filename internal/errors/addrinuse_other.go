//go:build !windows

package errors

import (
	"errors"
	"syscall"
)

func isAddrInUseErrno(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}
