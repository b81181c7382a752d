package errors

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeBind     ErrorType = "bind"
	ErrorTypeIO       ErrorType = "io"
	ErrorTypeBuild    ErrorType = "build"
	ErrorTypeSession  ErrorType = "session"
	ErrorTypeConfig   ErrorType = "config"
	ErrorTypeInternal ErrorType = "internal"
)

// FolioError is a structured error type with context.
type FolioError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Path        string
	Recoverable bool
}

// Error implements the error interface.
func (e *FolioError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Path != "" {
		parts = append(parts, e.Path)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *FolioError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *FolioError) Is(target error) bool {
	var t *FolioError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *FolioError) WithContext(key string, value interface{}) *FolioError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithPath attaches the file or directory the error is about.
func (e *FolioError) WithPath(path string) *FolioError {
	e.Path = path

	return e
}

// Error creation functions

// NewBindError creates a listener bind error. Address-in-use failures are
// recoverable through the port policy; everything else is fatal.
func NewBindError(addr string, cause error) *FolioError {
	code := "BIND_FAILED"
	if IsAddrInUse(cause) {
		code = "ADDR_IN_USE"
	}

	return &FolioError{
		Type:        ErrorTypeBind,
		Code:        code,
		Message:     "failed to bind " + addr,
		Cause:       cause,
		Context:     map[string]interface{}{"addr": addr},
		Recoverable: code == "ADDR_IN_USE",
	}
}

// BindPort returns the port of the address a bind error failed on.
func BindPort(err error) (int, bool) {
	var fe *FolioError
	if !errors.As(err, &fe) || fe.Type != ErrorTypeBind {
		return 0, false
	}

	addr, _ := fe.Context["addr"].(string)
	_, p, splitErr := net.SplitHostPort(addr)
	if splitErr != nil {
		return 0, false
	}
	port, convErr := strconv.Atoi(p)
	if convErr != nil {
		return 0, false
	}
	return port, true
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *FolioError {
	return &FolioError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewBuildError creates a build error.
func NewBuildError(code, message string, cause error) *FolioError {
	return &FolioError{
		Type:        ErrorTypeBuild,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewSessionError creates a live reload session error.
func NewSessionError(code, message string, cause error) *FolioError {
	return &FolioError{
		Type:        ErrorTypeSession,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *FolioError {
	return &FolioError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *FolioError {
	return &FolioError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// Error recovery and handling utilities

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// IsAddrInUse reports whether err is caused by binding an address that is
// already taken by another listener.
func IsAddrInUse(err error) bool {
	return err != nil && isAddrInUseErrno(err)
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var fe *FolioError
	if errors.As(err, &fe) {
		return fe.Recoverable
	}

	return false
}

// IsBuildError checks if an error is build-related.
func IsBuildError(err error) bool {
	return hasType(err, ErrorTypeBuild)
}

// IsBindError checks if an error came from binding the listener.
func IsBindError(err error) bool {
	return hasType(err, ErrorTypeBind)
}

// IsSessionError checks if an error belongs to a live reload session.
func IsSessionError(err error) bool {
	return hasType(err, ErrorTypeSession)
}

func hasType(err error, t ErrorType) bool {
	var fe *FolioError
	if errors.As(err, &fe) {
		return fe.Type == t
	}

	return false
}
