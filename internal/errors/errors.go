// Package errors provides structured error types for ubench.
// All errors include a category, code, and message, and map onto the
// process exit status the CLI reports.
package errors

import (
	"errors"
	"fmt"
	"syscall"
)

// ErrorCategory classifies errors by the stage of a benchmark run that failed.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryConflict   ErrorCategory = "CONFLICT"
	ErrCategoryResource   ErrorCategory = "RESOURCE"
	ErrCategoryDevice     ErrorCategory = "DEVICE"
	ErrCategoryLifecycle  ErrorCategory = "LIFECYCLE"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidSymbol     = "INVALID_SYMBOL"
	CodeInvalidSize       = "INVALID_SIZE"
	CodeMissingMountPoint = "MISSING_MOUNT_POINT"
	CodePathTooLong       = "PATH_TOO_LONG"
	CodeInvalidConfig     = "INVALID_CONFIG"

	// Conflict codes
	CodePreexistingFile = "PREEXISTING_FILE"

	// Resource codes
	CodeAllocationFailure = "ALLOCATION_FAILURE"

	// Device codes
	CodeShortWrite = "SHORT_WRITE"
	CodeShortRead  = "SHORT_READ"
	CodeDeviceLost = "DEVICE_LOST"
	CodeIOFailure  = "IO_FAILURE"

	// Lifecycle codes
	CodeInterrupted = "INTERRUPTED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// UbenchError is the structured error type used throughout the system.
type UbenchError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Details  map[string]interface{}
	Cause    error
}

// Error returns a formatted error string.
func (e *UbenchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *UbenchError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *UbenchError) Is(target error) bool {
	var t *UbenchError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new UbenchError.
func New(category ErrorCategory, code, message string) *UbenchError {
	return &UbenchError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// Wrap creates a new UbenchError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *UbenchError {
	return &UbenchError{
		Category: category,
		Code:     code,
		Message:  message,
		Cause:    cause,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *UbenchError) WithDetails(details map[string]interface{}) *UbenchError {
	cp := *e
	cp.Details = details
	return &cp
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not an UbenchError.
func GetCategory(err error) ErrorCategory {
	var ue *UbenchError
	if errors.As(err, &ue) {
		return ue.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not an UbenchError.
func GetCode(err error) string {
	var ue *UbenchError
	if errors.As(err, &ue) {
		return ue.Code
	}
	return ""
}

// ExitCode maps an error to the process exit status. Validation failures
// exit with EINVAL (E2BIG for an over-long path), a pre-existing benchmark file with EEXIST and an
// interrupted run with EINTR. Resource and device failures report the
// errno of the underlying OS error when there is one.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	switch GetCategory(err) {
	case ErrCategoryValidation:
		if GetCode(err) == CodePathTooLong {
			return int(syscall.E2BIG)
		}
		return int(syscall.EINVAL)
	case ErrCategoryConflict:
		return int(syscall.EEXIST)
	case ErrCategoryLifecycle:
		return int(syscall.EINTR)
	case ErrCategoryResource:
		if errno, ok := errnoOf(err); ok {
			return errno
		}
		return int(syscall.ENOMEM)
	case ErrCategoryDevice:
		if errno, ok := errnoOf(err); ok {
			return errno
		}
		return int(syscall.EIO)
	}

	if errno, ok := errnoOf(err); ok {
		return errno
	}
	return 1
}

func errnoOf(err error) (int, bool) {
	var errno syscall.Errno
	if errors.As(err, &errno) && errno != 0 {
		return int(errno), true
	}
	return 0, false
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *UbenchError {
	return New(ErrCategoryValidation, code, message)
}

func NewConflictError(code, message string, cause error) *UbenchError {
	return Wrap(ErrCategoryConflict, code, message, cause)
}

func NewResourceError(code, message string, cause error) *UbenchError {
	return Wrap(ErrCategoryResource, code, message, cause)
}

func NewDeviceError(code, message string, cause error) *UbenchError {
	return Wrap(ErrCategoryDevice, code, message, cause)
}

func NewInterruptedError(message string, cause error) *UbenchError {
	return Wrap(ErrCategoryLifecycle, CodeInterrupted, message, cause)
}

func NewInternalError(message string, cause error) *UbenchError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
