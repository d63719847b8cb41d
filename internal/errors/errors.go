package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a shutter error code.
type ErrorCode string

const (
	ErrInvalidRequest       ErrorCode = "INVALID_REQUEST"       // 400
	ErrNotFound             ErrorCode = "NOT_FOUND"             // 404
	ErrPermissionDenied     ErrorCode = "PERMISSION_DENIED"     // 403, user can grant in settings
	ErrPermissionRestricted ErrorCode = "PERMISSION_RESTRICTED" // 403, blocked by OS policy
	ErrInvalidState         ErrorCode = "INVALID_STATE"         // 409
	ErrDeviceUnavailable    ErrorCode = "DEVICE_UNAVAILABLE"    // 503
	ErrCaptureFailed        ErrorCode = "CAPTURE_FAILED"        // 500
	ErrRecordingFailed      ErrorCode = "RECORDING_FAILED"      // 500
	ErrPersistenceFailed    ErrorCode = "PERSISTENCE_FAILED"    // 500
	ErrNetworkFailed        ErrorCode = "NETWORK_FAILED"        // 502
	ErrInternal             ErrorCode = "INTERNAL"              // 500
)

// AppError represents a structured error with code, status, and details.
type AppError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Recoverable reports whether the user can retry or fix the condition
// without restarting the session.
func (e *AppError) Recoverable() bool {
	switch e.Code {
	case ErrPermissionRestricted, ErrDeviceUnavailable:
		return false
	default:
		return true
	}
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *AppError {
	return &AppError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing resource.
func NewNotFound(what string) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found", what),
		Details: map[string]any{"resource": what},
	}
}

// NewPermissionDenied creates a 403 error for a user-revocable denial.
func NewPermissionDenied(denied []string) *AppError {
	return &AppError{
		Code:    ErrPermissionDenied,
		Status:  403,
		Message: fmt.Sprintf("permissions required: %v; grant them in your device settings", denied),
		Details: map[string]any{"denied": denied},
	}
}

// NewPermissionRestricted creates a 403 error for access blocked by the operating system.
func NewPermissionRestricted() *AppError {
	return &AppError{
		Code:    ErrPermissionRestricted,
		Status:  403,
		Message: "camera access is restricted by the operating system",
	}
}

// NewInvalidState creates a 409 error for an operation that is not valid in the current state.
func NewInvalidState(op, state string) *AppError {
	return &AppError{
		Code:    ErrInvalidState,
		Status:  409,
		Message: fmt.Sprintf("%s is not allowed while %s", op, state),
		Details: map[string]any{"operation": op, "state": state},
	}
}

// NewDeviceUnavailable creates a 503 error when no capture device exists.
func NewDeviceUnavailable() *AppError {
	return &AppError{
		Code:    ErrDeviceUnavailable,
		Status:  503,
		Message: "no camera available on this device",
	}
}

// NewCaptureFailed creates a 500 error for a failed still capture or device setup step.
func NewCaptureFailed(err error) *AppError {
	return &AppError{
		Code:    ErrCaptureFailed,
		Status:  500,
		Message: causeMessage("failed to capture photo", err),
		Err:     err,
	}
}

// NewRecordingFailed creates a 500 error for a failed recording session.
func NewRecordingFailed(err error) *AppError {
	return &AppError{
		Code:    ErrRecordingFailed,
		Status:  500,
		Message: causeMessage("failed to record video", err),
		Err:     err,
	}
}

// NewPersistenceFailed creates a 500 error for a failed store read or write.
func NewPersistenceFailed(key string, err error) *AppError {
	return &AppError{
		Code:    ErrPersistenceFailed,
		Status:  500,
		Message: causeMessage(fmt.Sprintf("failed to persist %s", key), err),
		Details: map[string]any{"key": key},
		Err:     err,
	}
}

// NewNetworkFailed creates a 502 error for a failed directory lookup.
func NewNetworkFailed(err error) *AppError {
	return &AppError{
		Code:    ErrNetworkFailed,
		Status:  502,
		Message: causeMessage("directory lookup failed", err),
		Err:     err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *AppError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &AppError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		Err:     err,
	}
}

func causeMessage(prefix string, err error) string {
	if err == nil {
		return prefix
	}
	return prefix + ": " + err.Error()
}

// Is checks if err (or anything it wraps) is an AppError with the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// As extracts an AppError from err, wrapping anything else as INTERNAL.
func As(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return NewInternal(err)
}
