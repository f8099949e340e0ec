package apperrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for transport-level mapping.
type Code string

const (
	CodeUnknown            Code = "UNKNOWN"
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeNotFound           Code = "NOT_FOUND"
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
)

// AppError carries a classification code alongside the underlying cause.
type AppError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// New constructs an AppError without a cause.
func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

// Wrap constructs an AppError preserving the underlying cause.
func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func InvalidArg(message string) error {
	return New(CodeInvalidArgument, message)
}

func NotFound(message string) error {
	return New(CodeNotFound, message)
}

func StorageUnavailable(message string, cause error) error {
	return Wrap(CodeStorageUnavailable, message, cause)
}

// CodeOf extracts the classification code from an error chain.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}
