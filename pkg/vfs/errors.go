package vfs

import (
	"context"
	"errors"
	"fmt"
)

// FSError represents a domain error raised by the overlay core or a backend.
//
// These are business logic errors (node not found, lock protocol violation, etc.)
// as opposed to raw infrastructure errors, which are wrapped into ErrIO.
// Callers match on Code with errors.As or IsCode.
type FSError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the node path related to the error (if applicable)
	Path string

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface.
func (e *FSError) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause so errors.Is works through FSError.
func (e *FSError) Unwrap() error {
	return e.Err
}

// ErrorCode represents the category of an FSError.
type ErrorCode int

const (
	// ErrNotFound indicates the path or node does not exist or is no longer valid
	ErrNotFound ErrorCode = iota

	// ErrAlreadyLocked indicates a lock was requested on a node that is already locked
	ErrAlreadyLocked

	// ErrInvalidLock indicates a released, foreign or nil lock was used
	ErrInvalidLock

	// ErrFileAlreadyLocked indicates content is unreadable because the medium holds
	// an exclusive lock on it
	ErrFileAlreadyLocked

	// ErrIO indicates a persistence or backend failure, including close-time flushes
	ErrIO

	// ErrAttribute indicates an attribute could not be read or written on the target
	ErrAttribute

	// ErrAlreadyExists indicates the target path already holds a node
	ErrAlreadyExists

	// ErrNotFolder indicates a folder was expected
	ErrNotFolder

	// ErrIsFolder indicates a data node was expected
	ErrIsFolder

	// ErrReadOnly indicates the target tree does not accept mutations
	ErrReadOnly

	// ErrInvalidArgument indicates malformed input (bad name, reserved name, etc.)
	ErrInvalidArgument

	// ErrBusy indicates a destructive operation was refused because streams are open
	ErrBusy

	// ErrInvalidNode indicates a node handle was used after deletion or masking
	ErrInvalidNode
)

var codeNames = map[ErrorCode]string{
	ErrNotFound:          "not_found",
	ErrAlreadyLocked:     "already_locked",
	ErrInvalidLock:       "invalid_lock",
	ErrFileAlreadyLocked: "file_already_locked",
	ErrIO:                "io",
	ErrAttribute:         "attribute",
	ErrAlreadyExists:     "already_exists",
	ErrNotFolder:         "not_folder",
	ErrIsFolder:          "is_folder",
	ErrReadOnly:          "read_only",
	ErrInvalidArgument:   "invalid_argument",
	ErrBusy:              "busy",
	ErrInvalidNode:       "invalid_node",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// NewError builds an FSError with a formatted message.
func NewError(code ErrorCode, path string, format string, args ...any) *FSError {
	return &FSError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Path:    path,
	}
}

// WrapError wraps err into an FSError of the given code.
//
// Existing FSErrors are returned unchanged so their original code survives.
// Context errors are returned unchanged as well: cancellation is control flow,
// not a domain failure.
func WrapError(code ErrorCode, path string, err error) error {
	if err == nil {
		return nil
	}
	var fsErr *FSError
	if errors.As(err, &fsErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &FSError{
		Code:    code,
		Message: code.String(),
		Path:    path,
		Err:     err,
	}
}

// CodeOf extracts the ErrorCode from err. ok is false when err carries no FSError.
func CodeOf(err error) (ErrorCode, bool) {
	var fsErr *FSError
	if errors.As(err, &fsErr) {
		return fsErr.Code, true
	}
	return 0, false
}

// IsCode reports whether err carries an FSError with the given code.
func IsCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// IsNotFound is shorthand for IsCode(err, ErrNotFound).
func IsNotFound(err error) bool {
	return IsCode(err, ErrNotFound)
}
