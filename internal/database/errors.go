package database

import (
	"errors"
	"fmt"

	"github.com/roach88/tunedb/internal/ir"
)

// DecodeErrorCode categorizes decode failures.
type DecodeErrorCode string

const (
	// ErrCodeCorruption indicates stored bytes no longer match their content hash.
	ErrCodeCorruption DecodeErrorCode = "CORRUPTION"

	// ErrCodeMalformedRecord indicates a portable value of the wrong shape.
	ErrCodeMalformedRecord DecodeErrorCode = "MALFORMED_RECORD"
)

var (
	// ErrEmptyScope is returned when exiting a scope that was never entered.
	ErrEmptyScope = errors.New("database: exit with no scope entered")

	// ErrNotImplemented is returned by a FuncDatabase operation with no function supplied.
	ErrNotImplemented = errors.New("database: operation not implemented")

	// ErrWorkloadNotFound is returned when a record references an uncommitted workload.
	ErrWorkloadNotFound = errors.New("database: workload not found")
)

// DecodeError reports a persisted value that could not be decoded.
// Raw holds the offending value for diagnostics.
type DecodeError struct {
	Code    DecodeErrorCode
	Message string
	Raw     ir.IRValue
	Err     error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// RawString renders Raw as portable JSON for logs, truncated to limit bytes.
func (e *DecodeError) RawString(limit int) string {
	if e.Raw == nil {
		return ""
	}
	data, err := ir.MarshalValue(e.Raw)
	if err != nil {
		return fmt.Sprintf("<unprintable: %v>", err)
	}
	if limit > 0 && len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}

// NewDecodeError builds a DecodeError for backends that detect decode
// failures in their own framing, such as a line index out of range.
func NewDecodeError(code DecodeErrorCode, raw ir.IRValue, err error, format string, args ...any) *DecodeError {
	return &DecodeError{Code: code, Message: fmt.Sprintf(format, args...), Raw: raw, Err: err}
}

func corruption(raw ir.IRValue, err error, format string, args ...any) *DecodeError {
	return &DecodeError{Code: ErrCodeCorruption, Message: fmt.Sprintf(format, args...), Raw: raw, Err: err}
}

func malformed(raw ir.IRValue, err error, format string, args ...any) *DecodeError {
	return &DecodeError{Code: ErrCodeMalformedRecord, Message: fmt.Sprintf(format, args...), Raw: raw, Err: err}
}

// IsCorruptionError returns true if err wraps a CORRUPTION DecodeError.
func IsCorruptionError(err error) bool {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Code == ErrCodeCorruption
	}
	return false
}

// IsMalformedRecordError returns true if err wraps a MALFORMED_RECORD DecodeError.
func IsMalformedRecordError(err error) bool {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Code == ErrCodeMalformedRecord
	}
	return false
}

// IsDecodeError returns true for either decode error code.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
