// Package mjrerr defines the coded errors used across the index engine.
// Components never panic across their public boundary; every failure is
// an *Error carrying a stable machine-readable code so callers can
// branch without string matching.
package mjrerr

import (
	"errors"
	"fmt"
)

// Code is a stable error identifier. The set is closed per component.
type Code string

const (
	// Input validation
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeInvalidJSON     Code = "INVALID_JSON"
	CodeEmptyQuery      Code = "EMPTY_QUERY"
	CodeQueryTooLong    Code = "QUERY_TOO_LONG"
	CodeQueryTooComplex Code = "QUERY_TOO_COMPLEX"
	CodeTokenTooLong    Code = "TOKEN_TOO_LONG"
	CodeQueryTooGeneral Code = "QUERY_TOO_GENERAL"

	// Not found / forbidden
	CodeNotFound      Code = "NOT_FOUND"
	CodeDirNotFound   Code = "DIR_NOT_FOUND"
	CodeNotADirectory Code = "NOT_A_DIRECTORY"
	CodeForbidden     Code = "FORBIDDEN"

	// Store
	CodeDBError         Code = "DB_ERROR"
	CodeFTSRepairFailed Code = "FTS_REPAIR_FAILED"
	CodePragmaFailed    Code = "PRAGMA_FAILED"

	// External tools
	CodeToolMissing   Code = "TOOL_MISSING"
	CodeExifToolError Code = "EXIFTOOL_ERROR"
	CodeFFprobeError  Code = "FFPROBE_ERROR"
	CodeParseError    Code = "PARSE_ERROR"

	// Time
	CodeTimeout Code = "TIMEOUT"

	// Orchestration
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeRateLimited        Code = "RATE_LIMITED"

	// Scanner / indexer
	CodeInsertFailed Code = "INSERT_FAILED"
	CodeUpdateFailed Code = "UPDATE_FAILED"
	CodeStatFailed   Code = "STAT_FAILED"
	CodeScanFailed   Code = "SCAN_FAILED"
	CodeUnsupported  Code = "UNSUPPORTED"
)

// Error is the coded error type crossing component boundaries.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// New creates a coded error without an underlying cause.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil cause
// yields nil so call sites can wrap unconditionally.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// CodeOf extracts the code from an error chain, defaulting to DB_ERROR
// only when the chain contains no *Error at all and fallback is empty.
func CodeOf(err error, fallback Code) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	if fallback != "" {
		return fallback
	}
	return CodeDBError
}

// Is reports whether the error chain carries the given code.
func Is(err error, code Code) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Code == code
}
