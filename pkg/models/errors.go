package models

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a failure class of the pipeline.
// Codes are strings so they read well in logs and run history.
type ErrorCode string

const (
	// CodeSourceUnavailable indicates the source database could not be reached.
	CodeSourceUnavailable ErrorCode = "SOURCE_UNAVAILABLE"
	// CodeSchemaMismatch indicates expected source columns are absent.
	CodeSchemaMismatch ErrorCode = "SCHEMA_MISMATCH"
	// CodeUploadFailed indicates a staged file could not be written to object storage.
	CodeUploadFailed ErrorCode = "UPLOAD_FAILED"
	// CodeLoadFailed indicates a staged file could not be loaded into the warehouse.
	CodeLoadFailed ErrorCode = "LOAD_FAILED"
	// CodeInvalidGraph indicates a transform graph that is cyclic or not closed.
	CodeInvalidGraph ErrorCode = "INVALID_GRAPH"
	// CodeStepFailed indicates a transform step action returned an error.
	CodeStepFailed ErrorCode = "STEP_FAILED"
	// CodeStepTimeout indicates a transform step exceeded its timeout.
	CodeStepTimeout ErrorCode = "STEP_TIMEOUT"
	// CodeNotInitialized indicates no watermark is stored for a pipeline.
	CodeNotInitialized ErrorCode = "NOT_INITIALIZED"
)

// Error is a classified pipeline error.
type Error struct {
	Code ErrorCode
	Op   string
	Err  error
}

// Sentinels for errors.Is comparisons.
var (
	ErrSourceUnavailable = &Error{Code: CodeSourceUnavailable}
	ErrSchemaMismatch    = &Error{Code: CodeSchemaMismatch}
	ErrUploadFailed      = &Error{Code: CodeUploadFailed}
	ErrLoadFailed        = &Error{Code: CodeLoadFailed}
	ErrInvalidGraph      = &Error{Code: CodeInvalidGraph}
	ErrStepFailed        = &Error{Code: CodeStepFailed}
	ErrStepTimeout       = &Error{Code: CodeStepTimeout}
	ErrNotInitialized    = &Error{Code: CodeNotInitialized}
)

// NewError wraps err with a code and the operation that failed.
func NewError(code ErrorCode, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(code ErrorCode, op string, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Op)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the outermost classified error in err's chain,
// or "" if there is none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
