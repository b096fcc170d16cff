// Package errors provides coded errors for tabprep.
// Every error carries a stable code, optional context and a short stack.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Code identifies an error class for programmatic handling.
type Code string

const (
	// Input errors (1xx)
	CodeFileNotFound    Code = "E101"
	CodeFileTooLarge    Code = "E102"
	CodeUnsupportedType Code = "E103"
	CodeEncodingError   Code = "E104"
	CodeEmptyInput      Code = "E105"

	// Processing errors (2xx)
	CodeParseFailed    Code = "E201"
	CodeMalformedTable Code = "E202"
	CodeStageFailed    Code = "E203"
	CodeConversion     Code = "E204"

	// Output errors (3xx)
	CodeWriteFailed Code = "E301"
	CodeStorage     Code = "E302"
	CodeNotFound    Code = "E303"

	// System errors (4xx)
	CodeContextCanceled Code = "E401"
	CodePanic           Code = "E403"
	CodeConfig          Code = "E404"
	CodeOverloaded      Code = "E405"

	// Job errors (5xx)
	CodeJobNotFound Code = "E501"
	CodeJobStore    Code = "E502"

	CodeUnknown Code = "E999"
)

// Error is the base error type for all tabprep errors.
type Error struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]any
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface. Context keys are printed sorted.
func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Code, e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", k, e.Context[k])
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// New creates a new Error.
func New(code Code, message string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Newf creates a new Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error. A nil err yields nil.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	cf := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *Error) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		fmt.Fprintf(&sb, "  at %s\n    %s:%d\n", f.Function, f.File, f.Line)
	}
	return sb.String()
}

// --- Convenience constructors ---

// FileNotFound creates a file not found error.
func FileNotFound(path string) *Error {
	return New(CodeFileNotFound, "file not found").WithContext("path", path)
}

// FileTooLarge reports an input above the configured size cap.
func FileTooLarge(path string, size, limit int64) *Error {
	return New(CodeFileTooLarge, "file exceeds size limit").
		WithContext("path", path).
		WithContext("size", size).
		WithContext("limit", limit)
}

// UnsupportedType reports a file extension no adapter handles.
func UnsupportedType(ext string, allowed []string) *Error {
	return New(CodeUnsupportedType, "unsupported file type").
		WithContext("extension", ext).
		WithContext("allowed", strings.Join(allowed, ","))
}

// ParseError creates a parsing error with location.
func ParseError(format string, row int, err error) *Error {
	return Wrap(err, CodeParseFailed, "parse error").
		WithContext("format", format).
		WithContext("row", row)
}

// StageFailed wraps a pipeline stage failure.
func StageFailed(stage string, err error) *Error {
	return Wrap(err, CodeStageFailed, "stage failed").WithContext("stage", stage)
}

// Panic converts a recovered panic value into an error.
func Panic(stage string, recovered any) *Error {
	return Newf(CodePanic, "panic: %v", recovered).WithContext("stage", stage)
}

// JobNotFound reports an unknown job ID.
func JobNotFound(id string) *Error {
	return New(CodeJobNotFound, "job not found").WithContext("job_id", id)
}

// --- Error checking utilities ---

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return errors.As(err, target) }

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsInput reports whether err was caused by the input file itself.
// Input errors abort a run instead of degrading it.
func IsInput(err error) bool {
	switch GetCode(err) {
	case CodeFileNotFound, CodeFileTooLarge, CodeUnsupportedType, CodeEncodingError, CodeEmptyInput:
		return true
	default:
		return false
	}
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d errors occurred:\n", len(m.Errors))
	for i, err := range m.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
