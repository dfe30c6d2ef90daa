package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// ConfigInvalid indicates a configuration value failed validation
	ConfigInvalid ErrorCode = "CONFIG_INVALID"
	// InputMissing indicates a required input (versions, source root) is absent
	InputMissing ErrorCode = "INPUT_MISSING"
	// UnknownManager indicates a package URI with an unsupported scheme
	UnknownManager ErrorCode = "UNKNOWN_MANAGER"
	// UnknownMetric indicates a metric name that is not registered
	UnknownMetric ErrorCode = "UNKNOWN_METRIC"
	// IndexRequestFailed indicates the package index returned an error
	IndexRequestFailed ErrorCode = "INDEX_REQUEST_FAILED"
	// DownloadFailed indicates an archive could not be downloaded or verified
	DownloadFailed ErrorCode = "DOWNLOAD_FAILED"
	// ExtractFailed indicates an archive could not be unpacked
	ExtractFailed ErrorCode = "EXTRACT_FAILED"
	// GitFailed indicates a git invocation returned non-zero
	GitFailed ErrorCode = "GIT_FAILED"
	// ParseFailed indicates a source file could not be parsed by any parser
	ParseFailed ErrorCode = "PARSE_FAILED"
	// StoreFailed indicates a fact store statement failed
	StoreFailed ErrorCode = "STORE_FAILED"
	// TraceActive indicates a trace session is already installed
	TraceActive ErrorCode = "TRACE_ACTIVE"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// CaliperError represents a Caliper error with a stable code and message
type CaliperError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	cause   error       // Underlying error (not exported to JSON)
}

// New creates a new CaliperError
func New(code ErrorCode, message string, cause error) *CaliperError {
	return &CaliperError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Newf creates a CaliperError without a cause from a format string
func Newf(code ErrorCode, format string, args ...interface{}) *CaliperError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Error implements the error interface
func (e *CaliperError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *CaliperError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *CaliperError) WithDetails(details interface{}) *CaliperError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first CaliperError in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var ce *CaliperError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// Fatal reports whether an error of this code must abort the whole run.
// Parse failures are recovered per file; download and extraction failures
// are recovered per version when the run is configured to skip them.
func Fatal(code ErrorCode) bool {
	switch code {
	case ParseFailed, DownloadFailed, ExtractFailed:
		return false
	default:
		return true
	}
}
