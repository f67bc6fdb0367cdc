package errors

import (
	"errors"
	"fmt"
)

// IndexError is the structured error type for repoindex.
// It carries enough context for logging, CLI presentation and exit codes.
type IndexError struct {
	// Code is the unique error code (e.g., "ERR_207_NO_INDEX").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is derived from the code.
	Category Category

	// Severity is derived from the code.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error.
	Cause error

	// Suggestion is an actionable hint for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *IndexError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *IndexError) Unwrap() error {
	return e.Cause
}

// Is matches another IndexError by code, so errors.Is works against the
// sentinel values below.
func (e *IndexError) Is(target error) bool {
	if t, ok := target.(*IndexError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *IndexError) WithDetail(key, value string) *IndexError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *IndexError) WithSuggestion(suggestion string) *IndexError {
	e.Suggestion = suggestion
	return e
}

// New creates a new IndexError with the given code and message.
func New(code string, message string, cause error) *IndexError {
	return &IndexError{
		Code:     code,
		Message:  message,
		Category: categoryFromCode(code),
		Severity: severityFromCode(code),
		Cause:    cause,
	}
}

// Wrap creates an IndexError from an existing error.
func Wrap(code string, err error) *IndexError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is checks. Only the code is compared.
var (
	ErrNoIndex            = &IndexError{Code: ErrCodeNoIndex}
	ErrBuildInProgress    = &IndexError{Code: ErrCodeBuildInProgress}
	ErrEncoderUnavailable = &IndexError{Code: ErrCodeEncoderUnavailable}
	ErrConfigMismatch     = &IndexError{Code: ErrCodeConfigMismatch}
	ErrCorruptIndex       = &IndexError{Code: ErrCodeCorruptIndex}
	ErrIndexFailed        = &IndexError{Code: ErrCodeIndexFailed}
	ErrVerifyFailed       = &IndexError{Code: ErrCodeVerifyFailed}
	ErrIndexDisabled      = &IndexError{Code: ErrCodeIndexDisabled}
)

// GetCode extracts the code of the first IndexError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var ie *IndexError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var ie *IndexError
	if errors.As(err, &ie) {
		return ie.Severity == SeverityFatal
	}
	return false
}
