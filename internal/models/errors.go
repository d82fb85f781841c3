package models

import "fmt"

// ErrorType represents different categories of run-fatal errors
type ErrorType int

const (
	ErrInvalidConfig ErrorType = iota
	ErrFetch
	ErrSignature
	ErrReport
)

// String returns the string representation of ErrorType
func (e ErrorType) String() string {
	switch e {
	case ErrInvalidConfig:
		return "InvalidConfig"
	case ErrFetch:
		return "Fetch"
	case ErrSignature:
		return "Signature"
	case ErrReport:
		return "Report"
	default:
		return "Unknown"
	}
}

// CheckError represents an error that aborts a verification run. Per-record
// parse and policy failures never become a CheckError; they are reported as
// diagnostics and the run continues.
type CheckError struct {
	Type    ErrorType
	Context string
	Err     error
}

// Error implements the error interface
func (e *CheckError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Context, e.Err)
	}
	return fmt.Sprintf("[%s] %v", e.Type, e.Err)
}

// Unwrap returns the wrapped error
func (e *CheckError) Unwrap() error {
	return e.Err
}
