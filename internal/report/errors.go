package report

import (
	"fmt"
	"strings"
)

// ValidationError marks caller-supplied criteria as malformed. It surfaces
// synchronously and never produces a job row.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid criteria: %s: %s", e.Field, e.Message)
	}
	return "invalid criteria: " + e.Message
}

// Validationf builds a ValidationError without a field.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// UnsupportedTypeError is returned when no strategy is registered for the
// requested report type.
type UnsupportedTypeError struct {
	RequestedType string
	Supported     []string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported report type %q (supported: %s)",
		e.RequestedType, strings.Join(e.Supported, ", "))
}

// GenerationError wraps a failure inside a strategy's Generate call.
type GenerationError struct {
	ReportType string
	Err        error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate %s report: %v", e.ReportType, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
