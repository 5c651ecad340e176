package config

import (
	"fmt"
	"strings"

	dterrors "github.com/coral-mesh/dwarftags/internal/errors"
	"github.com/coral-mesh/dwarftags/internal/logging"
)

// ValidationError is a single invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MultiValidationError collects every invalid setting of a Config.
type MultiValidationError struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (e *MultiValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("validation failed with %d errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		builder.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return builder.String()
}

// Unwrap classifies validation failures as configuration errors.
func (e *MultiValidationError) Unwrap() error {
	return dterrors.ErrConfig
}

// Validate checks every field and reports all violations at once.
func (c *Config) Validate() error {
	var errs []ValidationError

	if strings.TrimSpace(c.Output) == "" {
		errs = append(errs, ValidationError{
			Field:   "output",
			Message: "output path is required",
		})
	}

	if c.Jobs < 1 {
		errs = append(errs, ValidationError{
			Field:   "jobs",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Jobs),
		})
	}

	if c.MaxInputSize <= 0 {
		errs = append(errs, ValidationError{
			Field:   "max_input_size",
			Message: "must be positive",
		})
	}

	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		errs = append(errs, ValidationError{
			Field:   "log_level",
			Message: fmt.Sprintf("unknown level %q (want one of %s)", c.LogLevel, strings.Join(logging.Levels, ", ")),
		})
	}

	if len(errs) > 0 {
		return &MultiValidationError{Errors: errs}
	}
	return nil
}
