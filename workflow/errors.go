package workflow

import (
	"errors"
	"strings"
)

// ValidationError reports every structural problem Build found: duplicate
// ids, unknown dependencies, bad timeouts, cycles. Fatal at build time.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "workflow validation failed: " + strings.Join(e.Problems, "; ")
}

// IsValidationError reports whether err is a build-time validation failure.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
