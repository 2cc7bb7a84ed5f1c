package channel

import (
	"errors"
	"fmt"
	"strings"
)

// PermanentError marks a failure that retrying cannot fix (invalid
// recipient, malformed payload). The executor fails the obligation
// immediately instead of scheduling another attempt.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps an error as a permanent failure.
func Permanent(format string, args ...any) error {
	return &PermanentError{Err: fmt.Errorf(format, args...)}
}

// IsTransient classifies a send failure. Typed permanent errors win;
// otherwise the error text is matched against known permanent and transient
// signatures. Unknown errors are treated as transient so the attempt
// ceiling, not the classifier, bounds delivery.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}

	errStr := strings.ToLower(err.Error())

	// Permanent failures
	permanent := []string{
		"not verified",          // SES sandbox - recipient not verified
		"validation error",      // Invalid input
		"invalid",               // Invalid request
		"malformed",             // Bad request format
		"recipient is required", // Missing required field
		"400",                   // Bad request
		"404",                   // No such endpoint
	}
	for _, s := range permanent {
		if strings.Contains(errStr, s) {
			return false
		}
	}

	return true
}
