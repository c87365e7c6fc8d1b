package llm

import (
	"errors"
	"fmt"
)

// maxErrorOutputLen bounds how much of an invalid model reply is carried
// inside a ModelOutputError.
const maxErrorOutputLen = 400

// ModelOutputError reports a model reply that could not be parsed or did
// not conform to the expected schema, after the single repair retry.
type ModelOutputError struct {
	Reason string // what failed: parse or schema validation
	Output string // the offending text, truncated
}

func (e *ModelOutputError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("invalid model output: %s", e.Reason)
	}
	return fmt.Sprintf("invalid model output: %s: %q", e.Reason, e.Output)
}

// NewModelOutputError builds a ModelOutputError with the offending text
// truncated to a loggable size.
func NewModelOutputError(reason, output string) *ModelOutputError {
	return &ModelOutputError{Reason: reason, Output: truncate(output, maxErrorOutputLen)}
}

// IsModelOutputError reports whether err is (or wraps) a ModelOutputError.
func IsModelOutputError(err error) bool {
	var moe *ModelOutputError
	return errors.As(err, &moe)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
