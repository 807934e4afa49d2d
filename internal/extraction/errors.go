package extraction

import (
	"errors"
	"fmt"
)

var (
	// ErrNoExtraction is returned when the model produced no record.
	ErrNoExtraction = errors.New("failed to generate valid structured output")

	// ErrNoSchema and ErrNoPrompt reject incomplete requests.
	ErrNoSchema = errors.New("extraction schema is required")
	ErrNoPrompt = errors.New("extraction prompt is required")
	ErrNoModel  = errors.New("model ID is required")
)

// InvocationError wraps a failed agent invocation that is neither an API
// status error nor a schema violation.
type InvocationError struct {
	Attempts int
	Err      error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("agent invocation failed: %v", e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}
