package model

import "fmt"

// ValidationError rejects a bad portfolio configuration synchronously at
// creation; nothing invalid ever enters the engine.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ExecutionError fails a single trade order. The execution cycle keeps
// going; the reason is captured on the order.
type ExecutionError struct {
	Reason string
}

func (e ExecutionError) Error() string {
	return e.Reason
}

// ConfigurationError skips one rule for one portfolio for one cycle,
// logged as a warning.
type ConfigurationError struct {
	Rule   string
	Reason string
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("%s misconfigured: %s", e.Rule, e.Reason)
}
