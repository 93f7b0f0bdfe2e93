package rules

import "fmt"

// ValidationError rejects a draft or patch with missing or malformed
// fields. No store state is mutated when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid rule: %s %s", e.Field, e.Reason)
}

// PatternError rejects a rule whose regex source does not compile.
// Checked before any map change so a bad pattern never leaves partial
// state behind.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("pattern %q does not compile: %v", e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error { return e.Err }

// NotFoundError reports an operation against an absent rule id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("rule %s not found", e.ID)
}
