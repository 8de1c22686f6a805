package store

import (
	"errors"
	"fmt"
)

// ValidationError signals malformed input reaching the store or core
// (bad role, negative token counts, negative limit/offset).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError signals a referenced session or message that does not exist
// where presence is required.
type NotFoundError struct {
	Kind string // "session" or "message"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ConsistencyError signals an internal invariant violation, such as the
// index referencing a message the store has no row for. Treated as a bug,
// never retried.
type ConsistencyError struct {
	Detail string
	Err    error
}

func (e *ConsistencyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("consistency violation: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("consistency violation: %s", e.Detail)
}

func (e *ConsistencyError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
