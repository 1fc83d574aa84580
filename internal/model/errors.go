package model

import (
	"errors"
	"fmt"
)

// Sentinel errors. Transports map these to status codes; callers test with errors.Is.
var (
	// ErrSessionInvalid means no actor context, or an expired one. Aborts immediately.
	ErrSessionInvalid = errors.New("session invalid")

	// ErrEnvelopeInvalid means a token failed signature, format, or schema checks.
	ErrEnvelopeInvalid = errors.New("envelope invalid")

	// ErrReferenceNotFound means a scoping or required lookup yielded nothing.
	ErrReferenceNotFound = errors.New("reference not found")

	// ErrDuplicateSequenceCode means a generated code collided on insert.
	// The caller must retry the whole create.
	ErrDuplicateSequenceCode = errors.New("duplicate sequence code")

	// ErrValidation means a payload is missing or carries an unacceptable field.
	ErrValidation = errors.New("validation failed")

	// ErrFilterParse means a filter specification could not be parsed.
	ErrFilterParse = errors.New("filter specification malformed")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFound wraps ErrReferenceNotFound with the collection and uuid that were missing.
func NotFound(collection, uuid string) error {
	return fmt.Errorf("%s %q: %w", collection, uuid, ErrReferenceNotFound)
}
