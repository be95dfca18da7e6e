// Package fault defines the error kinds of the repository contract. Every
// failure surfaced to a caller is one of these kinds so the HTTP layer can
// map it to a stable status without inspecting error text.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a contract failure
type Kind string

const (
	// KindValidation - a field violates a documented constraint
	KindValidation Kind = "validation"
	// KindReferenceNotFound - a foreign key does not resolve to a reference row
	KindReferenceNotFound Kind = "reference_not_found"
	// KindReferentialIntegrity - deletion blocked by a referencing deal
	KindReferentialIntegrity Kind = "referential_integrity"
	// KindNotFound - id unknown, or hidden by ownership isolation
	KindNotFound Kind = "not_found"
	// KindAuthorization - acting principal lacks permission for the mutation
	KindAuthorization Kind = "authorization"
	// KindConflict - a concurrent update lost the compare-and-swap race
	KindConflict Kind = "conflict"
)

// Error is the single error type surfaced by the service layer. Field names
// the offending field where one exists.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause, if any
func (e *Error) Unwrap() error { return e.cause }

// WithCause attaches an underlying error without changing the kind
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// Validation reports a constraint violation on the named field
func Validation(field, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

// ReferenceNotFound reports an unresolvable reference field
func ReferenceNotFound(field, format string, args ...interface{}) *Error {
	return &Error{Kind: KindReferenceNotFound, Field: field, Message: fmt.Sprintf(format, args...)}
}

// ReferentialIntegrity reports a blocked reference deletion
func ReferentialIntegrity(table, format string, args ...interface{}) *Error {
	return &Error{Kind: KindReferentialIntegrity, Field: table, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing or inaccessible record. The shape is identical
// for both cases so existence never leaks across owners.
func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s not found", what)}
}

// Authorization reports a permission failure
func Authorization(format string, args ...interface{}) *Error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

// Conflict reports a lost compare-and-swap race
func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or "" when err is not a contract error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind anywhere in its chain
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
