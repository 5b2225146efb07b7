package store

import (
	"errors"
	"fmt"
)

var (
	// ErrEmbeddedLifecycle is returned when save/destroy is attempted on an
	// embedded value, which lives and dies with its parent document.
	ErrEmbeddedLifecycle = errors.New("vellum: embedded values are persisted through their parent")

	// ErrUnknownField is returned when a name resolves through neither side
	// of the field table.
	ErrUnknownField = errors.New("vellum: unknown field")
)

// MissingIdentityError is returned when persistence is attempted while the
// identifier-deriving field is still unset.
type MissingIdentityError struct {
	// Type is the entity type name.
	Type string
}

func (e *MissingIdentityError) Error() string {
	return fmt.Sprintf("vellum: %s identity is not resolvable yet", e.Type)
}

// UnsavedParentError is returned when an embed write-through is attempted
// on a parent that has never been persisted.
type UnsavedParentError struct {
	Type string
	Slot string
}

func (e *UnsavedParentError) Error() string {
	return fmt.Sprintf("vellum: cannot write through %s.%s: parent is not persisted", e.Type, e.Slot)
}

// CascadeRestrictedError is returned when a restrict policy blocks a
// destroy. Nothing has been mutated when it is returned.
type CascadeRestrictedError struct {
	Type  string
	Slot  string
	Count int64
}

func (e *CascadeRestrictedError) Error() string {
	return fmt.Sprintf("vellum: destroy of %s restricted by %d live entities in %s", e.Type, e.Count, e.Slot)
}

// FieldError is one declared-constraint failure.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError carries every constraint failure found on a record, not
// just the first.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("vellum: validation failed: %s %s", e.Errors[0].Field, e.Errors[0].Message)
	}
	return fmt.Sprintf("vellum: validation failed with %d errors", len(e.Errors))
}
