package document

import "fmt"

// MalformedDocumentError is returned when a stored primitive does not have
// the shape a codec expects. Decode never papers over a bad shape with a
// default value; corrupt data must surface to the caller.
type MalformedDocumentError struct {
	// Field is the document key (or codec name, for scalar codecs) that
	// failed to decode.
	Field string

	// Expected describes the shape the codec wanted.
	Expected string

	// Got is the value that was found.
	Got any
}

func (e *MalformedDocumentError) Error() string {
	return fmt.Sprintf("vellum: malformed document field %q: expected %s, got %T", e.Field, e.Expected, e.Got)
}
