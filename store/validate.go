package store

import "fmt"

// validate checks required fields and the definition's own rule set before a
// save. In the default mode every violation is collected into one
// ValidationError; strict mode fails on the first.
func (db *DB) validate(r *Record) error {
	var failures []FieldError

	for i := range r.def.Fields {
		f := &r.def.Fields[i]
		if !f.Required {
			continue
		}
		v, ok := r.values[f.Name]
		if !ok && f.Default != nil {
			v = f.Default(r)
			r.values[f.Name] = v
			ok = true
		}
		if !ok || v == nil || v == "" {
			failures = append(failures, FieldError{
				Field:   f.Name,
				Message: fmt.Sprintf("%s is required", f.Name),
			})
			if db.strict {
				return &ValidationError{Errors: failures}
			}
		}
	}

	if r.def.Validate != nil {
		for _, fe := range r.def.Validate(r) {
			failures = append(failures, fe)
			if db.strict {
				return &ValidationError{Errors: failures}
			}
		}
	}

	if len(failures) > 0 {
		return &ValidationError{Errors: failures}
	}
	return nil
}
