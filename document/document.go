// Package document provides the primitive document model shared by the
// mapper and the store drivers: ordered bson documents, a registry of
// per-type codecs, and the custom value types shipped with vellum.
package document

import (
	"go.mongodb.org/mongo-driver/bson"
)

// IDKey is the conventional identifier key, unique per collection and
// written as the first element of a document.
const IDKey = "id"

// Lookup returns the value stored under key, or false if the key is absent.
func Lookup(d bson.D, key string) (any, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Set returns d with key set to value, replacing an existing element in
// place or appending a new one.
func Set(d bson.D, key string, value any) bson.D {
	for i, e := range d {
		if e.Key == key {
			d[i].Value = value
			return d
		}
	}
	return append(d, bson.E{Key: key, Value: value})
}

// Remove returns d without the element stored under key.
func Remove(d bson.D, key string) bson.D {
	for i, e := range d {
		if e.Key == key {
			return append(d[:i], d[i+1:]...)
		}
	}
	return d
}

// Clone deep-copies a document, descending into nested documents and arrays.
func Clone(d bson.D) bson.D {
	if d == nil {
		return nil
	}
	out := make(bson.D, len(d))
	for i, e := range d {
		out[i] = bson.E{Key: e.Key, Value: cloneValue(e.Value)}
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case bson.D:
		return Clone(t)
	case bson.A:
		out := make(bson.A, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// ID returns the document identifier, or false if unset.
func ID(d bson.D) (string, bool) {
	v, ok := Lookup(d, IDKey)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// AsDocument coerces the mapping shapes a caller may hand us (bson.D,
// bson.M, map[string]any) into an ordered document. Map shapes lose their
// original ordering; bson.D passes through untouched.
func AsDocument(v any) (bson.D, bool) {
	switch t := v.(type) {
	case bson.D:
		return t, true
	case bson.M:
		out := make(bson.D, 0, len(t))
		for k, val := range t {
			out = append(out, bson.E{Key: k, Value: val})
		}
		return out, true
	case map[string]any:
		out := make(bson.D, 0, len(t))
		for k, val := range t {
			out = append(out, bson.E{Key: k, Value: val})
		}
		return out, true
	default:
		return nil, false
	}
}

// Number coerces the numeric primitive shapes a document may carry into a
// float64.
func Number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
