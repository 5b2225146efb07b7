package memdriver

import (
	"fmt"
	"math"
	"regexp"
	"sort"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/inkbound/vellum/document"
	"github.com/inkbound/vellum/driver"
)

// matchFilter evaluates the supported filter vocabulary against a document:
// direct equality plus the $regex, $exists, $in and $elemMatch operators.
// $near is handled by the query path, not here.
func matchFilter(doc bson.D, filter bson.D) (bool, error) {
	for _, cond := range filter {
		ok, err := matchCondition(doc, cond.Key, cond.Value)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchCondition(doc bson.D, key string, cond any) (bool, error) {
	value, present := document.Lookup(doc, key)

	ops, isOps := operatorDoc(cond)
	if !isOps {
		return present && valueEq(value, cond), nil
	}

	for _, op := range ops {
		switch op.Key {
		case "$exists":
			want, _ := op.Value.(bool)
			if present != want {
				return false, nil
			}
		case "$regex":
			pattern, ok := op.Value.(string)
			if !ok {
				return false, fmt.Errorf("%w: $regex wants a string pattern", driver.ErrUnsupportedFilter)
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return false, err
			}
			s, ok := value.(string)
			if !present || !ok || !re.MatchString(s) {
				return false, nil
			}
		case "$in":
			candidates, ok := asArray(op.Value)
			if !ok {
				return false, fmt.Errorf("%w: $in wants an array", driver.ErrUnsupportedFilter)
			}
			if !present || !containsValue(candidates, value) {
				return false, nil
			}
		case "$elemMatch":
			sub, ok := op.Value.(bson.D)
			if !ok {
				if sub, ok = mustDoc(op.Value); !ok {
					return false, fmt.Errorf("%w: $elemMatch wants a document", driver.ErrUnsupportedFilter)
				}
			}
			elems, ok := asArray(value)
			if !present || !ok {
				return false, nil
			}
			matched := false
			for _, elem := range elems {
				elemDoc, ok := mustDoc(elem)
				if !ok {
					continue
				}
				hit, err := matchFilter(elemDoc, sub)
				if err != nil {
					return false, err
				}
				if hit {
					matched = true
					break
				}
			}
			if !matched {
				return false, nil
			}
		default:
			return false, fmt.Errorf("%w: operator %s", driver.ErrUnsupportedFilter, op.Key)
		}
	}
	return true, nil
}

// operatorDoc reports whether cond is an operator document ({$op: ...}).
func operatorDoc(cond any) (bson.D, bool) {
	doc, ok := mustDoc(cond)
	if !ok || len(doc) == 0 {
		return nil, false
	}
	for _, e := range doc {
		if len(e.Key) == 0 || e.Key[0] != '$' {
			return nil, false
		}
	}
	return doc, true
}

func mustDoc(v any) (bson.D, bool) {
	return document.AsDocument(v)
}

func asArray(v any) ([]any, bool) {
	switch t := v.(type) {
	case bson.A:
		return []any(t), true
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func containsValue(candidates []any, v any) bool {
	for _, c := range candidates {
		if valueEq(v, c) {
			return true
		}
	}
	return false
}

// valueEq compares primitives with numeric coercion and structural
// comparison of nested documents and arrays.
func valueEq(a, b any) bool {
	if an, ok := document.Number(a); ok {
		if bn, ok := document.Number(b); ok {
			return an == bn
		}
		return false
	}
	if ad, ok := mustDoc(a); ok {
		bd, ok := mustDoc(b)
		if !ok || len(ad) != len(bd) {
			return false
		}
		for _, e := range ad {
			bv, present := document.Lookup(bd, e.Key)
			if !present || !valueEq(e.Value, bv) {
				return false
			}
		}
		return true
	}
	if aa, ok := asArray(a); ok {
		ba, ok := asArray(b)
		if !ok || len(aa) != len(ba) {
			return false
		}
		for i := range aa {
			if !valueEq(aa[i], ba[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}

// nearClause is a $near condition lifted out of a filter.
type nearClause struct {
	key         string
	lng, lat    float64
	maxDistance float64 // negative when unbounded
}

// splitNear extracts at most one $near clause from filter, returning the
// clause (nil if absent) and the remaining conditions.
func splitNear(filter bson.D) (*nearClause, bson.D, error) {
	var near *nearClause
	rest := make(bson.D, 0, len(filter))

	for _, cond := range filter {
		ops, isOps := operatorDoc(cond.Value)
		if !isOps {
			rest = append(rest, cond)
			continue
		}
		point, hasNear := document.Lookup(ops, "$near")
		if !hasNear {
			rest = append(rest, cond)
			continue
		}
		pair, ok := asArray(point)
		if !ok || len(pair) != 2 {
			return nil, nil, fmt.Errorf("%w: $near wants a [longitude, latitude] pair", driver.ErrUnsupportedFilter)
		}
		lng, okLng := document.Number(pair[0])
		lat, okLat := document.Number(pair[1])
		if !okLng || !okLat {
			return nil, nil, fmt.Errorf("%w: $near wants numeric coordinates", driver.ErrUnsupportedFilter)
		}
		clause := &nearClause{key: cond.Key, lng: lng, lat: lat, maxDistance: -1}
		if raw, ok := document.Lookup(ops, "$maxDistance"); ok {
			d, ok := document.Number(raw)
			if !ok {
				return nil, nil, fmt.Errorf("%w: $maxDistance wants a number", driver.ErrUnsupportedFilter)
			}
			clause.maxDistance = d
		}
		near = clause
	}
	return near, rest, nil
}

// distanceTo computes the planar distance from the clause point to the
// indexed field of doc. Returns false when the field is absent or malformed.
func (n *nearClause) distanceTo(doc bson.D) (float64, bool) {
	raw, ok := document.Lookup(doc, n.key)
	if !ok {
		return 0, false
	}
	pair, ok := asArray(raw)
	if !ok || len(pair) != 2 {
		return 0, false
	}
	lng, okLng := document.Number(pair[0])
	lat, okLat := document.Number(pair[1])
	if !okLng || !okLat {
		return 0, false
	}
	return math.Hypot(lng-n.lng, lat-n.lat), true
}

// sortByDistance orders docs nearest-first. Ties keep their existing
// (store-native) order; callers must not rely on tie ordering.
func sortByDistance(docs []bson.D, distances []float64) {
	idx := make([]int, len(docs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return distances[idx[a]] < distances[idx[b]]
	})
	sortedDocs := make([]bson.D, len(docs))
	for i, j := range idx {
		sortedDocs[i] = docs[j]
	}
	copy(docs, sortedDocs)
}

// applyMutation applies the supported mutation vocabulary ($set, $unset,
// $push, $addToSet, $pull) to a copy of doc.
func applyMutation(doc bson.D, mutation bson.D) (bson.D, error) {
	out := document.Clone(doc)
	for _, op := range mutation {
		fields, ok := mustDoc(op.Value)
		if !ok {
			return nil, fmt.Errorf("%w: mutation %s wants a document", driver.ErrUnsupportedFilter, op.Key)
		}
		switch op.Key {
		case "$set":
			for _, f := range fields {
				out = document.Set(out, f.Key, f.Value)
			}
		case "$unset":
			for _, f := range fields {
				out = document.Remove(out, f.Key)
			}
		case "$push":
			for _, f := range fields {
				current, _ := document.Lookup(out, f.Key)
				arr, _ := asArray(current)
				out = document.Set(out, f.Key, bson.A(append(arr, f.Value)))
			}
		case "$addToSet":
			for _, f := range fields {
				current, _ := document.Lookup(out, f.Key)
				arr, _ := asArray(current)
				if containsValue(arr, f.Value) {
					continue
				}
				out = document.Set(out, f.Key, bson.A(append(arr, f.Value)))
			}
		case "$pull":
			for _, f := range fields {
				current, present := document.Lookup(out, f.Key)
				if !present {
					continue
				}
				arr, ok := asArray(current)
				if !ok {
					continue
				}
				kept := make(bson.A, 0, len(arr))
				for _, elem := range arr {
					if !valueEq(elem, f.Value) {
						kept = append(kept, elem)
					}
				}
				out = document.Set(out, f.Key, kept)
			}
		default:
			return nil, fmt.Errorf("%w: mutation %s", driver.ErrUnsupportedFilter, op.Key)
		}
	}
	return out, nil
}
