package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/inkbound/vellum/document"
)

// Criteria builds a store filter from typed predicates and decodes matches
// back into records. A criteria is lazy and restartable: every All, Each,
// First or Count re-executes against current store state.
type Criteria struct {
	db     *DB
	def    *Definition
	filter bson.D
	limit  int
	err    error
}

// Eq adds an equality predicate. Values of codec-backed fields are
// normalized to their primitive form before matching.
func (c *Criteria) Eq(nameOrKey string, value any) *Criteria {
	key, primitive, err := c.predicate(nameOrKey, value)
	if err != nil {
		return c.fail(err)
	}
	c.filter = append(c.filter, bson.E{Key: key, Value: primitive})
	return c
}

// Regex adds a regular-expression predicate over a string field.
func (c *Criteria) Regex(nameOrKey, pattern string) *Criteria {
	key, err := c.key(nameOrKey)
	if err != nil {
		return c.fail(err)
	}
	c.filter = append(c.filter, bson.E{Key: key, Value: bson.D{{Key: "$regex", Value: pattern}}})
	return c
}

// Exists adds a field-existence predicate.
func (c *Criteria) Exists(nameOrKey string, exists bool) *Criteria {
	key, err := c.key(nameOrKey)
	if err != nil {
		return c.fail(err)
	}
	c.filter = append(c.filter, bson.E{Key: key, Value: bson.D{{Key: "$exists", Value: exists}}})
	return c
}

// Near adds a proximity predicate. The field must carry a spatial index.
// Results come back nearest-first; ties fall back to store-native order,
// which is unspecified.
func (c *Criteria) Near(nameOrKey string, point document.GeoPoint, maxDistance ...float64) *Criteria {
	key, err := c.key(nameOrKey)
	if err != nil {
		return c.fail(err)
	}
	cond := bson.D{{Key: "$near", Value: bson.A{point.Longitude, point.Latitude}}}
	if len(maxDistance) > 0 {
		cond = append(cond, bson.E{Key: "$maxDistance", Value: maxDistance[0]})
	}
	c.filter = append(c.filter, bson.E{Key: key, Value: cond})
	return c
}

// Limit truncates the result sequence after decoding.
func (c *Criteria) Limit(n int) *Criteria {
	c.limit = n
	return c
}

// Filter exposes the built store filter for collaborators issuing raw
// queries through the driver.
func (c *Criteria) Filter() bson.D {
	return c.filter
}

// All executes the query and decodes every match.
func (c *Criteria) All(ctx context.Context) ([]*Record, error) {
	if c.err != nil {
		return nil, c.err
	}
	docs, err := c.db.store.FindMany(ctx, c.def.Collection, c.filter)
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(docs))
	for _, doc := range docs {
		rec, err := c.db.FromDocument(c.def, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
		if c.limit > 0 && len(out) == c.limit {
			break
		}
	}
	return out, nil
}

// Each executes the query and visits matches in order until fn errors or
// the sequence ends. A second Each re-queries.
func (c *Criteria) Each(ctx context.Context, fn func(*Record) error) error {
	records, err := c.All(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// First executes the query and returns the first match, or
// driver.ErrNotFound.
func (c *Criteria) First(ctx context.Context) (*Record, error) {
	if c.err != nil {
		return nil, c.err
	}
	doc, err := c.db.store.FindOne(ctx, c.def.Collection, c.filter)
	if err != nil {
		return nil, err
	}
	return c.db.FromDocument(c.def, doc)
}

// Count executes a count over the current filter.
func (c *Criteria) Count(ctx context.Context) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	return c.db.store.Count(ctx, c.def.Collection, c.filter)
}

func (c *Criteria) fail(err error) *Criteria {
	if c.err == nil {
		c.err = err
	}
	return c
}

// key resolves a field through the alias table; the identifier passes
// through untranslated.
func (c *Criteria) key(nameOrKey string) (string, error) {
	if nameOrKey == document.IDKey {
		return document.IDKey, nil
	}
	f, ok := c.def.field(nameOrKey)
	if !ok {
		return "", fmt.Errorf("%w: %s.%s", ErrUnknownField, c.def.Type, nameOrKey)
	}
	return f.key(), nil
}

// predicate resolves the field and normalizes the comparison value.
func (c *Criteria) predicate(nameOrKey string, value any) (string, any, error) {
	if nameOrKey == document.IDKey {
		return document.IDKey, value, nil
	}
	f, ok := c.def.field(nameOrKey)
	if !ok {
		return "", nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, c.def.Type, nameOrKey)
	}
	if f.Codec != "" {
		codec, ok := c.db.codecs.Lookup(f.Codec)
		if !ok {
			return "", nil, fmt.Errorf("vellum: %s.%s names unregistered codec %q", c.def.Type, f.Name, f.Codec)
		}
		primitive, err := codec.Normalize(value)
		if err != nil {
			return "", nil, err
		}
		return f.key(), primitive, nil
	}
	return f.key(), value, nil
}
