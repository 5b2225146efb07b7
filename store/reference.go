package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/inkbound/vellum/document"
	"github.com/inkbound/vellum/driver"
)

// RefOne navigates a referenced relationship from the side holding the
// foreign key. The referenced entity is unaware of the relationship; there
// is no reverse navigation unless the caller models one as a derived query.
type RefOne struct {
	rec *Record
	rel *Relationship
}

// RefOne returns the navigation proxy for a ref-one slot.
func (r *Record) RefOne(slotName string) *RefOne {
	return &RefOne{rec: r, rel: r.relationshipOrPanic(slotName, KindRefOne)}
}

// Assign sets the in-memory reference and stages the foreign-key write for
// this record's next save (not the target's). Assign(nil) clears the key.
func (a *RefOne) Assign(target *Record) error {
	s := a.rec.slotFor(a.rel.Slot)
	if target == nil {
		if err := a.rec.Set(a.rel.ForeignKey, nil); err != nil {
			return err
		}
		s.one = nil
		s.refCached = false
		return nil
	}
	if target.def != a.rel.Target {
		return fmt.Errorf("vellum: %s.%s references %s, not %s", a.rec.def.Type, a.rel.Slot, a.rel.Target.Type, target.def.Type)
	}
	if err := target.ensureID(); err != nil {
		return err
	}
	if err := a.rec.Set(a.rel.ForeignKey, target.ID()); err != nil {
		return err
	}
	s.one = target
	s.refCached = true
	return nil
}

// Get resolves the reference. An unset foreign key returns nil without a
// query; a set key costs exactly one query against the target collection,
// memoized until the reference changes.
func (a *RefOne) Get(ctx context.Context) (*Record, error) {
	s := a.rec.slotFor(a.rel.Slot)
	if s.refCached {
		return s.one, nil
	}
	fk, err := a.rec.Get(a.rel.ForeignKey)
	if err != nil {
		return nil, err
	}
	id, _ := fk.(string)
	if id == "" {
		return nil, nil
	}
	target, err := a.rec.db.Load(ctx, a.rel.Target, id)
	if err != nil {
		return nil, err
	}
	s.one = target
	s.refCached = true
	return target, nil
}

// RefMany is the parent-side derived query over children holding this
// record's identifier in their foreign-key field.
type RefMany struct {
	rec *Record
	rel *Relationship
}

// RefMany returns the navigation proxy for a ref-many slot.
func (r *Record) RefMany(slotName string) *RefMany {
	return &RefMany{rec: r, rel: r.relationshipOrPanic(slotName, KindRefMany)}
}

// Criteria returns the derived query: child documents whose foreign key
// equals this record's identifier.
func (m *RefMany) Criteria() *Criteria {
	return m.rec.db.Find(m.rel.Target).Eq(m.rel.ForeignKey, m.rec.ID())
}

// All fetches the current children.
func (m *RefMany) All(ctx context.Context) ([]*Record, error) {
	return m.Criteria().All(ctx)
}

// Count counts the current children.
func (m *RefMany) Count(ctx context.Context) (int64, error) {
	return m.Criteria().Count(ctx)
}

// FindEmbedded locates an embedded element by identifier across a host
// collection, returning the element and its host.
//
// There is no native one-to-many index over embedded values, so this is a
// two-step operation: query the host collection for documents containing an
// element with the identifier, then extract the element from the host in
// memory. Cost is O(matching hosts); a denormalized index collaborator is
// the only way around that.
func (db *DB) FindEmbedded(ctx context.Context, host *Definition, slotName, elementID string) (*Record, *Record, error) {
	hosts, err := db.FindEmbeddedHosts(ctx, host, slotName, elementID)
	if err != nil {
		return nil, nil, err
	}
	if len(hosts) == 0 {
		return nil, nil, driver.ErrNotFound
	}
	for _, h := range hosts {
		if child, ok := h.EmbedMany(slotName).Find(elementID); ok {
			return child, h, nil
		}
	}
	return nil, nil, driver.ErrNotFound
}

// FindEmbeddedHosts returns every host document containing an embedded
// element with the identifier. First step of the two-step navigation.
func (db *DB) FindEmbeddedHosts(ctx context.Context, host *Definition, slotName, elementID string) ([]*Record, error) {
	rel, ok := host.relationship(slotName)
	if !ok || rel.Kind != KindEmbedMany {
		return nil, fmt.Errorf("vellum: %s has no embed-many slot %q", host.Type, slotName)
	}
	filter := bson.D{{
		Key: rel.Slot,
		Value: bson.D{{
			Key:   "$elemMatch",
			Value: bson.D{{Key: document.IDKey, Value: elementID}},
		}},
	}}
	docs, err := db.store.FindMany(ctx, host.Collection, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(docs))
	for _, doc := range docs {
		rec, err := db.FromDocument(host, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
