package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/inkbound/vellum/document"
)

// ManyToMany navigates a symmetric relationship where both sides store an
// ordered set of the other side's identifiers.
//
// Append and Remove keep both sides' in-memory lists consistent; saving
// either side writes through both foreign-key collections. The store has no
// multi-document atomicity, so a fault between the two writes can leave a
// one-sided reference. The resolver does not repair that automatically.
type ManyToMany struct {
	rec *Record
	rel *Relationship
}

// ManyToMany returns the navigation proxy for a many-to-many slot.
func (r *Record) ManyToMany(slotName string) *ManyToMany {
	return &ManyToMany{rec: r, rel: r.relationshipOrPanic(slotName, KindManyToMany)}
}

// IDs returns this side's identifier list.
func (m *ManyToMany) IDs() []string {
	return m.rec.stringList(m.rel.ForeignKey)
}

// Contains reports whether the relationship currently holds other's id.
func (m *ManyToMany) Contains(other *Record) bool {
	id := other.ID()
	for _, existing := range m.IDs() {
		if existing == id {
			return true
		}
	}
	return false
}

// Append links both sides in memory and stages the write-through of both
// identifier lists for the next save of either side. Appending an already
// linked partner is a no-op.
func (m *ManyToMany) Append(other *Record) error {
	if err := m.checkPartner(other); err != nil {
		return err
	}
	if err := m.rec.ensureID(); err != nil {
		return err
	}
	if err := other.ensureID(); err != nil {
		return err
	}
	if m.Contains(other) {
		return nil
	}

	if err := m.rec.Set(m.rel.ForeignKey, append(m.IDs(), other.ID())); err != nil {
		return err
	}
	inverse, err := m.inverseOn(other)
	if err != nil {
		return err
	}
	if err := other.Set(inverse, append(other.stringList(inverse), m.rec.ID())); err != nil {
		return err
	}

	s := m.rec.slotFor(m.rel.Slot)
	s.pendingAdds = append(s.pendingAdds, other)
	return nil
}

// Remove unlinks both sides in memory and stages the symmetric pull of
// both identifier lists for the next save of this side.
func (m *ManyToMany) Remove(other *Record) error {
	if err := m.checkPartner(other); err != nil {
		return err
	}
	id := other.ID()

	if err := m.rec.Set(m.rel.ForeignKey, withoutID(m.IDs(), id)); err != nil {
		return err
	}
	inverse, err := m.inverseOn(other)
	if err != nil {
		return err
	}
	if err := other.Set(inverse, withoutID(other.stringList(inverse), m.rec.ID())); err != nil {
		return err
	}

	s := m.rec.slotFor(m.rel.Slot)
	s.pendingRemoves = append(s.pendingRemoves, id)
	s.pendingAdds = withoutRecord(s.pendingAdds, id)
	return nil
}

// All fetches the partner entities for the current identifier list.
func (m *ManyToMany) All(ctx context.Context) ([]*Record, error) {
	ids := m.IDs()
	if len(ids) == 0 {
		return nil, nil
	}
	filter := bson.D{{Key: document.IDKey, Value: bson.D{{Key: "$in", Value: ids}}}}
	docs, err := m.rec.db.store.FindMany(ctx, m.rel.Target.Collection, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(docs))
	for _, doc := range docs {
		rec, err := m.rec.db.FromDocument(m.rel.Target, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Count counts live partners in the store.
func (m *ManyToMany) Count(ctx context.Context) (int64, error) {
	ids := m.IDs()
	if len(ids) == 0 {
		return 0, nil
	}
	filter := bson.D{{Key: document.IDKey, Value: bson.D{{Key: "$in", Value: ids}}}}
	return m.rec.db.store.Count(ctx, m.rel.Target.Collection, filter)
}

func (m *ManyToMany) checkPartner(other *Record) error {
	if other.def != m.rel.Target {
		return fmt.Errorf("vellum: %s.%s partners with %s, not %s", m.rec.def.Type, m.rel.Slot, m.rel.Target.Type, other.def.Type)
	}
	return nil
}

func (m *ManyToMany) inverseOn(other *Record) (string, error) {
	if _, ok := other.def.field(m.rel.InverseKey); !ok {
		return "", fmt.Errorf("%w: %s.%s", ErrUnknownField, other.def.Type, m.rel.InverseKey)
	}
	return m.rel.InverseKey, nil
}

func withoutID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

func withoutRecord(recs []*Record, id string) []*Record {
	out := make([]*Record, 0, len(recs))
	for _, rec := range recs {
		if rec.ID() != id {
			out = append(out, rec)
		}
	}
	return out
}
