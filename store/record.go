package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/inkbound/vellum/document"
)

// slotState tracks one relationship slot on a loaded record.
type slotState int

const (
	stateUnloaded slotState = iota
	stateBuilt
	stateAttached
	stateAbsent
	stateRemoved
)

type slot struct {
	state slotState

	// one holds the embed-one value or the memoized ref-one target.
	one *Record

	// many holds embed-many elements once loaded.
	many       []*Record
	manyLoaded bool

	refCached bool

	// staged many-to-many link writes, flushed at save.
	pendingAdds    []*Record
	pendingRemoves []string
}

// Record is a typed entity instance: an identifier, field values keyed by
// accessor name, and relationship slots. In-memory mutations are not
// visible to storage until an explicit Save.
type Record struct {
	def *Definition
	db  *DB

	id        string
	values    map[string]any
	doc       bson.D
	persisted bool

	parent     *Record
	parentSlot string

	slots map[string]*slot
}

// Definition returns the record's entity definition.
func (r *Record) Definition() *Definition { return r.def }

// Persisted reports whether the record has been written to its collection.
func (r *Record) Persisted() bool { return r.persisted }

// Parent returns the owning record of an embedded value, or nil. The
// back-reference is lookup only; the parent is not owned by the child.
func (r *Record) Parent() *Record { return r.parent }

// ID returns the identifier. A derived identifier is computed lazily,
// exactly once, on first read; it stays empty while the deriving field is
// unset.
func (r *Record) ID() string {
	if r.id == "" && r.def.IDDefault != nil {
		r.id = r.def.IDDefault(r)
	}
	return r.id
}

// SetID assigns a user-chosen identifier.
func (r *Record) SetID(id string) { r.id = id }

// ensureID resolves the identifier ahead of a reference or persistence.
// Without a derivation rule, unset identifiers are store-generated.
func (r *Record) ensureID() error {
	if r.ID() != "" {
		return nil
	}
	if r.def.IDDefault != nil {
		return &MissingIdentityError{Type: r.def.Type}
	}
	r.id = uuid.NewString()
	return nil
}

// Get reads a field by accessor name or raw document key. A lazy default
// is computed on first read.
func (r *Record) Get(nameOrKey string) (any, error) {
	f, ok := r.def.field(nameOrKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, r.def.Type, nameOrKey)
	}
	if v, ok := r.values[f.Name]; ok {
		return v, nil
	}
	if f.Default != nil {
		v := f.Default(r)
		r.values[f.Name] = v
		return v, nil
	}
	return nil, nil
}

// Set writes a field by accessor name or raw document key. Values of
// codec-backed fields converge to the codec's canonical typed form at
// construction time, whatever shape they arrive in. Setting nil clears the
// field.
func (r *Record) Set(nameOrKey string, v any) error {
	f, ok := r.def.field(nameOrKey)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, r.def.Type, nameOrKey)
	}
	if v == nil {
		delete(r.values, f.Name)
		return nil
	}
	if f.Codec != "" {
		codec, ok := r.db.codecs.Lookup(f.Codec)
		if !ok {
			return fmt.Errorf("vellum: %s.%s names unregistered codec %q", r.def.Type, f.Name, f.Codec)
		}
		primitive, err := codec.Normalize(v)
		if err != nil {
			return err
		}
		typed, err := codec.Decode(primitive)
		if err != nil {
			return err
		}
		r.values[f.Name] = typed
		return nil
	}
	r.values[f.Name] = v
	return nil
}

// SetFields applies several Set calls, failing on the first bad field.
func (r *Record) SetFields(values map[string]any) error {
	for name, v := range values {
		if err := r.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

// Save validates the record and writes it to its collection: an insert on
// first save, a full-field update afterward. Staged relationship writes
// (embeds, many-to-many links) flush here.
func (r *Record) Save(ctx context.Context) error {
	if r.def.Embedded() {
		return ErrEmbeddedLifecycle
	}
	if err := r.db.validate(r); err != nil {
		return err
	}
	if err := r.ensureID(); err != nil {
		return err
	}

	doc, err := r.db.ToDocument(r)
	if err != nil {
		return err
	}

	if !r.persisted {
		if err := r.db.store.Insert(ctx, r.def.Collection, doc); err != nil {
			return err
		}
	} else {
		mutation, err := r.updateMutation(doc)
		if err != nil {
			return err
		}
		if err := r.db.store.UpdateOne(ctx, r.def.Collection, r.idFilter(), mutation); err != nil {
			return err
		}
	}

	r.persisted = true
	r.doc = doc
	r.settleSlots()

	if err := r.flushLinks(ctx); err != nil {
		return err
	}
	return nil
}

// updateMutation turns the freshly mapped document into a $set over every
// non-identifier key, plus $unset for mapped keys the previous document
// carried and the new one dropped (cleared fields, removed embed slots).
// Keys outside the mapping table are left alone.
func (r *Record) updateMutation(doc bson.D) (bson.D, error) {
	set := bson.D{}
	for _, e := range doc {
		if e.Key == document.IDKey {
			continue
		}
		set = append(set, e)
	}
	mutation := bson.D{{Key: "$set", Value: set}}

	unset := bson.D{}
	for _, e := range r.doc {
		if e.Key == document.IDKey {
			continue
		}
		if _, present := document.Lookup(doc, e.Key); present {
			continue
		}
		if _, ok := r.def.field(e.Key); ok {
			unset = append(unset, bson.E{Key: e.Key, Value: ""})
			continue
		}
		if rel, ok := r.def.relationship(e.Key); ok && (rel.Kind == KindEmbedOne || rel.Kind == KindEmbedMany) {
			unset = append(unset, bson.E{Key: e.Key, Value: ""})
		}
	}
	if len(unset) > 0 {
		mutation = append(mutation, bson.E{Key: "$unset", Value: unset})
	}
	return mutation, nil
}

// settleSlots moves staged embeds to attached and cleared slots to absent
// after a successful save.
func (r *Record) settleSlots() {
	for _, s := range r.slots {
		switch s.state {
		case stateBuilt:
			s.state = stateAttached
		case stateRemoved:
			s.state = stateAbsent
			s.one = nil
			s.many = nil
		}
	}
	for _, s := range r.slots {
		for _, child := range s.many {
			child.persisted = true
		}
		if s.one != nil && s.state == stateAttached {
			s.one.persisted = true
		}
	}
}

// flushLinks writes through the other side of staged many-to-many
// mutations. The two sides are separate documents and the store offers no
// multi-document atomicity: a fault between this record's write and the
// partner write leaves a one-sided reference. That gap is accepted here
// and left to the repair collaborator.
func (r *Record) flushLinks(ctx context.Context) error {
	for slotName, s := range r.slots {
		rel, ok := r.def.relationship(slotName)
		if !ok || rel.Kind != KindManyToMany {
			continue
		}
		inverseKey, err := fieldKey(rel.Target, rel.InverseKey)
		if err != nil {
			return err
		}
		for _, partner := range s.pendingAdds {
			if !partner.persisted {
				// The partner's own save writes its full list.
				continue
			}
			mutation := bson.D{{Key: "$addToSet", Value: bson.D{{Key: inverseKey, Value: r.id}}}}
			if err := r.db.store.UpdateOne(ctx, rel.Target.Collection, idFilterFor(partner.id), mutation); err != nil {
				return err
			}
		}
		for _, partnerID := range s.pendingRemoves {
			mutation := bson.D{{Key: "$pull", Value: bson.D{{Key: inverseKey, Value: r.id}}}}
			if err := r.db.store.UpdateOne(ctx, rel.Target.Collection, idFilterFor(partnerID), mutation); err != nil {
				return err
			}
		}
		s.pendingAdds = nil
		s.pendingRemoves = nil
	}
	return nil
}

// Delete removes the document directly: no cascade policy, no observers.
func (r *Record) Delete(ctx context.Context) error {
	if r.def.Embedded() {
		return ErrEmbeddedLifecycle
	}
	if err := r.db.store.DeleteOne(ctx, r.def.Collection, r.idFilter()); err != nil {
		return err
	}
	r.db.logger.Debug("deleted entity",
		zap.String("type", r.def.Type),
		zap.String("id", r.id),
	)
	r.persisted = false
	return nil
}

func (r *Record) idFilter() bson.D {
	return idFilterFor(r.id)
}

func idFilterFor(id string) bson.D {
	return bson.D{{Key: document.IDKey, Value: id}}
}

// slotFor returns the state holder for a relationship slot.
func (r *Record) slotFor(name string) *slot {
	s, ok := r.slots[name]
	if !ok {
		s = &slot{}
		r.slots[name] = s
	}
	return s
}

// relationshipOrPanic resolves a slot and checks its kind. Definitions are
// static program structure, so a mismatch is a programmer error.
func (r *Record) relationshipOrPanic(slotName string, kind Kind) *Relationship {
	rel, ok := r.def.relationship(slotName)
	if !ok {
		panic(fmt.Sprintf("vellum: %s has no relationship slot %q", r.def.Type, slotName))
	}
	if rel.Kind != kind {
		panic(fmt.Sprintf("vellum: %s.%s is not the requested relationship kind", r.def.Type, slotName))
	}
	return rel
}

// fieldKey resolves a field name on def to its raw document key.
func fieldKey(def *Definition, name string) (string, error) {
	f, ok := def.field(name)
	if !ok {
		return "", fmt.Errorf("%w: %s.%s", ErrUnknownField, def.Type, name)
	}
	return f.key(), nil
}

// stringList reads a field value as a list of identifiers.
func (r *Record) stringList(name string) []string {
	v, ok := r.values[name]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case []string:
		return t
	case bson.A:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
