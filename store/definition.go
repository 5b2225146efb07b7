package store

import (
	"context"

	"github.com/inkbound/vellum/driver"
)

// Kind enumerates the relationship shapes.
type Kind int

const (
	// EmbedOne nests a single value inside the parent document.
	KindEmbedOne Kind = iota + 1

	// EmbedMany nests an ordered sequence of identity-carrying values
	// inside the parent document.
	KindEmbedMany

	// RefOne stores a foreign key on this definition referring to one
	// target entity. Declared on the side that holds the key.
	KindRefOne

	// RefMany is the parent-side view of a referenced one-to-many: target
	// documents hold a foreign key referring back to this definition.
	// Navigation is a derived query over the target collection.
	KindRefMany

	// ManyToMany stores parallel identifier lists on both sides.
	KindManyToMany
)

// Policy enumerates the cascade policies applied to related entities when
// an entity is destroyed.
type Policy int

const (
	// PolicyOrphan (the unspecified default) removes the parent and leaves
	// referencing children with a stale foreign key. Many-to-many partners
	// are unlinked but retained.
	PolicyOrphan Policy = iota

	// PolicyNullify clears the children's foreign key before the parent is
	// removed. Many-to-many behaves as orphan: partners unlinked, retained.
	PolicyNullify

	// PolicyDestroy loads each related entity and runs its own destroy
	// cascade, observers included, before removing the parent.
	PolicyDestroy

	// PolicyDelete removes referencing children directly, without their
	// cascades or observers. Many-to-many partners are only unlinked.
	PolicyDelete

	// PolicyRestrict aborts the destroy with CascadeRestrictedError when at
	// least one live related entity exists; nothing is mutated.
	PolicyRestrict
)

// Relationship describes one relationship slot on a definition.
type Relationship struct {
	// Kind is the relationship shape.
	Kind Kind

	// Slot is the accessor name; for embedded kinds it is also the document
	// key the value nests under.
	Slot string

	// Target is the related definition. Embedded targets carry no parent
	// type of their own, so one embeddable definition can be mounted under
	// any number of parents.
	Target *Definition

	// ForeignKey names the field holding the reference: on this definition
	// for RefOne and ManyToMany, on Target for RefMany.
	ForeignKey string

	// InverseKey names the identifier-list field on the Target side of a
	// ManyToMany relationship.
	InverseKey string

	// Policy is the cascade policy applied on destroy. The zero value is
	// PolicyOrphan.
	Policy Policy
}

// Field maps one document key to one accessor name.
type Field struct {
	// Name is the accessor name used by application code.
	Name string

	// Key is the raw document key. Defaults to Name. Both Name and Key
	// resolve through Get/Set, so raw queries and aliased accessors never
	// disagree on the current value.
	Key string

	// Codec names a registered codec converting this field's typed value
	// to and from its document-safe primitive. Empty means passthrough.
	Codec string

	// Default lazily computes the field's value: exactly once, on first
	// read or before first persistence, never eagerly at construction.
	Default func(r *Record) any

	// Required makes validation collect an error when the field is unset.
	Required bool
}

func (f *Field) key() string {
	if f.Key == "" {
		return f.Name
	}
	return f.Key
}

// DocumentKey returns the raw key this field occupies in documents.
func (f *Field) DocumentKey() string { return f.key() }

// Observer receives destroy lifecycle notifications. Observers run
// synchronously in registration order: BeforeDestroy ahead of any cascade
// processing, AfterDestroy once the document is removed.
type Observer interface {
	BeforeDestroy(ctx context.Context, r *Record) error
	AfterDestroy(ctx context.Context, r *Record) error
}

// Definition is the static mapping table for one entity type: its
// collection, field table, relationship descriptors and observers.
type Definition struct {
	// Type is the entity type name.
	Type string

	// Collection is the backing collection. Empty marks an embedded-only
	// definition, which has no existence outside a parent document.
	Collection string

	// Fields is the ordered field table.
	Fields []Field

	// Relationships are the relationship descriptors declared on this side.
	Relationships []Relationship

	// IDDefault derives the identifier from other fields. It returns empty
	// while the deriving field is still unset; persisting in that state
	// fails with MissingIdentityError. When nil, unset identifiers are
	// store-generated at first save.
	IDDefault func(r *Record) string

	// Validate contributes custom validation failures, collected alongside
	// required-field checks.
	Validate func(r *Record) []FieldError

	// Indexes are created by DB.EnsureIndexes for this collection.
	Indexes []driver.IndexSpec

	observers []Observer
	byName    map[string]int
	byKey     map[string]int
	bySlot    map[string]int
}

// Embedded reports whether this definition only exists inside parents.
func (d *Definition) Embedded() bool {
	return d.Collection == ""
}

// RegisterObserver appends an observer to the ordered notification list.
func (d *Definition) RegisterObserver(o Observer) {
	d.observers = append(d.observers, o)
}

// Field resolves an accessor name or raw document key through the
// bidirectional table. Integrity tooling uses it to translate declared
// field names into the keys it scans for.
func (d *Definition) Field(nameOrKey string) (*Field, bool) {
	return d.field(nameOrKey)
}

// field resolves an accessor name or raw document key through the
// bidirectional table.
func (d *Definition) field(nameOrKey string) (*Field, bool) {
	d.index()
	if i, ok := d.byName[nameOrKey]; ok {
		return &d.Fields[i], true
	}
	if i, ok := d.byKey[nameOrKey]; ok {
		return &d.Fields[i], true
	}
	return nil, false
}

// relationship resolves a slot name.
func (d *Definition) relationship(slot string) (*Relationship, bool) {
	d.index()
	if i, ok := d.bySlot[slot]; ok {
		return &d.Relationships[i], true
	}
	return nil, false
}

// index builds the lookup maps on first use. Definitions are assembled at
// startup and read-only afterward, matching the single-threaded model.
func (d *Definition) index() {
	if d.byName != nil {
		return
	}
	d.byName = make(map[string]int, len(d.Fields))
	d.byKey = make(map[string]int, len(d.Fields))
	for i := range d.Fields {
		d.byName[d.Fields[i].Name] = i
		d.byKey[d.Fields[i].key()] = i
	}
	d.bySlot = make(map[string]int, len(d.Relationships))
	for i := range d.Relationships {
		d.bySlot[d.Relationships[i].Slot] = i
	}
}

// Registry holds the known definitions, keyed by type name. Integrity
// tooling walks it to visit every collection.
type Registry struct {
	byType  map[string]*Definition
	ordered []*Definition
}

// NewRegistry creates an empty definition registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[string]*Definition)}
}

// Register adds a definition. Later registrations replace earlier ones of
// the same type name.
func (r *Registry) Register(def *Definition) {
	if _, ok := r.byType[def.Type]; !ok {
		r.ordered = append(r.ordered, def)
	}
	r.byType[def.Type] = def
}

// Lookup returns the definition registered under a type name.
func (r *Registry) Lookup(typeName string) (*Definition, bool) {
	def, ok := r.byType[typeName]
	return def, ok
}

// All returns the registered definitions in registration order.
func (r *Registry) All() []*Definition {
	return r.ordered
}
