package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/inkbound/vellum/document"
)

// EmbedOne navigates a single embedded value. The value has no existence
// outside the parent document: it is read and written only as part of it.
type EmbedOne struct {
	rec *Record
	rel *Relationship
}

// EmbedOne returns the navigation proxy for an embed-one slot.
func (r *Record) EmbedOne(slotName string) *EmbedOne {
	return &EmbedOne{rec: r, rel: r.relationshipOrPanic(slotName, KindEmbedOne)}
}

// ensureLoaded decodes the slot from the parent's raw document on first
// access.
func (e *EmbedOne) ensureLoaded() (*slot, error) {
	s := e.rec.slotFor(e.rel.Slot)
	if s.state != stateUnloaded {
		return s, nil
	}
	raw, present := document.Lookup(e.rec.doc, e.rel.Slot)
	if !present || raw == nil {
		s.state = stateAbsent
		return s, nil
	}
	doc, ok := document.AsDocument(raw)
	if !ok {
		return nil, &document.MalformedDocumentError{Field: e.rel.Slot, Expected: "embedded document", Got: raw}
	}
	child, err := e.rec.db.fromEmbedded(e.rel.Target, doc, e.rec, e.rel.Slot)
	if err != nil {
		return nil, err
	}
	s.one = child
	s.state = stateAttached
	return s, nil
}

// Get returns the embedded value, or nil when the slot is absent.
func (e *EmbedOne) Get() (*Record, error) {
	s, err := e.ensureLoaded()
	if err != nil {
		return nil, err
	}
	if s.state == stateBuilt || s.state == stateAttached {
		return s.one, nil
	}
	return nil, nil
}

// HasValue reports whether the slot holds a value. An explicitly created
// hollow embed counts: attached-but-empty is distinct from absent.
func (e *EmbedOne) HasValue() bool {
	s, err := e.ensureLoaded()
	if err != nil {
		return false
	}
	return s.state == stateBuilt || s.state == stateAttached
}

// Build constructs a transient embedded value. It occupies the slot in
// memory but is not written to the parent document until the parent saves.
func (e *EmbedOne) Build(values map[string]any) (*Record, error) {
	child := e.rec.db.New(e.rel.Target)
	child.parent = e.rec
	child.parentSlot = e.rel.Slot
	if err := child.SetFields(values); err != nil {
		return nil, err
	}
	s := e.rec.slotFor(e.rel.Slot)
	s.one = child
	s.state = stateBuilt
	return child, nil
}

// Create builds the value and immediately writes it through to the
// parent's persisted document. The parent must already be persisted.
func (e *EmbedOne) Create(ctx context.Context, values map[string]any) (*Record, error) {
	if !e.rec.persisted {
		return nil, &UnsavedParentError{Type: e.rec.def.Type, Slot: e.rel.Slot}
	}
	child, err := e.Build(values)
	if err != nil {
		return nil, err
	}
	childDoc, err := e.rec.db.ToDocument(child)
	if err != nil {
		return nil, err
	}
	mutation := bson.D{{Key: "$set", Value: bson.D{{Key: e.rel.Slot, Value: childDoc}}}}
	if err := e.rec.db.store.UpdateOne(ctx, e.rec.def.Collection, e.rec.idFilter(), mutation); err != nil {
		return nil, err
	}
	s := e.rec.slotFor(e.rel.Slot)
	s.state = stateAttached
	child.persisted = true
	e.rec.doc = document.Set(e.rec.doc, e.rel.Slot, childDoc)
	return child, nil
}

// Assign replaces the slot in memory only; the parent document is not
// written until the parent entity is explicitly saved. Assign(nil) clears
// the slot.
func (e *EmbedOne) Assign(child *Record) error {
	s := e.rec.slotFor(e.rel.Slot)
	if child == nil {
		s.one = nil
		s.state = stateRemoved
		return nil
	}
	if child.def != e.rel.Target {
		return fmt.Errorf("vellum: %s.%s embeds %s, not %s", e.rec.def.Type, e.rel.Slot, e.rel.Target.Type, child.def.Type)
	}
	child.parent = e.rec
	child.parentSlot = e.rel.Slot
	s.one = child
	s.state = stateAttached
	return nil
}

// EmbedMany navigates an ordered sequence of embedded values, each carrying
// its own identifier, unique within the parent.
type EmbedMany struct {
	rec *Record
	rel *Relationship
}

// EmbedMany returns the navigation proxy for an embed-many slot.
func (r *Record) EmbedMany(slotName string) *EmbedMany {
	return &EmbedMany{rec: r, rel: r.relationshipOrPanic(slotName, KindEmbedMany)}
}

func (e *EmbedMany) ensureLoaded() (*slot, error) {
	s := e.rec.slotFor(e.rel.Slot)
	if s.manyLoaded {
		return s, nil
	}
	s.manyLoaded = true
	raw, present := document.Lookup(e.rec.doc, e.rel.Slot)
	if !present || raw == nil {
		s.state = stateAbsent
		return s, nil
	}
	elems, ok := raw.(bson.A)
	if !ok {
		if anyElems, isSlice := raw.([]any); isSlice {
			elems = bson.A(anyElems)
		} else {
			return nil, &document.MalformedDocumentError{Field: e.rel.Slot, Expected: "array of embedded documents", Got: raw}
		}
	}
	for _, elem := range elems {
		doc, ok := document.AsDocument(elem)
		if !ok {
			return nil, &document.MalformedDocumentError{Field: e.rel.Slot, Expected: "embedded document", Got: elem}
		}
		child, err := e.rec.db.fromEmbedded(e.rel.Target, doc, e.rec, e.rel.Slot)
		if err != nil {
			return nil, err
		}
		s.many = append(s.many, child)
	}
	s.state = stateAttached
	return s, nil
}

// All returns the embedded sequence in document order.
func (e *EmbedMany) All() ([]*Record, error) {
	s, err := e.ensureLoaded()
	if err != nil {
		return nil, err
	}
	return s.many, nil
}

// Count returns the number of embedded elements.
func (e *EmbedMany) Count() (int, error) {
	s, err := e.ensureLoaded()
	if err != nil {
		return 0, err
	}
	return len(s.many), nil
}

// Find returns the element with the given identifier.
func (e *EmbedMany) Find(id string) (*Record, bool) {
	s, err := e.ensureLoaded()
	if err != nil {
		return nil, false
	}
	for _, child := range s.many {
		if child.ID() == id {
			return child, true
		}
	}
	return nil, false
}

// Build constructs an element and stages it in memory; it is written with
// the parent's next save.
func (e *EmbedMany) Build(values map[string]any) (*Record, error) {
	s, err := e.ensureLoaded()
	if err != nil {
		return nil, err
	}
	child := e.rec.db.New(e.rel.Target)
	child.parent = e.rec
	child.parentSlot = e.rel.Slot
	if err := child.SetFields(values); err != nil {
		return nil, err
	}
	if err := e.claimID(s, child); err != nil {
		return nil, err
	}
	s.many = append(s.many, child)
	if s.state != stateAttached {
		s.state = stateBuilt
	}
	return child, nil
}

// Append adds an element to the sequence. On an already-persisted parent
// the addition writes through immediately; on a transient parent it is
// staged for the next save.
func (e *EmbedMany) Append(ctx context.Context, child *Record) error {
	if child.def != e.rel.Target {
		return fmt.Errorf("vellum: %s.%s embeds %s, not %s", e.rec.def.Type, e.rel.Slot, e.rel.Target.Type, child.def.Type)
	}
	s, err := e.ensureLoaded()
	if err != nil {
		return err
	}
	child.parent = e.rec
	child.parentSlot = e.rel.Slot
	if err := e.claimID(s, child); err != nil {
		return err
	}
	s.many = append(s.many, child)
	if s.state != stateAttached {
		s.state = stateBuilt
	}

	if !e.rec.persisted {
		return nil
	}

	childDoc, err := e.rec.db.ToDocument(child)
	if err != nil {
		return err
	}
	mutation := bson.D{{Key: "$push", Value: bson.D{{Key: e.rel.Slot, Value: childDoc}}}}
	if err := e.rec.db.store.UpdateOne(ctx, e.rec.def.Collection, e.rec.idFilter(), mutation); err != nil {
		return err
	}
	child.persisted = true
	s.state = stateAttached
	return nil
}

// claimID gives the element an identifier and enforces uniqueness within
// the parent.
func (e *EmbedMany) claimID(s *slot, child *Record) error {
	if child.ID() == "" {
		child.id = uuid.NewString()
	}
	for _, existing := range s.many {
		if existing.ID() == child.ID() {
			return fmt.Errorf("vellum: %s.%s already holds element %q", e.rec.def.Type, e.rel.Slot, child.ID())
		}
	}
	return nil
}
