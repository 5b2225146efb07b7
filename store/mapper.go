package store

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/inkbound/vellum/document"
)

// ToDocument maps a record to its raw document: identifier first, then the
// field table in declaration order, then embedded slots. Unloaded embed
// slots carry their previously loaded raw value forward untouched.
func (db *DB) ToDocument(r *Record) (bson.D, error) {
	out := bson.D{}
	if r.ID() != "" {
		out = append(out, bson.E{Key: document.IDKey, Value: r.id})
	}

	for i := range r.def.Fields {
		f := &r.def.Fields[i]
		v, present := r.values[f.Name]
		if !present && f.Default != nil {
			v = f.Default(r)
			r.values[f.Name] = v
			present = true
		}
		if !present || v == nil {
			continue
		}
		if f.Codec != "" {
			codec, ok := db.codecs.Lookup(f.Codec)
			if !ok {
				return nil, fmt.Errorf("vellum: %s.%s names unregistered codec %q", r.def.Type, f.Name, f.Codec)
			}
			encoded, err := codec.Encode(v)
			if err != nil {
				return nil, err
			}
			out = append(out, bson.E{Key: f.key(), Value: encoded})
			continue
		}
		out = append(out, bson.E{Key: f.key(), Value: v})
	}

	for i := range r.def.Relationships {
		rel := &r.def.Relationships[i]
		switch rel.Kind {
		case KindEmbedOne:
			e, err := db.embedOneValue(r, rel)
			if err != nil {
				return nil, err
			}
			if e != nil {
				out = append(out, *e)
			}
		case KindEmbedMany:
			e, err := db.embedManyValue(r, rel)
			if err != nil {
				return nil, err
			}
			if e != nil {
				out = append(out, *e)
			}
		}
	}

	return out, nil
}

func (db *DB) embedOneValue(r *Record, rel *Relationship) (*bson.E, error) {
	s, ok := r.slots[rel.Slot]
	if !ok || s.state == stateUnloaded {
		if raw, present := document.Lookup(r.doc, rel.Slot); present {
			return &bson.E{Key: rel.Slot, Value: raw}, nil
		}
		return nil, nil
	}
	switch s.state {
	case stateBuilt, stateAttached:
		childDoc, err := db.ToDocument(s.one)
		if err != nil {
			return nil, err
		}
		return &bson.E{Key: rel.Slot, Value: childDoc}, nil
	default:
		return nil, nil
	}
}

func (db *DB) embedManyValue(r *Record, rel *Relationship) (*bson.E, error) {
	s, ok := r.slots[rel.Slot]
	if !ok || !s.manyLoaded {
		if raw, present := document.Lookup(r.doc, rel.Slot); present {
			return &bson.E{Key: rel.Slot, Value: raw}, nil
		}
		return nil, nil
	}
	if s.state == stateRemoved || (s.state == stateAbsent && len(s.many) == 0) {
		return nil, nil
	}
	elems := make(bson.A, 0, len(s.many))
	for _, child := range s.many {
		childDoc, err := db.ToDocument(child)
		if err != nil {
			return nil, err
		}
		elems = append(elems, childDoc)
	}
	return &bson.E{Key: rel.Slot, Value: elems}, nil
}

// FromDocument maps a raw document to a loaded record. Codec decode
// failures surface as MalformedDocumentError; a corrupt field is never
// replaced with a default.
func (db *DB) FromDocument(def *Definition, doc bson.D) (*Record, error) {
	r := db.New(def)
	r.doc = document.Clone(doc)
	r.persisted = true

	if id, ok := document.ID(doc); ok {
		r.id = id
	}

	for i := range def.Fields {
		f := &def.Fields[i]
		raw, present := document.Lookup(doc, f.key())
		if !present || raw == nil {
			continue
		}
		if f.Codec != "" {
			codec, ok := db.codecs.Lookup(f.Codec)
			if !ok {
				return nil, fmt.Errorf("vellum: %s.%s names unregistered codec %q", def.Type, f.Name, f.Codec)
			}
			typed, err := codec.Decode(raw)
			if err != nil {
				return nil, err
			}
			r.values[f.Name] = typed
			continue
		}
		r.values[f.Name] = raw
	}

	// Relationship slots decode lazily from r.doc on first access.
	return r, nil
}

// fromEmbedded maps an embedded element, wiring the parent back-reference.
func (db *DB) fromEmbedded(def *Definition, doc bson.D, parent *Record, slotName string) (*Record, error) {
	child, err := db.FromDocument(def, doc)
	if err != nil {
		return nil, err
	}
	child.parent = parent
	child.parentSlot = slotName
	child.persisted = parent.persisted
	return child, nil
}
