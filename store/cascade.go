package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/inkbound/vellum/document"
	"github.com/inkbound/vellum/driver"
)

// Destroy removes the entity with full cascade semantics, in order:
// before-destroy observers, child/partner processing per each
// relationship's policy, removal of this document, after-destroy
// observers.
//
// The steps span multiple documents with no transaction around them; a
// fault mid-cascade leaves partial completion observable in the store.
func (r *Record) Destroy(ctx context.Context) error {
	if r.def.Embedded() {
		return ErrEmbeddedLifecycle
	}
	return r.destroy(ctx, make(map[string]bool))
}

// destroy runs one node of the cascade walk. seen breaks cycles between
// mutually destroying entities.
func (r *Record) destroy(ctx context.Context, seen map[string]bool) error {
	key := r.def.Type + "#" + r.ID()
	if seen[key] {
		return nil
	}
	seen[key] = true

	for _, o := range r.def.observers {
		if err := o.BeforeDestroy(ctx, r); err != nil {
			return err
		}
	}

	// Restrict checks run before any removal; a hit aborts the whole
	// destroy with nothing mutated.
	for i := range r.def.Relationships {
		rel := &r.def.Relationships[i]
		if rel.Policy != PolicyRestrict {
			continue
		}
		n, err := r.relatedCount(ctx, rel)
		if err != nil {
			return err
		}
		if n > 0 {
			return &CascadeRestrictedError{Type: r.def.Type, Slot: rel.Slot, Count: n}
		}
	}

	for i := range r.def.Relationships {
		rel := &r.def.Relationships[i]
		switch rel.Kind {
		case KindRefMany:
			if err := r.cascadeChildren(ctx, rel, seen); err != nil {
				return err
			}
		case KindManyToMany:
			if err := r.cascadePartners(ctx, rel, seen); err != nil {
				return err
			}
		default:
			// Embedded values die with the parent document; ref-one is
			// declared on the key-holding side and cascades nothing.
		}
	}

	if err := r.db.store.DeleteOne(ctx, r.def.Collection, r.idFilter()); err != nil {
		return err
	}
	r.persisted = false

	r.db.logger.Debug("destroyed entity",
		zap.String("type", r.def.Type),
		zap.String("id", r.id),
	)

	for _, o := range r.def.observers {
		if err := o.AfterDestroy(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// relatedCount counts live related entities for restrict checks.
func (r *Record) relatedCount(ctx context.Context, rel *Relationship) (int64, error) {
	switch rel.Kind {
	case KindRefMany:
		fk, err := fieldKey(rel.Target, rel.ForeignKey)
		if err != nil {
			return 0, err
		}
		return r.db.store.Count(ctx, rel.Target.Collection, bson.D{{Key: fk, Value: r.ID()}})
	case KindManyToMany:
		ids := r.stringList(rel.ForeignKey)
		if len(ids) == 0 {
			return 0, nil
		}
		filter := bson.D{{Key: document.IDKey, Value: bson.D{{Key: "$in", Value: ids}}}}
		return r.db.store.Count(ctx, rel.Target.Collection, filter)
	default:
		return 0, nil
	}
}

// cascadeChildren applies a policy to referenced children: documents in
// the target collection holding this record's identifier in their
// foreign-key field.
//
// A self-referential relationship (a predecessor/successor chain) walks
// one additional level outward: the node, then the node-of-the-node.
// A singly-linked chain has no reverse index, so the second level must be
// fetched through the first before the first is mutated.
func (r *Record) cascadeChildren(ctx context.Context, rel *Relationship, seen map[string]bool) error {
	fk, err := fieldKey(rel.Target, rel.ForeignKey)
	if err != nil {
		return err
	}

	switch rel.Policy {
	case PolicyOrphan:
		// Children keep their now-stale foreign key.
		return nil

	case PolicyNullify:
		childIDs, err := r.childIDs(ctx, rel, fk, r.ID())
		if err != nil {
			return err
		}
		if err := r.nullifyChildren(ctx, rel, fk, childIDs); err != nil {
			return err
		}
		if rel.Target == r.def {
			for _, childID := range childIDs {
				grandIDs, err := r.childIDs(ctx, rel, fk, childID)
				if err != nil {
					return err
				}
				if err := r.nullifyChildren(ctx, rel, fk, grandIDs); err != nil {
					return err
				}
			}
		}
		return nil

	case PolicyDelete:
		var grandIDs []string
		if rel.Target == r.def {
			childIDs, err := r.childIDs(ctx, rel, fk, r.ID())
			if err != nil {
				return err
			}
			for _, childID := range childIDs {
				ids, err := r.childIDs(ctx, rel, fk, childID)
				if err != nil {
					return err
				}
				grandIDs = append(grandIDs, ids...)
			}
		}
		removed, err := r.db.store.DeleteMany(ctx, rel.Target.Collection, bson.D{{Key: fk, Value: r.ID()}})
		if err != nil {
			return err
		}
		for _, grandID := range grandIDs {
			if err := r.db.store.DeleteOne(ctx, rel.Target.Collection, idFilterFor(grandID)); err != nil {
				return err
			}
		}
		r.db.logger.Debug("cascade delete removed children",
			zap.String("type", r.def.Type),
			zap.String("slot", rel.Slot),
			zap.Int64("removed", removed+int64(len(grandIDs))),
		)
		return nil

	case PolicyDestroy:
		docs, err := r.db.store.FindMany(ctx, rel.Target.Collection, bson.D{{Key: fk, Value: r.ID()}})
		if err != nil {
			return err
		}
		for _, doc := range docs {
			child, err := r.db.FromDocument(rel.Target, doc)
			if err != nil {
				return err
			}
			if err := child.destroy(ctx, seen); err != nil {
				return err
			}
		}
		return nil

	default:
		return nil
	}
}

func (r *Record) childIDs(ctx context.Context, rel *Relationship, fk, parentID string) ([]string, error) {
	docs, err := r.db.store.FindMany(ctx, rel.Target.Collection, bson.D{{Key: fk, Value: parentID}})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		if id, ok := document.ID(doc); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *Record) nullifyChildren(ctx context.Context, rel *Relationship, fk string, childIDs []string) error {
	for _, childID := range childIDs {
		mutation := bson.D{{Key: "$unset", Value: bson.D{{Key: fk, Value: ""}}}}
		if err := r.db.store.UpdateOne(ctx, rel.Target.Collection, idFilterFor(childID), mutation); err != nil {
			return err
		}
	}
	return nil
}

// cascadePartners applies a policy to many-to-many partners. Every policy
// except destroy retains the partner and only pulls this record's
// identifier from the partner's list.
func (r *Record) cascadePartners(ctx context.Context, rel *Relationship, seen map[string]bool) error {
	ids := r.stringList(rel.ForeignKey)
	if len(ids) == 0 {
		return nil
	}
	inverseKey, err := fieldKey(rel.Target, rel.InverseKey)
	if err != nil {
		return err
	}

	if rel.Policy == PolicyDestroy {
		for _, partnerID := range ids {
			partner, err := r.db.Load(ctx, rel.Target, partnerID)
			if errors.Is(err, driver.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if err := partner.destroy(ctx, seen); err != nil {
				return err
			}
		}
		// Parent's own relationship state is cleared before its removal.
		return r.Set(rel.ForeignKey, nil)
	}

	for _, partnerID := range ids {
		mutation := bson.D{{Key: "$pull", Value: bson.D{{Key: inverseKey, Value: r.ID()}}}}
		if err := r.db.store.UpdateOne(ctx, rel.Target.Collection, idFilterFor(partnerID), mutation); err != nil {
			return err
		}
	}
	return nil
}
