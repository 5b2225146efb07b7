// Package repair reconciles referential integrity gaps left by faults in
// multi-document writes. The store offers no transactions, so a crash
// between the two sides of a many-to-many link write, or mid-cascade,
// can leave dangling foreign keys and one-sided identifier lists. A
// Sweeper walks a definition registry and removes them. Sweeps are
// idempotent; running one twice converges to the same state.
package repair

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/inkbound/vellum/document"
	"github.com/inkbound/vellum/driver"
	"github.com/inkbound/vellum/store"
)

// Sweeper scans collections for dangling references and repairs them in
// place. It works on raw documents through the driver, below the mapping
// layer, so corrupt fields never block a sweep.
type Sweeper struct {
	store  driver.Store
	logger *zap.Logger
}

// New creates a sweeper over a store driver.
func New(drv driver.Store, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{store: drv, logger: logger}
}

// Report tallies what one sweep changed.
type Report struct {
	// ClearedKeys counts foreign-key fields unset because their target no
	// longer exists.
	ClearedKeys int

	// PulledLinks counts identifiers pulled from many-to-many lists because
	// the partner no longer exists.
	PulledLinks int

	// RestoredLinks counts identifiers added back to a partner's list to
	// close a one-sided many-to-many link.
	RestoredLinks int
}

func (r *Report) merge(o Report) {
	r.ClearedKeys += o.ClearedKeys
	r.PulledLinks += o.PulledLinks
	r.RestoredLinks += o.RestoredLinks
}

// Sweep repairs every relationship declared across the registry's
// definitions. Failures on one relationship do not stop the others; the
// returned error aggregates everything that went wrong.
func (s *Sweeper) Sweep(ctx context.Context, reg *store.Registry) (Report, error) {
	var report Report
	var errs error

	for _, def := range reg.All() {
		if def.Embedded() {
			continue
		}
		for i := range def.Relationships {
			rel := &def.Relationships[i]
			var (
				sub Report
				err error
			)
			switch rel.Kind {
			case store.KindRefOne:
				sub, err = s.sweepForeignKeys(ctx, def, rel)
			case store.KindRefMany:
				sub, err = s.sweepChildKeys(ctx, def, rel)
			case store.KindManyToMany:
				sub, err = s.sweepLinks(ctx, def, rel)
			default:
				continue
			}
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("repair: %s.%s: %w", def.Type, rel.Slot, err))
				continue
			}
			report.merge(sub)
		}
	}

	s.logger.Info("sweep complete",
		zap.Int("cleared_keys", report.ClearedKeys),
		zap.Int("pulled_links", report.PulledLinks),
		zap.Int("restored_links", report.RestoredLinks),
	)
	return report, errs
}

// sweepForeignKeys unsets ref-one keys whose target document is gone.
func (s *Sweeper) sweepForeignKeys(ctx context.Context, def *store.Definition, rel *store.Relationship) (Report, error) {
	var report Report
	fk, err := rawKey(def, rel.ForeignKey)
	if err != nil {
		return report, err
	}

	docs, err := s.store.FindMany(ctx, def.Collection, bson.D{{Key: fk, Value: bson.D{{Key: "$exists", Value: true}}}})
	if err != nil {
		return report, err
	}
	for _, doc := range docs {
		raw, _ := document.Lookup(doc, fk)
		targetID, ok := raw.(string)
		if !ok || targetID == "" {
			continue
		}
		live, err := s.exists(ctx, rel.Target.Collection, targetID)
		if err != nil {
			return report, err
		}
		if live {
			continue
		}
		id, ok := document.ID(doc)
		if !ok {
			continue
		}
		mutation := bson.D{{Key: "$unset", Value: bson.D{{Key: fk, Value: ""}}}}
		if err := s.store.UpdateOne(ctx, def.Collection, idFilter(id), mutation); err != nil {
			return report, err
		}
		report.ClearedKeys++
		s.logger.Debug("cleared dangling foreign key",
			zap.String("collection", def.Collection),
			zap.String("id", id),
			zap.String("field", fk),
		)
	}
	return report, nil
}

// sweepChildKeys unsets ref-many child keys pointing at a removed parent.
// The key lives on the target definition; the scan runs over its
// collection.
func (s *Sweeper) sweepChildKeys(ctx context.Context, def *store.Definition, rel *store.Relationship) (Report, error) {
	var report Report
	fk, err := rawKey(rel.Target, rel.ForeignKey)
	if err != nil {
		return report, err
	}

	docs, err := s.store.FindMany(ctx, rel.Target.Collection, bson.D{{Key: fk, Value: bson.D{{Key: "$exists", Value: true}}}})
	if err != nil {
		return report, err
	}
	for _, doc := range docs {
		raw, _ := document.Lookup(doc, fk)
		parentID, ok := raw.(string)
		if !ok || parentID == "" {
			continue
		}
		live, err := s.exists(ctx, def.Collection, parentID)
		if err != nil {
			return report, err
		}
		if live {
			continue
		}
		id, ok := document.ID(doc)
		if !ok {
			continue
		}
		mutation := bson.D{{Key: "$unset", Value: bson.D{{Key: fk, Value: ""}}}}
		if err := s.store.UpdateOne(ctx, rel.Target.Collection, idFilter(id), mutation); err != nil {
			return report, err
		}
		report.ClearedKeys++
	}
	return report, nil
}

// sweepLinks restores many-to-many symmetry: identifiers of removed
// partners are pulled, and a link present on this side but missing on a
// live partner is added back there.
func (s *Sweeper) sweepLinks(ctx context.Context, def *store.Definition, rel *store.Relationship) (Report, error) {
	var report Report
	ownKey, err := rawKey(def, rel.ForeignKey)
	if err != nil {
		return report, err
	}
	inverseKey, err := rawKey(rel.Target, rel.InverseKey)
	if err != nil {
		return report, err
	}

	docs, err := s.store.FindMany(ctx, def.Collection, bson.D{{Key: ownKey, Value: bson.D{{Key: "$exists", Value: true}}}})
	if err != nil {
		return report, err
	}
	for _, doc := range docs {
		id, ok := document.ID(doc)
		if !ok {
			continue
		}
		for _, partnerID := range idList(doc, ownKey) {
			partner, err := s.store.FindOne(ctx, rel.Target.Collection, idFilter(partnerID))
			if errors.Is(err, driver.ErrNotFound) {
				mutation := bson.D{{Key: "$pull", Value: bson.D{{Key: ownKey, Value: partnerID}}}}
				if err := s.store.UpdateOne(ctx, def.Collection, idFilter(id), mutation); err != nil {
					return report, err
				}
				report.PulledLinks++
				s.logger.Debug("pulled dead link",
					zap.String("collection", def.Collection),
					zap.String("id", id),
					zap.String("partner", partnerID),
				)
				continue
			}
			if err != nil {
				return report, err
			}
			if containsID(idList(partner, inverseKey), id) {
				continue
			}
			mutation := bson.D{{Key: "$addToSet", Value: bson.D{{Key: inverseKey, Value: id}}}}
			if err := s.store.UpdateOne(ctx, rel.Target.Collection, idFilter(partnerID), mutation); err != nil {
				return report, err
			}
			report.RestoredLinks++
			s.logger.Debug("restored one-sided link",
				zap.String("collection", rel.Target.Collection),
				zap.String("id", partnerID),
				zap.String("partner", id),
			)
		}
	}
	return report, nil
}

func (s *Sweeper) exists(ctx context.Context, collection, id string) (bool, error) {
	n, err := s.store.Count(ctx, collection, idFilter(id))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func idFilter(id string) bson.D {
	return bson.D{{Key: document.IDKey, Value: id}}
}

// rawKey resolves a field name to its document key through the definition's
// alias table.
func rawKey(def *store.Definition, name string) (string, error) {
	f, ok := def.Field(name)
	if !ok {
		return "", fmt.Errorf("unknown field %s.%s", def.Type, name)
	}
	return f.DocumentKey(), nil
}

func idList(doc bson.D, key string) []string {
	raw, ok := document.Lookup(doc, key)
	if !ok {
		return nil
	}
	var out []string
	switch t := raw.(type) {
	case bson.A:
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
	case []any:
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, t...)
	}
	return out
}

func containsID(ids []string, id string) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}
