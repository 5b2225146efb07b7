// Package memdriver provides an in-memory implementation of the store
// driver contract. It backs the test suites and is usable as an embedded
// store for tooling that does not need persistence.
package memdriver

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/inkbound/vellum/document"
	"github.com/inkbound/vellum/driver"
)

// Mem is an in-memory document store. Collections keep insertion order,
// which doubles as the store-native ordering for query results.
//
// Mem serializes its own operations with a mutex; that protects the maps
// only and adds no cross-operation isolation.
type Mem struct {
	mu          sync.Mutex
	collections map[string][]bson.D
	indexes     map[string][]driver.IndexSpec
}

// New creates an empty in-memory store.
func New() *Mem {
	return &Mem{
		collections: make(map[string][]bson.D),
		indexes:     make(map[string][]driver.IndexSpec),
	}
}

// Insert implements driver.Store.
func (m *Mem) Insert(_ context.Context, collection string, doc bson.D) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := document.ID(doc); ok {
		for _, existing := range m.collections[collection] {
			if eid, ok := document.ID(existing); ok && eid == id {
				return driver.ErrDuplicateID
			}
		}
	}
	m.collections[collection] = append(m.collections[collection], document.Clone(doc))
	return nil
}

// FindOne implements driver.Store.
func (m *Mem) FindOne(ctx context.Context, collection string, filter bson.D) (bson.D, error) {
	docs, err := m.FindMany(ctx, collection, filter)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, driver.ErrNotFound
	}
	return docs[0], nil
}

// FindMany implements driver.Store. Results for $near filters come back
// nearest-first; everything else keeps insertion order.
func (m *Mem) FindMany(_ context.Context, collection string, filter bson.D) ([]bson.D, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	near, rest, err := splitNear(filter)
	if err != nil {
		return nil, err
	}
	if near != nil && !m.hasSpatialIndex(collection, near.key) {
		return nil, driver.ErrMissingIndex
	}

	var out []bson.D
	var distances []float64
	for _, doc := range m.collections[collection] {
		ok, err := matchFilter(doc, rest)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if near != nil {
			d, ok := near.distanceTo(doc)
			if !ok {
				continue
			}
			if near.maxDistance >= 0 && d > near.maxDistance {
				continue
			}
			distances = append(distances, d)
		}
		out = append(out, document.Clone(doc))
	}

	if near != nil {
		sortByDistance(out, distances)
	}
	return out, nil
}

// UpdateOne implements driver.Store.
func (m *Mem) UpdateOne(_ context.Context, collection string, filter, mutation bson.D) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs := m.collections[collection]
	for i, doc := range docs {
		ok, err := matchFilter(doc, filter)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		updated, err := applyMutation(doc, mutation)
		if err != nil {
			return err
		}
		docs[i] = updated
		return nil
	}
	return nil
}

// DeleteOne implements driver.Store.
func (m *Mem) DeleteOne(_ context.Context, collection string, filter bson.D) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs := m.collections[collection]
	for i, doc := range docs {
		ok, err := matchFilter(doc, filter)
		if err != nil {
			return err
		}
		if ok {
			m.collections[collection] = append(docs[:i], docs[i+1:]...)
			return nil
		}
	}
	return nil
}

// DeleteMany implements driver.Store.
func (m *Mem) DeleteMany(_ context.Context, collection string, filter bson.D) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var kept []bson.D
	var removed int64
	for _, doc := range m.collections[collection] {
		ok, err := matchFilter(doc, filter)
		if err != nil {
			return 0, err
		}
		if ok {
			removed++
			continue
		}
		kept = append(kept, doc)
	}
	m.collections[collection] = kept
	return removed, nil
}

// Count implements driver.Store.
func (m *Mem) Count(_ context.Context, collection string, filter bson.D) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, doc := range m.collections[collection] {
		ok, err := matchFilter(doc, filter)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// CreateIndex implements driver.Store. Indexes are bookkeeping only, except
// that $near queries refuse to run without a spatial index on their key.
func (m *Mem) CreateIndex(_ context.Context, collection string, spec driver.IndexSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.indexes[collection] = append(m.indexes[collection], spec)
	return nil
}

func (m *Mem) hasSpatialIndex(collection, key string) bool {
	for _, spec := range m.indexes[collection] {
		for _, e := range spec.Keys {
			if e.Key == key && e.Value == "2d" {
				return true
			}
		}
	}
	return false
}
