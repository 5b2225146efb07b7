// Package driver defines the document store contract the mapper consumes.
//
// A driver moves ordered bson documents in and out of named collections.
// Filters and mutations use the conventional operator vocabulary ($regex,
// $exists, $in, $elemMatch, $near, $set, $unset, $push, $addToSet, $pull);
// drivers that cannot serve an operator report ErrUnsupportedFilter rather
// than guessing.
package driver

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	// ErrNotFound is returned by FindOne when no document matches.
	ErrNotFound = errors.New("vellum: document not found")

	// ErrDuplicateID is returned by Insert when the collection already holds
	// the document identifier.
	ErrDuplicateID = errors.New("vellum: duplicate document id")

	// ErrUnsupportedFilter is returned when a filter or mutation uses an
	// operator the driver cannot serve.
	ErrUnsupportedFilter = errors.New("vellum: unsupported filter or mutation")

	// ErrUnsupportedIndex is returned by CreateIndex when the driver cannot
	// build the requested index kind.
	ErrUnsupportedIndex = errors.New("vellum: unsupported index")

	// ErrMissingIndex is returned when a query requires an index (a $near
	// filter needs a spatial index) that has not been created.
	ErrMissingIndex = errors.New("vellum: query requires an index")
)

// IndexSpec describes an index over one or more document keys. A value of
// "2d" in Keys requests a spatial index on that key; 1/-1 request ordered
// indexes.
type IndexSpec struct {
	Keys   bson.D
	Unique bool
}

// Store is the document store driver contract. Documents are ordered
// mappings of primitive-safe keys to primitive values; the "id" field is
// the primary key, unique per collection.
//
// Every method issues synchronous round-trips; cancellation and timeouts
// ride on the caller's context.
type Store interface {
	// Insert writes a new document. Fails with ErrDuplicateID if a document
	// with the same id already exists.
	Insert(ctx context.Context, collection string, doc bson.D) error

	// FindOne returns the first document matching filter, or ErrNotFound.
	FindOne(ctx context.Context, collection string, filter bson.D) (bson.D, error)

	// FindMany returns every document matching filter in store-native order
	// (nearest-first for $near filters).
	FindMany(ctx context.Context, collection string, filter bson.D) ([]bson.D, error)

	// UpdateOne applies mutation to the first document matching filter.
	// Missing matches are not an error.
	UpdateOne(ctx context.Context, collection string, filter, mutation bson.D) error

	// DeleteOne removes the first document matching filter. Missing matches
	// are not an error.
	DeleteOne(ctx context.Context, collection string, filter bson.D) error

	// DeleteMany removes every document matching filter and reports how many
	// were removed.
	DeleteMany(ctx context.Context, collection string, filter bson.D) (int64, error)

	// Count reports how many documents match filter.
	Count(ctx context.Context, collection string, filter bson.D) (int64, error)

	// CreateIndex builds an index over the collection.
	CreateIndex(ctx context.Context, collection string, spec IndexSpec) error
}
