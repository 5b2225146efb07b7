// Package mongodriver binds the store driver contract to a MongoDB
// database handle. MongoDB's filter and mutation vocabulary is a superset
// of the contract's, so filters pass through untranslated.
package mongodriver

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/inkbound/vellum/driver"
)

// Store adapts a *mongo.Database to driver.Store.
type Store struct {
	db *mongo.Database
}

// New wraps a MongoDB database handle.
func New(db *mongo.Database) *Store {
	return &Store{db: db}
}

// Insert implements driver.Store. Duplicate detection relies on a unique
// index over the id field; EnsureIDIndex builds one.
func (s *Store) Insert(ctx context.Context, collection string, doc bson.D) error {
	_, err := s.db.Collection(collection).InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return driver.ErrDuplicateID
	}
	return err
}

// FindOne implements driver.Store.
func (s *Store) FindOne(ctx context.Context, collection string, filter bson.D) (bson.D, error) {
	var doc bson.D
	err := s.db.Collection(collection).FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, driver.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// FindMany implements driver.Store.
func (s *Store) FindMany(ctx context.Context, collection string, filter bson.D) ([]bson.D, error) {
	cursor, err := s.db.Collection(collection).Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	var docs []bson.D
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// UpdateOne implements driver.Store.
func (s *Store) UpdateOne(ctx context.Context, collection string, filter, mutation bson.D) error {
	_, err := s.db.Collection(collection).UpdateOne(ctx, filter, mutation)
	return err
}

// DeleteOne implements driver.Store.
func (s *Store) DeleteOne(ctx context.Context, collection string, filter bson.D) error {
	_, err := s.db.Collection(collection).DeleteOne(ctx, filter)
	return err
}

// DeleteMany implements driver.Store.
func (s *Store) DeleteMany(ctx context.Context, collection string, filter bson.D) (int64, error) {
	result, err := s.db.Collection(collection).DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

// Count implements driver.Store.
func (s *Store) Count(ctx context.Context, collection string, filter bson.D) (int64, error) {
	return s.db.Collection(collection).CountDocuments(ctx, filter)
}

// CreateIndex implements driver.Store.
func (s *Store) CreateIndex(ctx context.Context, collection string, spec driver.IndexSpec) error {
	model := mongo.IndexModel{Keys: spec.Keys}
	if spec.Unique {
		model.Options = options.Index().SetUnique(true)
	}
	_, err := s.db.Collection(collection).Indexes().CreateOne(ctx, model)
	return err
}

// EnsureIDIndex builds the unique index over the id field that Insert's
// duplicate detection depends on.
func (s *Store) EnsureIDIndex(ctx context.Context, collection string) error {
	return s.CreateIndex(ctx, collection, driver.IndexSpec{
		Keys:   bson.D{{Key: "id", Value: 1}},
		Unique: true,
	})
}
