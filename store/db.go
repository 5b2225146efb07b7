package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/inkbound/vellum/document"
	"github.com/inkbound/vellum/driver"
)

// DB binds definitions to a document store driver. It holds no per-entity
// state; records reference it for round-trips.
type DB struct {
	store  driver.Store
	codecs *document.Registry
	logger *zap.Logger
	strict bool
}

// Option configures a DB.
type Option func(*DB)

// WithCodecs replaces the default codec registry.
func WithCodecs(r *document.Registry) Option {
	return func(db *DB) { db.codecs = r }
}

// WithLogger sets the logger used by the cascade engine. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return func(db *DB) { db.logger = l }
}

// WithStrictValidation makes Save fail on the first constraint violation
// instead of collecting all of them.
func WithStrictValidation() Option {
	return func(db *DB) { db.strict = true }
}

// Open binds a driver.
func Open(drv driver.Store, opts ...Option) *DB {
	db := &DB{
		store:  drv,
		codecs: document.DefaultRegistry(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Driver exposes the underlying store driver for collaborators issuing raw
// queries.
func (db *DB) Driver() driver.Store {
	return db.store
}

// New constructs a transient record of def. No identifier commitment is
// required until the record is persisted.
func (db *DB) New(def *Definition) *Record {
	return &Record{
		def:    def,
		db:     db,
		values: make(map[string]any),
		slots:  make(map[string]*slot),
	}
}

// Load fetches one entity by identifier.
func (db *DB) Load(ctx context.Context, def *Definition, id string) (*Record, error) {
	doc, err := db.store.FindOne(ctx, def.Collection, bson.D{{Key: document.IDKey, Value: id}})
	if err != nil {
		return nil, err
	}
	return db.FromDocument(def, doc)
}

// Find starts a criteria chain over def's collection.
func (db *DB) Find(def *Definition) *Criteria {
	return &Criteria{db: db, def: def}
}

// EnsureIndexes creates the declared indexes for each definition, plus the
// unique identifier index every collection carries.
func (db *DB) EnsureIndexes(ctx context.Context, defs ...*Definition) error {
	for _, def := range defs {
		if def.Embedded() {
			continue
		}
		idIndex := driver.IndexSpec{
			Keys:   bson.D{{Key: document.IDKey, Value: 1}},
			Unique: true,
		}
		if err := db.store.CreateIndex(ctx, def.Collection, idIndex); err != nil {
			return err
		}
		for _, spec := range def.Indexes {
			if err := db.store.CreateIndex(ctx, def.Collection, spec); err != nil {
				return err
			}
		}
	}
	return nil
}
