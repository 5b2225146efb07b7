package store

import (
	"context"
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/inkbound/vellum/document"
	"github.com/inkbound/vellum/driver"
	"github.com/inkbound/vellum/driver/memdriver"
)

func newTestDB(t *testing.T, opts ...Option) (*DB, *memdriver.Mem) {
	t.Helper()
	mem := memdriver.New()
	return Open(mem, opts...), mem
}

// musicDefs builds a band with referenced albums, an embedded profile and
// embedded tracks. policy applies to the albums relationship.
func musicDefs(policy Policy) (band, album, profile, track *Definition) {
	profile = &Definition{
		Type:   "profile",
		Fields: []Field{{Name: "bio"}, {Name: "website"}},
	}
	track = &Definition{
		Type:   "track",
		Fields: []Field{{Name: "title"}, {Name: "duration"}},
	}
	album = &Definition{
		Type:       "album",
		Collection: "albums",
		Fields: []Field{
			{Name: "title"},
			{Name: "bandID", Key: "band_id"},
		},
	}
	band = &Definition{
		Type:       "band",
		Collection: "bands",
		Fields: []Field{
			{Name: "name", Key: "n"},
			{Name: "genre"},
		},
		Relationships: []Relationship{
			{Kind: KindRefMany, Slot: "albums", Target: album, ForeignKey: "bandID", Policy: policy},
			{Kind: KindEmbedOne, Slot: "profile", Target: profile},
			{Kind: KindEmbedMany, Slot: "tracks", Target: track},
		},
	}
	album.Relationships = []Relationship{
		{Kind: KindRefOne, Slot: "band", Target: band, ForeignKey: "bandID"},
	}
	return band, album, profile, track
}

// libraryDefs builds the symmetric author/book many-to-many pair. policy
// applies to both sides.
func libraryDefs(policy Policy) (author, book *Definition) {
	author = &Definition{
		Type:       "author",
		Collection: "authors",
		Fields: []Field{
			{Name: "name"},
			{Name: "bookIDs", Key: "book_ids"},
		},
	}
	book = &Definition{
		Type:       "book",
		Collection: "books",
		Fields: []Field{
			{Name: "title"},
			{Name: "authorIDs", Key: "author_ids"},
		},
	}
	author.Relationships = []Relationship{
		{Kind: KindManyToMany, Slot: "books", Target: book, ForeignKey: "bookIDs", InverseKey: "authorIDs", Policy: policy},
	}
	book.Relationships = []Relationship{
		{Kind: KindManyToMany, Slot: "authors", Target: author, ForeignKey: "authorIDs", InverseKey: "bookIDs", Policy: policy},
	}
	return author, book
}

// venueDef carries both built-in codecs and a spatial index.
func venueDef() *Definition {
	return &Definition{
		Type:       "venue",
		Collection: "venues",
		Fields: []Field{
			{Name: "name"},
			{Name: "location", Codec: document.GeoPointCodecName},
			{Name: "reach", Codec: document.DistanceCodecName},
		},
		Indexes: []driver.IndexSpec{
			{Keys: bson.D{{Key: "location", Value: "2d"}}},
		},
	}
}

func rawDoc(t *testing.T, mem *memdriver.Mem, collection, id string) bson.D {
	t.Helper()
	doc, err := mem.FindOne(context.Background(), collection, bson.D{{Key: document.IDKey, Value: id}})
	if err != nil {
		t.Fatalf("raw lookup of %s/%s: %v", collection, id, err)
	}
	return doc
}

func collectionCount(t *testing.T, mem *memdriver.Mem, collection string) int64 {
	t.Helper()
	n, err := mem.Count(context.Background(), collection, bson.D{})
	if err != nil {
		t.Fatalf("count %s: %v", collection, err)
	}
	return n
}

// recorder observes destroy notifications for assertions.
type recorder struct {
	before []string
	after  []string
}

func (r *recorder) BeforeDestroy(_ context.Context, rec *Record) error {
	r.before = append(r.before, rec.ID())
	return nil
}

func (r *recorder) AfterDestroy(_ context.Context, rec *Record) error {
	r.after = append(r.after, rec.ID())
	return nil
}
