package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/inkbound/vellum/document"
)

func TestEmbedOneAbsentByDefault(t *testing.T) {
	db, _ := newTestDB(t)
	band, _, _, _ := musicDefs(PolicyOrphan)

	r := db.New(band)
	p := r.EmbedOne("profile")
	got, err := p.Get()
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, p.HasValue())
}

func TestEmbedOneHollowIsDistinctFromAbsent(t *testing.T) {
	db, _ := newTestDB(t)
	band, _, _, _ := musicDefs(PolicyOrphan)
	ctx := context.Background()

	r := db.New(band)
	_, err := r.EmbedOne("profile").Build(nil)
	require.NoError(t, err)
	require.NoError(t, r.Save(ctx))

	loaded, err := db.Load(ctx, band, r.ID())
	require.NoError(t, err)
	p := loaded.EmbedOne("profile")
	assert.True(t, p.HasValue())
	child, err := p.Get()
	require.NoError(t, err)
	require.NotNil(t, child)
	bio, err := child.Get("bio")
	require.NoError(t, err)
	assert.Nil(t, bio)

	bare := db.New(band)
	assert.False(t, bare.EmbedOne("profile").HasValue())
}

func TestEmbedOneBuildStagesUntilParentSave(t *testing.T) {
	db, mem := newTestDB(t)
	band, _, _, _ := musicDefs(PolicyOrphan)
	ctx := context.Background()

	r := db.New(band)
	require.NoError(t, r.Save(ctx))

	_, err := r.EmbedOne("profile").Build(map[string]any{"bio": "quiet loud quiet"})
	require.NoError(t, err)

	doc := rawDoc(t, mem, "bands", r.ID())
	_, present := document.Lookup(doc, "profile")
	assert.False(t, present)

	require.NoError(t, r.Save(ctx))
	doc = rawDoc(t, mem, "bands", r.ID())
	raw, present := document.Lookup(doc, "profile")
	require.True(t, present)
	bio, _ := document.Lookup(raw.(bson.D), "bio")
	assert.Equal(t, "quiet loud quiet", bio)
}

func TestEmbedOneCreateWritesThrough(t *testing.T) {
	db, mem := newTestDB(t)
	band, _, _, _ := musicDefs(PolicyOrphan)
	ctx := context.Background()

	r := db.New(band)
	require.NoError(t, r.Save(ctx))

	child, err := r.EmbedOne("profile").Create(ctx, map[string]any{"bio": "loud"})
	require.NoError(t, err)
	assert.True(t, child.Persisted())
	assert.Same(t, r, child.Parent())

	// Written without another parent save.
	doc := rawDoc(t, mem, "bands", r.ID())
	raw, present := document.Lookup(doc, "profile")
	require.True(t, present)
	bio, _ := document.Lookup(raw.(bson.D), "bio")
	assert.Equal(t, "loud", bio)
}

func TestEmbedOneCreateRequiresPersistedParent(t *testing.T) {
	db, _ := newTestDB(t)
	band, _, _, _ := musicDefs(PolicyOrphan)

	r := db.New(band)
	_, err := r.EmbedOne("profile").Create(context.Background(), nil)
	var unsaved *UnsavedParentError
	require.ErrorAs(t, err, &unsaved)
	assert.Equal(t, "profile", unsaved.Slot)
}

func TestEmbedOneAssignNilClearsOnSave(t *testing.T) {
	db, mem := newTestDB(t)
	band, _, _, _ := musicDefs(PolicyOrphan)
	ctx := context.Background()

	r := db.New(band)
	_, err := r.EmbedOne("profile").Build(map[string]any{"bio": "x"})
	require.NoError(t, err)
	require.NoError(t, r.Save(ctx))

	require.NoError(t, r.EmbedOne("profile").Assign(nil))

	// Clearing is in-memory until the next save.
	doc := rawDoc(t, mem, "bands", r.ID())
	_, present := document.Lookup(doc, "profile")
	assert.True(t, present)

	require.NoError(t, r.Save(ctx))
	doc = rawDoc(t, mem, "bands", r.ID())
	_, present = document.Lookup(doc, "profile")
	assert.False(t, present)

	loaded, err := db.Load(ctx, band, r.ID())
	require.NoError(t, err)
	assert.False(t, loaded.EmbedOne("profile").HasValue())
}

func TestEmbedOneRejectsWrongType(t *testing.T) {
	db, _ := newTestDB(t)
	band, _, _, track := musicDefs(PolicyOrphan)

	r := db.New(band)
	stray := db.New(track)
	assert.Error(t, r.EmbedOne("profile").Assign(stray))
}

func TestEmbedManyBuildAndFind(t *testing.T) {
	db, _ := newTestDB(t)
	band, _, _, _ := musicDefs(PolicyOrphan)
	ctx := context.Background()

	r := db.New(band)
	tracks := r.EmbedMany("tracks")
	first, err := tracks.Build(map[string]any{"title": "Breadcrumb Trail"})
	require.NoError(t, err)
	second, err := tracks.Build(map[string]any{"title": "Nosferatu Man"})
	require.NoError(t, err)
	require.NoError(t, r.Save(ctx))

	assert.NotEqual(t, "", first.ID())
	assert.NotEqual(t, first.ID(), second.ID())

	loaded, err := db.Load(ctx, band, r.ID())
	require.NoError(t, err)
	got := loaded.EmbedMany("tracks")
	n, err := got.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	found, ok := got.Find(second.ID())
	require.True(t, ok)
	title, err := found.Get("title")
	require.NoError(t, err)
	assert.Equal(t, "Nosferatu Man", title)
	assert.Same(t, loaded, found.Parent())
}

func TestEmbedManyPreservesOrder(t *testing.T) {
	db, _ := newTestDB(t)
	band, _, _, _ := musicDefs(PolicyOrphan)
	ctx := context.Background()

	r := db.New(band)
	tracks := r.EmbedMany("tracks")
	for _, title := range []string{"Darlin'", "Washer", "Good Morning, Captain"} {
		_, err := tracks.Build(map[string]any{"title": title})
		require.NoError(t, err)
	}
	require.NoError(t, r.Save(ctx))

	loaded, err := db.Load(ctx, band, r.ID())
	require.NoError(t, err)
	all, err := loaded.EmbedMany("tracks").All()
	require.NoError(t, err)
	var titles []string
	for _, child := range all {
		v, err := child.Get("title")
		require.NoError(t, err)
		titles = append(titles, v.(string))
	}
	assert.Equal(t, []string{"Darlin'", "Washer", "Good Morning, Captain"}, titles)
}

func TestEmbedManyAppendWritesThroughOnPersistedParent(t *testing.T) {
	db, mem := newTestDB(t)
	band, _, _, track := musicDefs(PolicyOrphan)
	ctx := context.Background()

	r := db.New(band)
	require.NoError(t, r.Save(ctx))

	child := db.New(track)
	require.NoError(t, child.Set("title", "Rhoda"))
	require.NoError(t, r.EmbedMany("tracks").Append(ctx, child))
	assert.True(t, child.Persisted())

	doc := rawDoc(t, mem, "bands", r.ID())
	raw, present := document.Lookup(doc, "tracks")
	require.True(t, present)
	assert.Len(t, raw.(bson.A), 1)
}

func TestEmbedManyRejectsDuplicateElementID(t *testing.T) {
	db, _ := newTestDB(t)
	band, _, _, track := musicDefs(PolicyOrphan)
	ctx := context.Background()

	r := db.New(band)
	a := db.New(track)
	a.SetID("t1")
	b := db.New(track)
	b.SetID("t1")

	require.NoError(t, r.EmbedMany("tracks").Append(ctx, a))
	assert.Error(t, r.EmbedMany("tracks").Append(ctx, b))
}

func TestEmbeddedLifecycleGuard(t *testing.T) {
	db, _ := newTestDB(t)
	band, _, _, _ := musicDefs(PolicyOrphan)
	ctx := context.Background()

	r := db.New(band)
	child, err := r.EmbedMany("tracks").Build(map[string]any{"title": "x"})
	require.NoError(t, err)

	assert.ErrorIs(t, child.Save(ctx), ErrEmbeddedLifecycle)
	assert.ErrorIs(t, child.Delete(ctx), ErrEmbeddedLifecycle)
	assert.ErrorIs(t, child.Destroy(ctx), ErrEmbeddedLifecycle)
}

// One embeddable definition mounts under any number of parent types.
func TestEmbeddedDefinitionIsPolymorphic(t *testing.T) {
	db, _ := newTestDB(t)
	_, _, profile, _ := musicDefs(PolicyOrphan)
	ctx := context.Background()

	venue := &Definition{
		Type:       "club",
		Collection: "clubs",
		Fields:     []Field{{Name: "name"}},
		Relationships: []Relationship{
			{Kind: KindEmbedOne, Slot: "profile", Target: profile},
		},
	}

	c := db.New(venue)
	_, err := c.EmbedOne("profile").Build(map[string]any{"bio": "basement venue"})
	require.NoError(t, err)
	require.NoError(t, c.Save(ctx))

	loaded, err := db.Load(ctx, venue, c.ID())
	require.NoError(t, err)
	child, err := loaded.EmbedOne("profile").Get()
	require.NoError(t, err)
	require.NotNil(t, child)
	assert.Equal(t, "profile", child.Definition().Type)
	assert.Same(t, loaded, child.Parent())
}
