package memdriver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/inkbound/vellum/document"
	"github.com/inkbound/vellum/driver"
)

func doc(pairs ...any) bson.D {
	out := bson.D{}
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, bson.E{Key: pairs[i].(string), Value: pairs[i+1]})
	}
	return out
}

func TestInsertRejectsDuplicateID(t *testing.T) {
	m := New()
	ctx := context.Background()

	require.NoError(t, m.Insert(ctx, "things", doc("id", "a")))
	err := m.Insert(ctx, "things", doc("id", "a"))
	assert.ErrorIs(t, err, driver.ErrDuplicateID)
}

func TestFindOneNotFound(t *testing.T) {
	m := New()
	_, err := m.FindOne(context.Background(), "things", doc("id", "missing"))
	assert.ErrorIs(t, err, driver.ErrNotFound)
}

func TestFindManyFilters(t *testing.T) {
	m := New()
	ctx := context.Background()
	require.NoError(t, m.Insert(ctx, "things", doc("id", "a", "kind", "tool", "size", 3)))
	require.NoError(t, m.Insert(ctx, "things", doc("id", "b", "kind", "tool")))
	require.NoError(t, m.Insert(ctx, "things", doc("id", "c", "kind", "toy", "size", 3)))

	tests := []struct {
		name   string
		filter bson.D
		want   []string
	}{
		{"equality", doc("kind", "tool"), []string{"a", "b"}},
		{"numeric coercion", doc("size", 3.0), []string{"a", "c"}},
		{"exists", doc("size", doc("$exists", true)), []string{"a", "c"}},
		{"not exists", doc("size", doc("$exists", false)), []string{"b"}},
		{"regex", doc("kind", doc("$regex", "^to.l$")), []string{"a", "b"}},
		{"in", doc("id", doc("$in", bson.A{"a", "c", "z"})), []string{"a", "c"}},
		{"empty filter matches all", bson.D{}, []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := m.FindMany(ctx, "things", tt.filter)
			require.NoError(t, err)
			var ids []string
			for _, d := range docs {
				id, _ := document.ID(d)
				ids = append(ids, id)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestFindManyUnsupportedOperator(t *testing.T) {
	m := New()
	ctx := context.Background()
	require.NoError(t, m.Insert(ctx, "things", doc("id", "a", "n", 1)))

	_, err := m.FindMany(ctx, "things", doc("n", doc("$gt", 0)))
	assert.ErrorIs(t, err, driver.ErrUnsupportedFilter)
}

func TestElemMatch(t *testing.T) {
	m := New()
	ctx := context.Background()
	require.NoError(t, m.Insert(ctx, "hosts", doc(
		"id", "h1",
		"parts", bson.A{doc("id", "p1"), doc("id", "p2")},
	)))
	require.NoError(t, m.Insert(ctx, "hosts", doc(
		"id", "h2",
		"parts", bson.A{doc("id", "p3")},
	)))

	docs, err := m.FindMany(ctx, "hosts", doc("parts", doc("$elemMatch", doc("id", "p2"))))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	id, _ := document.ID(docs[0])
	assert.Equal(t, "h1", id)
}

func TestUpdateOneMutations(t *testing.T) {
	m := New()
	ctx := context.Background()
	require.NoError(t, m.Insert(ctx, "things", doc("id", "a", "n", 1, "tags", bson.A{"x"})))

	mutate := func(mutation bson.D) bson.D {
		require.NoError(t, m.UpdateOne(ctx, "things", doc("id", "a"), mutation))
		got, err := m.FindOne(ctx, "things", doc("id", "a"))
		require.NoError(t, err)
		return got
	}

	got := mutate(doc("$set", doc("n", 2)))
	n, _ := document.Lookup(got, "n")
	assert.Equal(t, 2, n)

	got = mutate(doc("$push", doc("tags", "y")))
	tags, _ := document.Lookup(got, "tags")
	assert.Equal(t, bson.A{"x", "y"}, tags)

	got = mutate(doc("$addToSet", doc("tags", "y")))
	tags, _ = document.Lookup(got, "tags")
	assert.Equal(t, bson.A{"x", "y"}, tags)

	got = mutate(doc("$addToSet", doc("tags", "z")))
	tags, _ = document.Lookup(got, "tags")
	assert.Equal(t, bson.A{"x", "y", "z"}, tags)

	got = mutate(doc("$pull", doc("tags", "y")))
	tags, _ = document.Lookup(got, "tags")
	assert.Equal(t, bson.A{"x", "z"}, tags)

	got = mutate(doc("$unset", doc("n", "")))
	_, present := document.Lookup(got, "n")
	assert.False(t, present)
}

func TestDeleteManyAndCount(t *testing.T) {
	m := New()
	ctx := context.Background()
	require.NoError(t, m.Insert(ctx, "things", doc("id", "a", "kind", "tool")))
	require.NoError(t, m.Insert(ctx, "things", doc("id", "b", "kind", "tool")))
	require.NoError(t, m.Insert(ctx, "things", doc("id", "c", "kind", "toy")))

	n, err := m.Count(ctx, "things", doc("kind", "tool"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	removed, err := m.DeleteMany(ctx, "things", doc("kind", "tool"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	n, err = m.Count(ctx, "things", bson.D{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestNearRequiresSpatialIndex(t *testing.T) {
	m := New()
	ctx := context.Background()
	require.NoError(t, m.Insert(ctx, "places", doc("id", "a", "loc", bson.A{0.0, 0.0})))

	_, err := m.FindMany(ctx, "places", doc("loc", doc("$near", bson.A{0.0, 0.0})))
	assert.ErrorIs(t, err, driver.ErrMissingIndex)
}

func TestNearOrdersNearestFirst(t *testing.T) {
	m := New()
	ctx := context.Background()
	require.NoError(t, m.CreateIndex(ctx, "places", driver.IndexSpec{
		Keys: bson.D{{Key: "loc", Value: "2d"}},
	}))
	require.NoError(t, m.Insert(ctx, "places", doc("id", "far", "loc", bson.A{10.0, 0.0})))
	require.NoError(t, m.Insert(ctx, "places", doc("id", "near", "loc", bson.A{1.0, 0.0})))
	require.NoError(t, m.Insert(ctx, "places", doc("id", "mid", "loc", bson.A{5.0, 0.0})))

	docs, err := m.FindMany(ctx, "places", doc("loc", doc("$near", bson.A{0.0, 0.0})))
	require.NoError(t, err)
	var ids []string
	for _, d := range docs {
		id, _ := document.ID(d)
		ids = append(ids, id)
	}
	assert.Equal(t, []string{"near", "mid", "far"}, ids)

	// maxDistance is a cutoff, not a sort change.
	docs, err = m.FindMany(ctx, "places", doc("loc", doc("$near", bson.A{0.0, 0.0}, "$maxDistance", 6.0)))
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestResultsAreDetachedCopies(t *testing.T) {
	m := New()
	ctx := context.Background()
	require.NoError(t, m.Insert(ctx, "things", doc("id", "a", "n", 1)))

	got, err := m.FindOne(ctx, "things", doc("id", "a"))
	require.NoError(t, err)
	got[1].Value = 99

	again, err := m.FindOne(ctx, "things", doc("id", "a"))
	require.NoError(t, err)
	n, _ := document.Lookup(again, "n")
	assert.Equal(t, 1, n)
}
