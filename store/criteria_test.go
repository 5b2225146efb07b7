package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkbound/vellum/document"
	"github.com/inkbound/vellum/driver"
)

func seedBands(t *testing.T, db *DB, band *Definition, names ...string) []*Record {
	t.Helper()
	ctx := context.Background()
	var out []*Record
	for _, name := range names {
		r := db.New(band)
		require.NoError(t, r.Set("name", name))
		require.NoError(t, r.Save(ctx))
		out = append(out, r)
	}
	return out
}

func TestCriteriaEqResolvesAlias(t *testing.T) {
	db, _ := newTestDB(t)
	band, _, _, _ := musicDefs(PolicyOrphan)
	seedBands(t, db, band, "Slint", "Bedhead")
	ctx := context.Background()

	// Accessor name and raw key build the same query.
	byName, err := db.Find(band).Eq("name", "Slint").All(ctx)
	require.NoError(t, err)
	byKey, err := db.Find(band).Eq("n", "Slint").All(ctx)
	require.NoError(t, err)
	require.Len(t, byName, 1)
	require.Len(t, byKey, 1)
	assert.Equal(t, byName[0].ID(), byKey[0].ID())
}

func TestCriteriaEqByIdentifier(t *testing.T) {
	db, _ := newTestDB(t)
	band, _, _, _ := musicDefs(PolicyOrphan)
	bands := seedBands(t, db, band, "Slint", "Bedhead")

	got, err := db.Find(band).Eq(document.IDKey, bands[1].ID()).First(context.Background())
	require.NoError(t, err)
	assert.Equal(t, bands[1].ID(), got.ID())
}

func TestCriteriaRegexAndExists(t *testing.T) {
	db, _ := newTestDB(t)
	band, _, _, _ := musicDefs(PolicyOrphan)
	ctx := context.Background()
	bands := seedBands(t, db, band, "Slint", "Seam", "Bedhead")
	require.NoError(t, bands[0].Set("genre", "post-rock"))
	require.NoError(t, bands[0].Save(ctx))

	got, err := db.Find(band).Regex("name", "^S").All(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = db.Find(band).Exists("genre", true).All(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, bands[0].ID(), got[0].ID())

	got, err = db.Find(band).Exists("genre", false).All(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestCriteriaIsRestartable(t *testing.T) {
	db, _ := newTestDB(t)
	band, _, _, _ := musicDefs(PolicyOrphan)
	ctx := context.Background()
	seedBands(t, db, band, "Slint", "Seam")

	q := db.Find(band).Regex("name", "^S")
	got, err := q.All(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	seedBands(t, db, band, "Silkworm")
	got, err = q.All(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestCriteriaLimit(t *testing.T) {
	db, _ := newTestDB(t)
	band, _, _, _ := musicDefs(PolicyOrphan)
	seedBands(t, db, band, "a", "b", "c", "d")

	got, err := db.Find(band).Limit(2).All(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestCriteriaEach(t *testing.T) {
	db, _ := newTestDB(t)
	band, _, _, _ := musicDefs(PolicyOrphan)
	seedBands(t, db, band, "a", "b", "c")
	ctx := context.Background()

	var visited int
	err := db.Find(band).Each(ctx, func(*Record) error {
		visited++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, visited)

	// A callback error stops the walk and surfaces.
	visited = 0
	err = db.Find(band).Each(ctx, func(*Record) error {
		visited++
		if visited == 2 {
			return assert.AnError
		}
		return nil
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 2, visited)
}

func TestCriteriaFirstNotFound(t *testing.T) {
	db, _ := newTestDB(t)
	band, _, _, _ := musicDefs(PolicyOrphan)

	_, err := db.Find(band).Eq("name", "nobody").First(context.Background())
	assert.ErrorIs(t, err, driver.ErrNotFound)
}

func TestCriteriaCount(t *testing.T) {
	db, _ := newTestDB(t)
	band, _, _, _ := musicDefs(PolicyOrphan)
	seedBands(t, db, band, "a", "b")

	n, err := db.Find(band).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestCriteriaUnknownFieldSurfacesAtExecution(t *testing.T) {
	db, _ := newTestDB(t)
	band, _, _, _ := musicDefs(PolicyOrphan)
	ctx := context.Background()

	q := db.Find(band).Eq("bogus", 1).Regex("name", "x")
	_, err := q.All(ctx)
	assert.ErrorIs(t, err, ErrUnknownField)
	_, err = q.Count(ctx)
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestCriteriaEqNormalizesCodecValues(t *testing.T) {
	db, _ := newTestDB(t)
	venue := venueDef()
	ctx := context.Background()

	r := db.New(venue)
	require.NoError(t, r.Set("name", "Fillmore"))
	require.NoError(t, r.Set("location", document.GeoPoint{Latitude: 37.8, Longitude: -122.4}))
	require.NoError(t, r.Save(ctx))

	// Any accepted shape matches the stored canonical form.
	got, err := db.Find(venue).Eq("location", []float64{-122.4, 37.8}).All(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, r.ID(), got[0].ID())
}

func TestCriteriaNearOrdersNearestFirst(t *testing.T) {
	db, _ := newTestDB(t)
	venue := venueDef()
	ctx := context.Background()
	require.NoError(t, db.EnsureIndexes(ctx, venue))

	points := map[string]document.GeoPoint{
		"far":  {Latitude: 0, Longitude: 10},
		"near": {Latitude: 0, Longitude: 1},
		"mid":  {Latitude: 0, Longitude: 5},
	}
	for name, p := range points {
		r := db.New(venue)
		require.NoError(t, r.Set("name", name))
		require.NoError(t, r.Set("location", p))
		require.NoError(t, r.Save(ctx))
	}

	got, err := db.Find(venue).Near("location", document.GeoPoint{}).All(ctx)
	require.NoError(t, err)
	var names []string
	for _, rec := range got {
		v, err := rec.Get("name")
		require.NoError(t, err)
		names = append(names, v.(string))
	}
	assert.Equal(t, []string{"near", "mid", "far"}, names)

	got, err = db.Find(venue).Near("location", document.GeoPoint{}, 6).All(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestCriteriaNearWithoutIndexFails(t *testing.T) {
	db, _ := newTestDB(t)
	venue := venueDef()
	ctx := context.Background()

	r := db.New(venue)
	require.NoError(t, r.Set("location", document.GeoPoint{}))
	require.NoError(t, r.Save(ctx))

	_, err := db.Find(venue).Near("location", document.GeoPoint{}).All(ctx)
	assert.ErrorIs(t, err, driver.ErrMissingIndex)
}
