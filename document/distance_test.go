package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestNewDistanceCanonicalizesMeters(t *testing.T) {
	d := NewDistance(0.3048, "meters")
	assert.Equal(t, "feet", d.Units)
	assert.InDelta(t, 1.0, d.Amount, 1e-9)

	// One-way: feet and unitless pass through untouched.
	assert.Equal(t, Distance{Amount: 5, Units: "feet"}, NewDistance(5, "feet"))
	assert.Equal(t, Distance{Amount: 5}, NewDistance(5, ""))
}

func TestDistanceCodecNormalizeShapes(t *testing.T) {
	codec := DistanceCodec{}
	want := bson.D{{Key: "amount", Value: 3.0}, {Key: "units", Value: "feet"}}

	tests := []struct {
		name string
		in   any
	}{
		{"typed value", Distance{Amount: 3, Units: "feet"}},
		{"pointer", &Distance{Amount: 3, Units: "feet"}},
		{"mapping", bson.D{{Key: "amount", Value: 3}, {Key: "units", Value: "feet"}}},
		{"map shape", map[string]any{"amount": 3.0, "units": "feet"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := codec.Normalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestDistanceCodecBareNumberIsUnitless(t *testing.T) {
	codec := DistanceCodec{}
	got, err := codec.Normalize(7)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "amount", Value: 7.0}, {Key: "units", Value: ""}}, got)
}

func TestDistanceCodecRoundTrip(t *testing.T) {
	codec := DistanceCodec{}
	original := NewDistance(12.5, "meters")

	encoded, err := codec.Encode(original)
	require.NoError(t, err)
	decoded, err := codec.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)

	// Encoding its own output changes nothing.
	again, err := codec.Encode(encoded)
	require.NoError(t, err)
	assert.Equal(t, encoded, again)
}

func TestDistanceCodecDecodeMalformed(t *testing.T) {
	codec := DistanceCodec{}

	tests := []struct {
		name  string
		in    any
		field string
	}{
		{"missing amount", bson.D{{Key: "units", Value: "feet"}}, "amount"},
		{"non-numeric amount", bson.D{{Key: "amount", Value: "three"}}, "amount"},
		{"non-string units", bson.D{{Key: "amount", Value: 3}, {Key: "units", Value: 9}}, "units"},
		{"wrong shape", true, DistanceCodecName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decode(tt.in)
			var malformed *MalformedDocumentError
			require.ErrorAs(t, err, &malformed)
			assert.Equal(t, tt.field, malformed.Field)
		})
	}
}
