package document

import "go.mongodb.org/mongo-driver/bson"

// GeoPointCodecName is the registry name of the GeoPoint codec.
const GeoPointCodecName = "geopoint"

// GeoPoint is a geographic coordinate. Canonical primitive form is the
// two-element [longitude, latitude] array, matching the coordinate order
// spatial indexes expect.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// GeoPointCodec maps GeoPoint to a [longitude, latitude] array.
//
// Accepted inputs: GeoPoint, *GeoPoint, a [lng, lat] array, or a mapping
// with "latitude"/"longitude" keys.
type GeoPointCodec struct{}

// Normalize converges any accepted input to bson.A{longitude, latitude}.
func (GeoPointCodec) Normalize(v any) (any, error) {
	p, err := geoPointOf(v)
	if err != nil {
		return nil, err
	}
	return bson.A{p.Longitude, p.Latitude}, nil
}

// Encode is Normalize: it accepts its own output unchanged.
func (c GeoPointCodec) Encode(v any) (any, error) {
	return c.Normalize(v)
}

// Decode converts the primitive array back to a GeoPoint.
func (GeoPointCodec) Decode(v any) (any, error) {
	return geoPointOf(v)
}

func geoPointOf(v any) (GeoPoint, error) {
	switch t := v.(type) {
	case GeoPoint:
		return t, nil
	case *GeoPoint:
		if t == nil {
			return GeoPoint{}, &MalformedDocumentError{Field: GeoPointCodecName, Expected: "geo point", Got: t}
		}
		return *t, nil
	case bson.A:
		return geoPointFromPair([]any(t))
	case []any:
		return geoPointFromPair(t)
	case []float64:
		if len(t) != 2 {
			return GeoPoint{}, &MalformedDocumentError{Field: GeoPointCodecName, Expected: "[longitude, latitude] pair", Got: v}
		}
		return GeoPoint{Longitude: t[0], Latitude: t[1]}, nil
	}

	doc, ok := AsDocument(v)
	if !ok {
		return GeoPoint{}, &MalformedDocumentError{Field: GeoPointCodecName, Expected: "[longitude, latitude] pair or {latitude, longitude} mapping", Got: v}
	}

	lat, err := numberField(doc, "latitude")
	if err != nil {
		return GeoPoint{}, err
	}
	lng, err := numberField(doc, "longitude")
	if err != nil {
		return GeoPoint{}, err
	}
	return GeoPoint{Latitude: lat, Longitude: lng}, nil
}

func geoPointFromPair(pair []any) (GeoPoint, error) {
	if len(pair) != 2 {
		return GeoPoint{}, &MalformedDocumentError{Field: GeoPointCodecName, Expected: "[longitude, latitude] pair", Got: pair}
	}
	lng, ok := Number(pair[0])
	if !ok {
		return GeoPoint{}, &MalformedDocumentError{Field: GeoPointCodecName, Expected: "numeric longitude", Got: pair[0]}
	}
	lat, ok := Number(pair[1])
	if !ok {
		return GeoPoint{}, &MalformedDocumentError{Field: GeoPointCodecName, Expected: "numeric latitude", Got: pair[1]}
	}
	return GeoPoint{Latitude: lat, Longitude: lng}, nil
}

func numberField(doc bson.D, key string) (float64, error) {
	raw, ok := Lookup(doc, key)
	if !ok {
		return 0, &MalformedDocumentError{Field: key, Expected: "number", Got: nil}
	}
	n, ok := Number(raw)
	if !ok {
		return 0, &MalformedDocumentError{Field: key, Expected: "number", Got: raw}
	}
	return n, nil
}
