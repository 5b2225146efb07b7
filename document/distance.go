package document

import "go.mongodb.org/mongo-driver/bson"

// DistanceCodecName is the registry name of the Distance codec.
const DistanceCodecName = "distance"

// feetPerMeter converts meters to feet at construction time.
const feetPerMeter = 1.0 / 0.3048

// Distance is a compound measurement. Canonical form is feet or unitless:
// a value declared in meters is converted to feet when constructed. That is
// a one-way canonicalization baked into the type, so downstream comparisons
// can assume a single unit.
type Distance struct {
	Amount float64
	Units  string
}

// NewDistance constructs a Distance in canonical form. Units may be "feet",
// "meters", or empty (unitless).
func NewDistance(amount float64, units string) Distance {
	if units == "meters" {
		return Distance{Amount: amount * feetPerMeter, Units: "feet"}
	}
	return Distance{Amount: amount, Units: units}
}

// DistanceCodec maps Distance to the primitive mapping {amount, units}.
//
// Accepted inputs: Distance, *Distance, a mapping with an "amount" key and
// optional "units" key, or a bare number (unitless).
type DistanceCodec struct{}

// Normalize converges any accepted input to the canonical primitive
// bson.D{{"amount", float64}, {"units", string}}.
func (DistanceCodec) Normalize(v any) (any, error) {
	d, err := distanceOf(v)
	if err != nil {
		return nil, err
	}
	return bson.D{{Key: "amount", Value: d.Amount}, {Key: "units", Value: d.Units}}, nil
}

// Encode is Normalize: it accepts its own output unchanged.
func (c DistanceCodec) Encode(v any) (any, error) {
	return c.Normalize(v)
}

// Decode converts the primitive mapping back to a Distance.
func (DistanceCodec) Decode(v any) (any, error) {
	return distanceOf(v)
}

func distanceOf(v any) (Distance, error) {
	switch t := v.(type) {
	case Distance:
		return NewDistance(t.Amount, t.Units), nil
	case *Distance:
		if t == nil {
			return Distance{}, &MalformedDocumentError{Field: DistanceCodecName, Expected: "distance value", Got: t}
		}
		return NewDistance(t.Amount, t.Units), nil
	}

	if n, ok := Number(v); ok {
		return Distance{Amount: n}, nil
	}

	doc, ok := AsDocument(v)
	if !ok {
		return Distance{}, &MalformedDocumentError{Field: DistanceCodecName, Expected: "number or {amount, units} mapping", Got: v}
	}

	raw, ok := Lookup(doc, "amount")
	if !ok {
		return Distance{}, &MalformedDocumentError{Field: "amount", Expected: "number", Got: nil}
	}
	amount, ok := Number(raw)
	if !ok {
		return Distance{}, &MalformedDocumentError{Field: "amount", Expected: "number", Got: raw}
	}

	units := ""
	if raw, ok := Lookup(doc, "units"); ok && raw != nil {
		units, ok = raw.(string)
		if !ok {
			return Distance{}, &MalformedDocumentError{Field: "units", Expected: "string", Got: raw}
		}
	}

	return NewDistance(amount, units), nil
}
