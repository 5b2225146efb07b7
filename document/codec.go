package document

// Codec converts one custom value type between its canonical in-memory
// representation and a document-safe primitive.
//
// The three methods obey:
//
//   - Decode(Encode(v)) == v for every canonical value v.
//   - Normalize converges any accepted input shape (typed value, raw
//     primitive, partially-formed mapping) to the same canonical primitive.
//   - Encode is idempotent under redundant encoding: feeding its own output
//     back through Encode returns it unchanged.
//
// Decode fails with *MalformedDocumentError on a primitive of the wrong
// shape.
type Codec interface {
	// Encode converts a typed value (or anything Normalize accepts) to its
	// canonical document-safe primitive.
	Encode(v any) (any, error)

	// Decode converts a document-safe primitive back to the typed value.
	Decode(v any) (any, error)

	// Normalize converts any accepted input to the canonical primitive form.
	Normalize(v any) (any, error)
}

// Registry maps codec names to codecs. Field definitions refer to codecs by
// name so that entity metadata stays declarative.
type Registry struct {
	codecs map[string]Codec
}

// NewRegistry creates an empty codec registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Codec)}
}

// DefaultRegistry returns a registry with the built-in codecs registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(DistanceCodecName, DistanceCodec{})
	r.Register(GeoPointCodecName, GeoPointCodec{})
	return r
}

// Register adds a codec under name, replacing any previous registration.
func (r *Registry) Register(name string, c Codec) {
	r.codecs[name] = c
}

// Lookup returns the codec registered under name.
func (r *Registry) Lookup(name string) (Codec, bool) {
	c, ok := r.codecs[name]
	return c, ok
}
