// Package codec provides the reversible encoding techniques used to obscure
// merged source text, and the registry that maps technique identifiers to
// encoders.
//
// Every encoder is a bijection: Decode(Encode(text)) returns text
// byte-for-byte, for any text including the empty string. Encoding draws all
// of its randomness from the caller-supplied *rand.Rand, so a run is
// reproducible from its seed. The metadata an encoder emits is exactly what
// its Decode needs; it round-trips through JSON, which is why numeric values
// must be read back with the asInt helpers (JSON turns them into float64).
package codec

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

// ErrUnknownTechnique is returned by Registry.Lookup for identifiers that no
// encoder claims.
var ErrUnknownTechnique = errors.New("unknown technique")

// Encoder is one obscuring technique.
type Encoder interface {
	// ID returns the technique identifier used in layer stacks and artifacts.
	ID() string

	// Encode transforms text into an opaque payload plus the metadata needed
	// to invert the step. All randomness comes from rng.
	Encode(text string, rng *rand.Rand) (payload string, meta map[string]interface{}, err error)

	// Decode inverts Encode exactly.
	Decode(payload string, meta map[string]interface{}) (string, error)

	// PythonDecoder returns the Python source of a function equivalent to
	// Decode, named "_dec_<id>", for embedding in standalone artifacts.
	PythonDecoder() string

	// Describe returns a one-line human description of the technique.
	Describe() string
}

// Registry maps technique identifiers to encoders. It is populated once by
// NewRegistry and never mutated afterwards, so concurrent lookups from batch
// workers need no locking.
type Registry struct {
	encoders map[string]Encoder
}

// NewRegistry builds the registry with every built-in technique.
func NewRegistry() *Registry {
	r := &Registry{encoders: make(map[string]Encoder)}
	for _, enc := range []Encoder{
		&xorEncoder{},
		&base64Encoder{},
		&rotationEncoder{},
		&binaryEncoder{},
		&lookupEncoder{},
		&hashEncoder{},
	} {
		r.encoders[enc.ID()] = enc
	}
	return r
}

// Lookup returns the encoder for a technique identifier.
func (r *Registry) Lookup(id string) (Encoder, error) {
	enc, ok := r.encoders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTechnique, id)
	}
	return enc, nil
}

// Has reports whether a technique identifier is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.encoders[id]
	return ok
}

// Techniques returns all registered identifiers, sorted.
func (r *Registry) Techniques() []string {
	ids := make([]string, 0, len(r.encoders))
	for id := range r.encoders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// asInt reads an integer out of JSON-round-tripped metadata.
func asInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("metadata value %v is not a number", v)
	}
}

// asInts reads an integer slice out of JSON-round-tripped metadata.
func asInts(v interface{}) ([]int, error) {
	switch s := v.(type) {
	case []int:
		return s, nil
	case []interface{}:
		out := make([]int, len(s))
		for i, e := range s {
			n, err := asInt(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("metadata value %v is not a number list", v)
	}
}

// asStringMap reads a string-to-string map out of JSON-round-tripped metadata.
func asStringMap(v interface{}) (map[string]string, error) {
	switch m := v.(type) {
	case map[string]string:
		return m, nil
	case map[string]interface{}:
		out := make(map[string]string, len(m))
		for k, e := range m {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("metadata value for %q is not a string", k)
			}
			out[k] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("metadata value %v is not a string map", v)
	}
}

// metaField fetches a required metadata key.
func metaField(meta map[string]interface{}, key string) (interface{}, error) {
	v, ok := meta[key]
	if !ok {
		return nil, fmt.Errorf("metadata missing %q", key)
	}
	return v, nil
}
