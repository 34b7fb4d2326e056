// Package pipeline composes encoding techniques into a layered, reversible
// transform. A forward pass produces one payload plus a metadata trail; the
// reverse pass consumes the trail back-to-front and recovers the input
// byte-for-byte.
package pipeline

import (
	"fmt"
	"math/rand"
	"time"

	"obfuslite/internal/codec"
	"obfuslite/internal/digest"
)

// MaxLayers bounds the stack depth. Each layer grows the payload; past ten
// the artifact size explodes with no obscurity gain.
const (
	MinLayers = 1
	MaxLayers = 10
)

// ConfigError reports an invalid pipeline configuration. It is raised during
// stack construction, before any encoding starts, so a bad configuration can
// never yield a partially transformed payload.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %v", e.Reason, e.Err)
	}
	return "config: " + e.Reason
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Layer is one (technique, seed) step of a stack. Ordinal is 1-based
// application order.
type Layer struct {
	Technique string `json:"technique"`
	Seed      int64  `json:"seed"`
	Ordinal   int    `json:"ordinal"`
}

// Stack is an ordered, immutable sequence of layers shared read-only by the
// forward and reverse passes.
type Stack struct {
	Layers []Layer
	Seed   int64
}

// Record is one entry of the metadata trail: everything needed to invert the
// layer at the same position.
type Record struct {
	Technique string                 `json:"technique"`
	Meta      map[string]interface{} `json:"meta"`
}

// Result is the outcome of a forward pass.
type Result struct {
	Payload        string   `json:"payload"`
	Trail          []Record `json:"trail"`
	Techniques     []string `json:"techniques"`
	Seed           int64    `json:"seed"`
	OriginalSize   int      `json:"original_size"`
	ObfuscatedSize int      `json:"obfuscated_size"`
	SourceDigest   string   `json:"source_digest"`
}

// NewSeed generates a run seed when the caller did not supply one. It is
// deliberately non-cryptographic: the seed is recorded in the result so the
// run stays reversible, and obscurity is the only goal.
func NewSeed() int64 {
	s := time.Now().UnixNano() ^ rand.Int63()
	if s < 0 {
		s = -s
	}
	return s
}

// BuildStack validates the requested technique sequence, layer count, and
// seed, and expands them into a stack. When the sequence is shorter than the
// layer count it repeats cyclically, so {xor, base64} at 4 layers runs
// xor, base64, xor, base64. Per-layer seeds are derived from the run seed.
func BuildStack(reg *codec.Registry, techniques []string, layers int, seed int64) (*Stack, error) {
	if len(techniques) == 0 {
		return nil, &ConfigError{Reason: "no techniques requested"}
	}
	if layers < MinLayers || layers > MaxLayers {
		return nil, &ConfigError{Reason: fmt.Sprintf("layer count %d outside %d..%d", layers, MinLayers, MaxLayers)}
	}
	if seed < 0 {
		return nil, &ConfigError{Reason: fmt.Sprintf("seed %d is negative", seed)}
	}
	for _, id := range techniques {
		if !reg.Has(id) {
			return nil, &ConfigError{
				Reason: fmt.Sprintf("technique %q", id),
				Err:    codec.ErrUnknownTechnique,
			}
		}
	}

	stack := &Stack{
		Layers: make([]Layer, layers),
		Seed:   seed,
	}
	for i := 0; i < layers; i++ {
		ordinal := i + 1
		stack.Layers[i] = Layer{
			Technique: techniques[i%len(techniques)],
			Seed:      digest.LayerSeed(seed, ordinal),
			Ordinal:   ordinal,
		}
	}
	return stack, nil
}

// Apply runs the forward pass: each layer's encoder consumes the previous
// layer's payload and appends its metadata to the trail.
func (s *Stack) Apply(reg *codec.Registry, text string) (*Result, error) {
	result := &Result{
		Trail:        make([]Record, 0, len(s.Layers)),
		Techniques:   make([]string, 0, len(s.Layers)),
		Seed:         s.Seed,
		OriginalSize: len(text),
		SourceDigest: digest.Blake3Hex([]byte(text)),
	}

	current := text
	for _, layer := range s.Layers {
		enc, err := reg.Lookup(layer.Technique)
		if err != nil {
			// Unreachable when the stack came from BuildStack; kept so a
			// hand-built stack fails loudly rather than emitting garbage.
			return nil, &ConfigError{Reason: fmt.Sprintf("layer %d", layer.Ordinal), Err: err}
		}

		rng := rand.New(rand.NewSource(layer.Seed))
		payload, meta, err := enc.Encode(current, rng)
		if err != nil {
			return nil, fmt.Errorf("layer %d (%s): %w", layer.Ordinal, layer.Technique, err)
		}

		result.Trail = append(result.Trail, Record{Technique: layer.Technique, Meta: meta})
		result.Techniques = append(result.Techniques, layer.Technique)
		current = payload
	}

	result.Payload = current
	result.ObfuscatedSize = len(current)
	return result, nil
}

// Reverse runs the inverse pass: the trail is consumed from the end, each
// record inverting the layer that produced it.
func Reverse(reg *codec.Registry, payload string, trail []Record) (string, error) {
	if len(trail) == 0 {
		return "", &ConfigError{Reason: "empty metadata trail"}
	}

	current := payload
	for i := len(trail) - 1; i >= 0; i-- {
		rec := trail[i]
		enc, err := reg.Lookup(rec.Technique)
		if err != nil {
			return "", &ConfigError{Reason: fmt.Sprintf("trail entry %d", i+1), Err: err}
		}

		text, err := enc.Decode(current, rec.Meta)
		if err != nil {
			return "", fmt.Errorf("reversing layer %d (%s): %w", i+1, rec.Technique, err)
		}
		current = text
	}
	return current, nil
}

// ReverseResult recovers the original text from a recorded forward pass.
func ReverseResult(reg *codec.Registry, result *Result) (string, error) {
	return Reverse(reg, result.Payload, result.Trail)
}
