// Package digest provides BLAKE3 hashing and canonical JSON serialization.
// Digests identify merged source texts and ledger entries; canonical JSON
// keeps metadata hashing stable across map iteration order.
package digest

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"sort"

	"lukechampine.com/blake3"
)

// CanonicalJSON renders a value as JSON with every object's keys sorted, so
// equal values always serialize to identical bytes regardless of map
// iteration order. Values pass through a generic JSON round trip first, which
// normalizes struct fields and numbers the same way encoding/json would.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(raw)
		return nil
	}
}

// CanonicalDigest fingerprints a value: BLAKE3 over its canonical JSON.
// Equal values get equal digests, whatever map order they were built in.
func CanonicalDigest(v interface{}) (string, error) {
	raw, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return Blake3Hex(raw), nil
}

// Blake3Hash computes a BLAKE3 hash of the input and returns it as bytes.
func Blake3Hash(data []byte) []byte {
	hash := blake3.Sum256(data)
	return hash[:]
}

// Blake3Hex computes a BLAKE3 hash and returns it as a hex string.
func Blake3Hex(data []byte) string {
	return hex.EncodeToString(Blake3Hash(data))
}

// LayerSeed derives the seed for one pipeline layer from the run seed and the
// layer ordinal. The derivation is pure, so a single recorded run seed
// reproduces every layer's key material.
func LayerSeed(runSeed int64, ordinal int) int64 {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(runSeed))
	binary.BigEndian.PutUint64(buf[8:], uint64(ordinal))

	sum := blake3.Sum256(buf[:])
	derived := int64(binary.BigEndian.Uint64(sum[:8]))
	if derived < 0 {
		derived = -derived
	}
	return derived
}
