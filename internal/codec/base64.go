package codec

import (
	"encoding/base64"
	"math/rand"
	"strings"
)

// b64Alphabet is every character a standard base64 encoding can emit.
const b64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/="

// base64Encoder base64-encodes the text and then substitutes each character
// through a seed-derived permutation of the base64 alphabet.
type base64Encoder struct{}

func (e *base64Encoder) ID() string { return "base64" }

func (e *base64Encoder) Describe() string {
	return "base64 with alphabet substitution"
}

func (e *base64Encoder) Encode(text string, rng *rand.Rand) (string, map[string]interface{}, error) {
	shuffled := []byte(b64Alphabet)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	subst := make(map[string]string, len(b64Alphabet))
	table := make(map[byte]byte, len(b64Alphabet))
	for i := 0; i < len(b64Alphabet); i++ {
		subst[string(b64Alphabet[i])] = string(shuffled[i])
		table[b64Alphabet[i]] = shuffled[i]
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(text))
	var sb strings.Builder
	sb.Grow(len(encoded))
	for i := 0; i < len(encoded); i++ {
		sb.WriteByte(table[encoded[i]])
	}

	meta := map[string]interface{}{
		"map": subst,
	}
	return sb.String(), meta, nil
}

func (e *base64Encoder) Decode(payload string, meta map[string]interface{}) (string, error) {
	v, err := metaField(meta, "map")
	if err != nil {
		return "", err
	}
	subst, err := asStringMap(v)
	if err != nil {
		return "", err
	}

	reverse := make(map[byte]byte, len(subst))
	for from, to := range subst {
		if len(from) == 1 && len(to) == 1 {
			reverse[to[0]] = from[0]
		}
	}

	var sb strings.Builder
	sb.Grow(len(payload))
	for i := 0; i < len(payload); i++ {
		c := payload[i]
		if orig, ok := reverse[c]; ok {
			c = orig
		}
		sb.WriteByte(c)
	}

	data, err := base64.StdEncoding.DecodeString(sb.String())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (e *base64Encoder) PythonDecoder() string {
	return `def _dec_base64(payload, meta):
    import base64
    rev = {v: k for k, v in meta["map"].items()}
    raw = "".join(rev.get(c, c) for c in payload)
    return base64.b64decode(raw).decode("utf-8")`
}
