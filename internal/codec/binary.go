package codec

import (
	"encoding/base64"
	"math/bits"
	"math/rand"
)

// binaryEncoder rotates every byte of the text left by a seed-derived bit
// count and base64-encodes the result.
type binaryEncoder struct{}

func (e *binaryEncoder) ID() string { return "binary" }

func (e *binaryEncoder) Describe() string {
	return "per-byte bit rotation"
}

func (e *binaryEncoder) Encode(text string, rng *rand.Rand) (string, map[string]interface{}, error) {
	shift := rng.Intn(7) + 1

	data := []byte(text)
	for i := range data {
		data[i] = bits.RotateLeft8(data[i], shift)
	}

	meta := map[string]interface{}{
		"shift": shift,
	}
	return base64.StdEncoding.EncodeToString(data), meta, nil
}

func (e *binaryEncoder) Decode(payload string, meta map[string]interface{}) (string, error) {
	v, err := metaField(meta, "shift")
	if err != nil {
		return "", err
	}
	shift, err := asInt(v)
	if err != nil {
		return "", err
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", err
	}
	for i := range data {
		data[i] = bits.RotateLeft8(data[i], -shift)
	}
	return string(data), nil
}

func (e *binaryEncoder) PythonDecoder() string {
	return `def _dec_binary(payload, meta):
    import base64
    s = meta["shift"]
    data = base64.b64decode(payload)
    out = bytes(((b >> s) | (b << (8 - s))) & 0xFF for b in data)
    return out.decode("utf-8")`
}
