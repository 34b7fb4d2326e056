package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"math/rand"

	"github.com/klauspost/compress/zlib"
)

// xorEncoder cycles four seed-derived keys over the text bytes, deflates the
// result, and base64-encodes it.
type xorEncoder struct{}

func (e *xorEncoder) ID() string { return "xor" }

func (e *xorEncoder) Describe() string {
	return "multi-key XOR with zlib compression"
}

func (e *xorEncoder) Encode(text string, rng *rand.Rand) (string, map[string]interface{}, error) {
	keys := make([]int, 4)
	for i := range keys {
		keys[i] = rng.Intn(255) + 1
	}

	data := []byte(text)
	for i := range data {
		data[i] ^= byte(keys[i%len(keys)])
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return "", nil, fmt.Errorf("compressing: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", nil, fmt.Errorf("closing compressor: %w", err)
	}

	meta := map[string]interface{}{
		"keys":   keys,
		"length": len(text),
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), meta, nil
}

func (e *xorEncoder) Decode(payload string, meta map[string]interface{}) (string, error) {
	v, err := metaField(meta, "keys")
	if err != nil {
		return "", err
	}
	keys, err := asInts(v)
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("empty key list")
	}

	compressed, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("decoding base64: %w", err)
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return "", fmt.Errorf("opening decompressor: %w", err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return "", fmt.Errorf("decompressing: %w", err)
	}

	for i := range data {
		data[i] ^= byte(keys[i%len(keys)])
	}
	return string(data), nil
}

func (e *xorEncoder) PythonDecoder() string {
	return `def _dec_xor(payload, meta):
    import base64, zlib
    data = bytearray(zlib.decompress(base64.b64decode(payload)))
    keys = meta["keys"]
    for i in range(len(data)):
        data[i] ^= keys[i % len(keys)]
    return bytes(data).decode("utf-8")`
}
