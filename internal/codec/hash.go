package codec

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strings"
)

// hashEncoder splits the text into 8-rune chunks and replaces each chunk
// with a short MD5 digest, keeping a digest-to-chunk table as metadata. The
// digest is identification, not protection; when two distinct chunks collide
// on the short prefix the prefix grows until they differ.
type hashEncoder struct{}

const hashChunkRunes = 8

func (e *hashEncoder) ID() string { return "hash" }

func (e *hashEncoder) Describe() string {
	return "hashed chunk substitution"
}

func (e *hashEncoder) Encode(text string, _ *rand.Rand) (string, map[string]interface{}, error) {
	runes := []rune(text)

	chunks := make(map[string]interface{})
	var keys []string
	for i := 0; i < len(runes); i += hashChunkRunes {
		end := i + hashChunkRunes
		if end > len(runes) {
			end = len(runes)
		}
		chunk := string(runes[i:end])

		sum := md5.Sum([]byte(chunk))
		full := hex.EncodeToString(sum[:])

		// Grow the key on prefix collisions between distinct chunks.
		key := full[:8]
		for n := 8; n <= len(full); n += 8 {
			key = full[:n]
			prev, exists := chunks[key]
			if !exists || prev == chunk {
				break
			}
		}
		if prev, exists := chunks[key]; exists && prev != chunk {
			return "", nil, fmt.Errorf("chunk digest collision on %q", key)
		}

		chunks[key] = chunk
		keys = append(keys, key)
	}

	meta := map[string]interface{}{
		"chunks": chunks,
	}
	return strings.Join(keys, "|"), meta, nil
}

func (e *hashEncoder) Decode(payload string, meta map[string]interface{}) (string, error) {
	v, err := metaField(meta, "chunks")
	if err != nil {
		return "", err
	}
	chunks, err := asStringMap(v)
	if err != nil {
		return "", err
	}

	if payload == "" {
		return "", nil
	}

	var sb strings.Builder
	for _, key := range strings.Split(payload, "|") {
		chunk, ok := chunks[key]
		if !ok {
			return "", fmt.Errorf("chunk %q not in table", key)
		}
		sb.WriteString(chunk)
	}
	return sb.String(), nil
}

func (e *hashEncoder) PythonDecoder() string {
	return `def _dec_hash(payload, meta):
    if not payload:
        return ""
    chunks = meta["chunks"]
    return "".join(chunks[k] for k in payload.split("|"))`
}
