package codec

import (
	"encoding/base64"
	"math/rand"
)

// rotationEncoder applies three seed-derived Caesar rotations to ASCII
// letters and base64-encodes the result. Non-letter characters pass through
// the rotations untouched.
type rotationEncoder struct{}

func (e *rotationEncoder) ID() string { return "rotation" }

func (e *rotationEncoder) Describe() string {
	return "multi-round Caesar rotation"
}

func (e *rotationEncoder) Encode(text string, rng *rand.Rand) (string, map[string]interface{}, error) {
	rotations := make([]int, 3)
	for i := range rotations {
		rotations[i] = rng.Intn(25) + 1
	}

	rotated := []rune(text)
	for _, rot := range rotations {
		for i, r := range rotated {
			rotated[i] = rotateRune(r, rot)
		}
	}

	meta := map[string]interface{}{
		"rotations": rotations,
	}
	return base64.StdEncoding.EncodeToString([]byte(string(rotated))), meta, nil
}

func (e *rotationEncoder) Decode(payload string, meta map[string]interface{}) (string, error) {
	v, err := metaField(meta, "rotations")
	if err != nil {
		return "", err
	}
	rotations, err := asInts(v)
	if err != nil {
		return "", err
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", err
	}

	rotated := []rune(string(data))
	for i := len(rotations) - 1; i >= 0; i-- {
		for j, r := range rotated {
			rotated[j] = rotateRune(r, -rotations[i])
		}
	}
	return string(rotated), nil
}

// rotateRune shifts ASCII letters within their case; rot may be negative.
func rotateRune(r rune, rot int) rune {
	switch {
	case r >= 'a' && r <= 'z':
		return 'a' + (r-'a'+rune(rot)+26)%26
	case r >= 'A' && r <= 'Z':
		return 'A' + (r-'A'+rune(rot)+26)%26
	default:
		return r
	}
}

func (e *rotationEncoder) PythonDecoder() string {
	return `def _dec_rotation(payload, meta):
    import base64
    text = base64.b64decode(payload).decode("utf-8")
    for rot in reversed(meta["rotations"]):
        out = []
        for ch in text:
            if "a" <= ch <= "z":
                out.append(chr((ord(ch) - ord("a") - rot) % 26 + ord("a")))
            elif "A" <= ch <= "Z":
                out.append(chr((ord(ch) - ord("A") - rot) % 26 + ord("A")))
            else:
                out.append(ch)
        text = "".join(out)
    return text`
}
