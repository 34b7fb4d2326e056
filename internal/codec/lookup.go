package codec

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
)

// lookupEncoder replaces every distinct character with a numbered token from
// a seed-shuffled table. Tokens have the fixed shape #NNNN#, which caps the
// table at 10000 distinct characters; source text never gets close.
type lookupEncoder struct{}

func (e *lookupEncoder) ID() string { return "lookup" }

func (e *lookupEncoder) Describe() string {
	return "character lookup table substitution"
}

func (e *lookupEncoder) Encode(text string, rng *rand.Rand) (string, map[string]interface{}, error) {
	seen := make(map[rune]bool)
	var chars []rune
	for _, r := range text {
		if !seen[r] {
			seen[r] = true
			chars = append(chars, r)
		}
	}
	if len(chars) > 10000 {
		return "", nil, fmt.Errorf("text has %d distinct characters, lookup supports at most 10000", len(chars))
	}

	// Stable base order before the seeded shuffle, so identical seeds give
	// identical tables regardless of input iteration quirks.
	sort.Slice(chars, func(i, j int) bool { return chars[i] < chars[j] })
	rng.Shuffle(len(chars), func(i, j int) {
		chars[i], chars[j] = chars[j], chars[i]
	})

	table := make(map[rune]string, len(chars))
	subst := make(map[string]interface{}, len(chars))
	for i, r := range chars {
		token := fmt.Sprintf("#%04d#", i)
		table[r] = token
		subst[string(r)] = token
	}

	var sb strings.Builder
	for _, r := range text {
		sb.WriteString(table[r])
	}

	meta := map[string]interface{}{
		"table": subst,
	}
	return sb.String(), meta, nil
}

func (e *lookupEncoder) Decode(payload string, meta map[string]interface{}) (string, error) {
	v, err := metaField(meta, "table")
	if err != nil {
		return "", err
	}
	table, err := asStringMap(v)
	if err != nil {
		return "", err
	}

	reverse := make(map[string]string, len(table))
	for ch, token := range table {
		reverse[token] = ch
	}

	var sb strings.Builder
	for i := 0; i < len(payload); {
		if payload[i] != '#' {
			return "", fmt.Errorf("malformed token stream at offset %d", i)
		}
		end := strings.IndexByte(payload[i+1:], '#')
		if end < 0 {
			return "", fmt.Errorf("unterminated token at offset %d", i)
		}
		token := payload[i : i+end+2]
		ch, ok := reverse[token]
		if !ok {
			return "", fmt.Errorf("token %q not in table", token)
		}
		sb.WriteString(ch)
		i += end + 2
	}
	return sb.String(), nil
}

func (e *lookupEncoder) PythonDecoder() string {
	return `def _dec_lookup(payload, meta):
    import re
    rev = {v: k for k, v in meta["table"].items()}
    return "".join(rev[t] for t in re.findall(r"#\d{4}#", payload))`
}
