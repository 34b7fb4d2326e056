package codec

import (
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"testing"
)

var sampleTexts = []string{
	"",
	"print(1)",
	"def main():\n    return 'hello'\n",
	"x = [i ** 2 for i in range(10)]\n# comment with symbols !@#$%^&*()\n",
	"s = \"unicode: héllo wörld ünïcode 你好\"\n",
	"if __name__ == \"__main__\":\n    main()\n",
}

func TestRoundTrip_AllTechniques(t *testing.T) {
	reg := NewRegistry()

	for _, id := range reg.Techniques() {
		enc, err := reg.Lookup(id)
		if err != nil {
			t.Fatalf("lookup %q: %v", id, err)
		}

		for _, text := range sampleTexts {
			payload, meta, err := enc.Encode(text, rand.New(rand.NewSource(42)))
			if err != nil {
				t.Fatalf("%s: encode failed: %v", id, err)
			}

			got, err := enc.Decode(payload, meta)
			if err != nil {
				t.Fatalf("%s: decode failed: %v", id, err)
			}
			if got != text {
				t.Errorf("%s: round trip mismatch:\n got %q\nwant %q", id, got, text)
			}
		}
	}
}

// Metadata crosses a JSON boundary on the deobfuscate path; decoding must
// accept the float64 numbers and map[string]interface{} values it produces.
func TestRoundTrip_ThroughJSON(t *testing.T) {
	reg := NewRegistry()
	text := "def f(x):\n    return x * 2\n"

	for _, id := range reg.Techniques() {
		enc, _ := reg.Lookup(id)

		payload, meta, err := enc.Encode(text, rand.New(rand.NewSource(7)))
		if err != nil {
			t.Fatalf("%s: encode failed: %v", id, err)
		}

		data, err := json.Marshal(meta)
		if err != nil {
			t.Fatalf("%s: marshaling metadata: %v", id, err)
		}
		var roundTripped map[string]interface{}
		if err := json.Unmarshal(data, &roundTripped); err != nil {
			t.Fatalf("%s: unmarshaling metadata: %v", id, err)
		}

		got, err := enc.Decode(payload, roundTripped)
		if err != nil {
			t.Fatalf("%s: decode after JSON round trip failed: %v", id, err)
		}
		if got != text {
			t.Errorf("%s: mismatch after JSON round trip", id)
		}
	}
}

func TestEncode_DeterministicForSeed(t *testing.T) {
	reg := NewRegistry()
	text := "value = compute(1, 2, 3)\n"

	for _, id := range reg.Techniques() {
		enc, _ := reg.Lookup(id)

		p1, m1, err := enc.Encode(text, rand.New(rand.NewSource(99)))
		if err != nil {
			t.Fatalf("%s: encode failed: %v", id, err)
		}
		p2, m2, err := enc.Encode(text, rand.New(rand.NewSource(99)))
		if err != nil {
			t.Fatalf("%s: encode failed: %v", id, err)
		}

		if p1 != p2 {
			t.Errorf("%s: same seed produced different payloads", id)
		}

		j1, _ := json.Marshal(m1)
		j2, _ := json.Marshal(m2)
		if string(j1) != string(j2) {
			t.Errorf("%s: same seed produced different metadata", id)
		}
	}
}

func TestEncode_SeedChangesPayload(t *testing.T) {
	reg := NewRegistry()
	enc, _ := reg.Lookup("xor")
	text := "print('seed sensitivity')\n"

	p1, _, err := enc.Encode(text, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	p2, _, err := enc.Encode(text, rand.New(rand.NewSource(2)))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	if p1 == p2 {
		t.Error("different seeds produced identical xor payloads")
	}
}

func TestRegistry_UnknownTechnique(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Lookup("quantum")
	if err == nil {
		t.Fatal("expected error for unknown technique")
	}
	if !errors.Is(err, ErrUnknownTechnique) {
		t.Errorf("expected ErrUnknownTechnique, got %v", err)
	}
}

func TestRegistry_Techniques(t *testing.T) {
	reg := NewRegistry()

	ids := reg.Techniques()
	want := []string{"base64", "binary", "hash", "lookup", "rotation", "xor"}
	if len(ids) != len(want) {
		t.Fatalf("expected %d techniques, got %d: %v", len(want), len(ids), ids)
	}
	for i, id := range want {
		if ids[i] != id {
			t.Errorf("techniques[%d] = %q, want %q", i, ids[i], id)
		}
	}
}

func TestPythonDecoder_NamedForTechnique(t *testing.T) {
	reg := NewRegistry()

	for _, id := range reg.Techniques() {
		enc, _ := reg.Lookup(id)
		src := enc.PythonDecoder()
		wantName := "def _dec_" + id + "("
		if !strings.Contains(src, wantName) {
			t.Errorf("%s: python decoder does not define %s", id, wantName)
		}
	}
}
