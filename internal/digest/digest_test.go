package digest

import (
	"strings"
	"testing"
)

func TestCanonicalJSON_SortedKeys(t *testing.T) {
	input := map[string]interface{}{
		"zebra": 1,
		"alpha": map[string]interface{}{"y": 2, "x": 3},
		"mid":   []interface{}{"a", "b"},
	}

	got, err := CanonicalJSON(input)
	if err != nil {
		t.Fatalf("canonicalization failed: %v", err)
	}
	want := `{"alpha":{"x":3,"y":2},"mid":["a","b"],"zebra":1}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestCanonicalJSON_Deterministic(t *testing.T) {
	input := map[string]interface{}{
		"keys":   []interface{}{17, 3, 250, 91},
		"length": 1024,
		"map":    map[string]interface{}{"A": "q", "B": "r", "z": "s"},
	}

	first, err := CanonicalJSON(input)
	if err != nil {
		t.Fatalf("canonicalization failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := CanonicalJSON(input)
		if err != nil {
			t.Fatalf("canonicalization failed: %v", err)
		}
		if string(again) != string(first) {
			t.Fatal("canonical JSON not deterministic")
		}
	}
}

func TestCanonicalDigest(t *testing.T) {
	a := map[string]interface{}{"job": "app", "seed": int64(42), "layers": 2}
	b := map[string]interface{}{"layers": 2, "seed": int64(42), "job": "app"}

	da, err := CanonicalDigest(a)
	if err != nil {
		t.Fatalf("digest failed: %v", err)
	}
	db, err := CanonicalDigest(b)
	if err != nil {
		t.Fatalf("digest failed: %v", err)
	}
	if da != db {
		t.Error("equal values produced different digests")
	}
	if len(da) != 64 {
		t.Errorf("digest length %d, want 64 hex chars", len(da))
	}

	c := map[string]interface{}{"job": "app", "seed": int64(43), "layers": 2}
	dc, err := CanonicalDigest(c)
	if err != nil {
		t.Fatalf("digest failed: %v", err)
	}
	if dc == da {
		t.Error("different values produced the same digest")
	}
}

func TestBlake3Hex(t *testing.T) {
	h1 := Blake3Hex([]byte("print(1)"))
	h2 := Blake3Hex([]byte("print(2)"))

	if len(h1) != 64 {
		t.Errorf("digest length %d, want 64 hex chars", len(h1))
	}
	if h1 == h2 {
		t.Error("different inputs hashed identically")
	}
	if h1 != Blake3Hex([]byte("print(1)")) {
		t.Error("digest not deterministic")
	}
	if strings.ToLower(h1) != h1 {
		t.Error("digest not lowercase hex")
	}
}

func TestLayerSeed(t *testing.T) {
	s1 := LayerSeed(42, 1)
	if s1 < 0 {
		t.Errorf("derived seed %d is negative", s1)
	}
	if s1 != LayerSeed(42, 1) {
		t.Error("derivation not deterministic")
	}
	if s1 == LayerSeed(42, 2) {
		t.Error("different ordinals produced the same seed")
	}
	if s1 == LayerSeed(43, 1) {
		t.Error("different run seeds produced the same seed")
	}
}
