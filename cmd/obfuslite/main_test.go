package main

import (
	"path/filepath"
	"testing"
)

func TestUnitName(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"app.py", "app"},
		{filepath.Join("src", "pkg", "util.py"), "util"},
		{"noext", "noext"},
	}
	for _, tc := range cases {
		if got := unitName(tc.path); got != tc.want {
			t.Errorf("unitName(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestLoadUnits_DuplicateNamesRejected(t *testing.T) {
	_, err := loadUnits([]string{"a/util.py", "b/util.py"})
	if err == nil {
		t.Error("expected error for colliding unit names")
	}
}

func TestLoadUnits_PathsPreserved(t *testing.T) {
	units, err := loadUnits([]string{"app.py", filepath.Join("lib", "helpers.py")})
	if err != nil {
		t.Fatalf("loadUnits failed: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("got %d units", len(units))
	}
	if units[0].Name != "app" || units[1].Name != "helpers" {
		t.Errorf("names = %q, %q", units[0].Name, units[1].Name)
	}
	if units[1].Path != filepath.Join("lib", "helpers.py") {
		t.Errorf("path = %q", units[1].Path)
	}
}
