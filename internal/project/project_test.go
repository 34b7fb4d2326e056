package project

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func writeManifest(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "obfuslite.yaml")
	writeFile(t, path, content)
	return path
}

func TestLoad_ResolvesJobs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "main.py"), "import pkg.util\n")
	writeFile(t, filepath.Join(dir, "src", "pkg", "util.py"), "U = 1\n")
	writeFile(t, filepath.Join(dir, "src", "pkg", "extra.py"), "E = 1\n")

	path := writeManifest(t, dir, `root: src
defaults:
  techniques: [xor]
  layers: 3
jobs:
  - name: app
    units: ["**/*.py"]
    seed: 42
    output: dist/app.py
`)

	m, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	jobs, err := m.Resolve()
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if len(jobs) != 1 {
		t.Fatalf("got %d jobs", len(jobs))
	}
	job := jobs[0]
	if job.Name != "app" || job.Layers != 3 {
		t.Errorf("job = %+v", job)
	}
	if len(job.Techniques) != 1 || job.Techniques[0] != "xor" {
		t.Errorf("techniques = %v", job.Techniques)
	}
	if job.Seed == nil || *job.Seed != 42 {
		t.Errorf("seed = %v", job.Seed)
	}
	if job.Output != filepath.Join(dir, "dist", "app.py") {
		t.Errorf("output = %q", job.Output)
	}

	wantUnits := []string{"main", "pkg.extra", "pkg.util"}
	if len(job.Units) != len(wantUnits) {
		t.Fatalf("units = %+v, want names %v", job.Units, wantUnits)
	}
	for i, want := range wantUnits {
		if job.Units[i].Name != want {
			t.Errorf("units[%d].Name = %q, want %q", i, job.Units[i].Name, want)
		}
	}
}

func TestLoad_JobOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "m.py"), "M = 1\n")

	path := writeManifest(t, dir, `root: src
defaults:
  techniques: [xor]
  layers: 2
jobs:
  - name: custom
    units: ["m.py"]
    techniques: [base64, rotation]
    layers: 5
`)

	m, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	jobs, err := m.Resolve()
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	job := jobs[0]
	if job.Layers != 5 {
		t.Errorf("layers = %d, want 5", job.Layers)
	}
	if len(job.Techniques) != 2 || job.Techniques[0] != "base64" {
		t.Errorf("techniques = %v", job.Techniques)
	}
	if job.Seed != nil {
		t.Errorf("seed should be nil, got %v", *job.Seed)
	}
}

func TestLoad_EmptyPatternFails(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "m.py"), "M = 1\n")

	path := writeManifest(t, dir, `root: src
jobs:
  - name: typo
    units: ["nothing/*.py"]
`)

	m, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if _, err := m.Resolve(); err == nil {
		t.Error("expected error for pattern matching nothing")
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name     string
		manifest string
	}{
		{"no jobs", "root: src\njobs: []\n"},
		{"unnamed job", "jobs:\n  - units: [\"*.py\"]\n"},
		{"duplicate names", "jobs:\n  - name: a\n    units: [\"*.py\"]\n  - name: a\n    units: [\"*.py\"]\n"},
		{"no units", "jobs:\n  - name: a\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeManifest(t, t.TempDir(), tc.manifest)
			if _, err := Load(path); err == nil {
				t.Errorf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestUnitName(t *testing.T) {
	cases := []struct {
		rel  string
		want string
	}{
		{"main.py", "main"},
		{filepath.Join("pkg", "util.py"), "pkg.util"},
		{filepath.Join("a", "b", "c.py"), "a.b.c"},
	}
	for _, tc := range cases {
		got, err := UnitName("/proj/src", filepath.Join("/proj/src", tc.rel))
		if err != nil {
			t.Fatalf("%s: %v", tc.rel, err)
		}
		if got != tc.want {
			t.Errorf("UnitName(%q) = %q, want %q", tc.rel, got, tc.want)
		}
	}
}
