package batch

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"obfuslite/internal/graph"
)

func seedPtr(v int64) *int64 { return &v }

func TestRun_SingleJobSuccess(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "app.py")

	jobs := []Job{{
		Name: "app",
		Units: []UnitSource{
			{Name: "main", Source: "import helpers\n\ndef run():\n    return helpers.answer()\n"},
			{Name: "helpers", Source: "def answer():\n    return 42\n"},
		},
		Techniques: []string{"xor", "base64"},
		Layers:     2,
		Seed:       seedPtr(42),
		Output:     out,
	}}

	results := Run(context.Background(), jobs, Options{Workers: 1})
	if len(results) != 1 {
		t.Fatalf("got %d results", len(results))
	}
	res := results[0]
	if res.Status != StatusSuccess {
		t.Fatalf("status = %s, err = %v", res.Status, res.Err)
	}
	if res.Seed != 42 {
		t.Errorf("seed = %d, want 42", res.Seed)
	}
	if len(res.FailedUnits) != 0 || len(res.Warnings) != 0 {
		t.Errorf("unexpected failures %v / warnings %v", res.FailedUnits, res.Warnings)
	}

	written, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
	if string(written) != res.Artifact {
		t.Error("written artifact differs from result artifact")
	}
	if !strings.HasPrefix(res.Artifact, "#!/usr/bin/env python3") {
		t.Error("artifact is not a python document")
	}
}

func TestRun_ResultsInJobOrder(t *testing.T) {
	var jobs []Job
	for _, name := range []string{"one", "two", "three", "four"} {
		jobs = append(jobs, Job{
			Name:       name,
			Units:      []UnitSource{{Name: "m", Source: "X = 1\n"}},
			Techniques: []string{"rotation"},
			Layers:     1,
			Seed:       seedPtr(7),
		})
	}

	results := Run(context.Background(), jobs, Options{Workers: 4})
	for i, res := range results {
		if res.Job != jobs[i].Name {
			t.Errorf("results[%d].Job = %q, want %q", i, res.Job, jobs[i].Name)
		}
		if res.Status != StatusSuccess {
			t.Errorf("job %s: status = %s, err = %v", res.Job, res.Status, res.Err)
		}
	}
}

func TestRun_BrokenUnitExcluded(t *testing.T) {
	jobs := []Job{{
		Name: "partial",
		Units: []UnitSource{
			{Name: "good", Source: "G = 1\n"},
			{Name: "broken", Source: "def broken(:\n    pass\n"},
		},
		Techniques: []string{"xor"},
		Layers:     1,
		Seed:       seedPtr(1),
	}}

	res := Run(context.Background(), jobs, Options{})[0]
	if res.Status != StatusSuccess {
		t.Fatalf("status = %s, err = %v", res.Status, res.Err)
	}
	if len(res.FailedUnits) != 1 || res.FailedUnits[0] != "broken" {
		t.Errorf("failed units = %v, want [broken]", res.FailedUnits)
	}
}

func TestRun_BrokenUnitImportDegrades(t *testing.T) {
	jobs := []Job{{
		Name: "degraded",
		Units: []UnitSource{
			{Name: "app", Source: "import broken\nA = 1\n"},
			{Name: "broken", Source: "def broken(:\n"},
		},
		Techniques: []string{"xor"},
		Layers:     1,
		Seed:       seedPtr(1),
	}}

	res := Run(context.Background(), jobs, Options{})[0]
	if res.Status != StatusSuccess {
		t.Fatalf("status = %s, err = %v", res.Status, res.Err)
	}

	var retained bool
	for _, w := range res.Warnings {
		if w.Kind == graph.WarnRetainedImport {
			retained = true
		}
	}
	if !retained {
		t.Errorf("expected retained-import warning, got %v", res.Warnings)
	}
}

func TestRun_AllUnitsBroken(t *testing.T) {
	jobs := []Job{{
		Name:       "hopeless",
		Units:      []UnitSource{{Name: "only", Source: "def broken(:\n"}},
		Techniques: []string{"xor"},
		Layers:     1,
	}}

	res := Run(context.Background(), jobs, Options{})[0]
	if res.Status != StatusParseError {
		t.Errorf("status = %s, want %s", res.Status, StatusParseError)
	}
	if res.Err == nil {
		t.Error("expected an error")
	}
}

func TestRun_ConfigError(t *testing.T) {
	jobs := []Job{{
		Name:       "bad",
		Units:      []UnitSource{{Name: "m", Source: "X = 1\n"}},
		Techniques: []string{"no-such-technique"},
		Layers:     1,
	}}

	res := Run(context.Background(), jobs, Options{})[0]
	if res.Status != StatusConfigError {
		t.Errorf("status = %s, want %s", res.Status, StatusConfigError)
	}
}

func TestRun_MissingInputFile(t *testing.T) {
	jobs := []Job{{
		Name:       "gone",
		Units:      []UnitSource{{Name: "m", Path: filepath.Join(t.TempDir(), "nope.py")}},
		Techniques: []string{"xor"},
		Layers:     1,
	}}

	res := Run(context.Background(), jobs, Options{})[0]
	if res.Status != StatusIO {
		t.Errorf("status = %s, want %s", res.Status, StatusIO)
	}
}

func TestRun_FailureDoesNotStopOthers(t *testing.T) {
	jobs := []Job{
		{Name: "bad", Units: []UnitSource{{Name: "m", Source: "X = 1\n"}}, Techniques: []string{"nope"}, Layers: 1},
		{Name: "good", Units: []UnitSource{{Name: "m", Source: "X = 1\n"}}, Techniques: []string{"xor"}, Layers: 1, Seed: seedPtr(3)},
	}

	results := Run(context.Background(), jobs, Options{Workers: 1})
	if results[0].Status != StatusConfigError {
		t.Errorf("bad job status = %s", results[0].Status)
	}
	if results[1].Status != StatusSuccess {
		t.Errorf("good job status = %s, err = %v", results[1].Status, results[1].Err)
	}
}

func TestRun_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	jobs := []Job{{
		Name:       "never",
		Units:      []UnitSource{{Name: "m", Source: "X = 1\n"}},
		Techniques: []string{"xor"},
		Layers:     1,
	}}

	res := Run(ctx, jobs, Options{})[0]
	if res.Status != StatusCanceled {
		t.Errorf("status = %s, want %s", res.Status, StatusCanceled)
	}
}

func TestRun_LogsElapsedDuration(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf)

	jobs := []Job{{
		Name:       "timed",
		Units:      []UnitSource{{Name: "m", Source: "X = 1\n"}},
		Techniques: []string{"xor"},
		Layers:     1,
		Seed:       seedPtr(5),
	}}

	res := Run(context.Background(), jobs, Options{Logger: logger})[0]
	if res.Status != StatusSuccess {
		t.Fatalf("status = %s, err = %v", res.Status, res.Err)
	}
	if res.Duration <= 0 {
		t.Errorf("duration = %v, want > 0", res.Duration)
	}

	out := buf.String()
	if !strings.Contains(out, "took=") {
		t.Fatalf("no duration logged:\n%s", out)
	}
	if strings.Contains(out, "took=0s") {
		t.Errorf("logged zero elapsed time:\n%s", out)
	}
}

func TestRun_PinnedSeedReproducible(t *testing.T) {
	job := Job{
		Name:       "repro",
		Units:      []UnitSource{{Name: "m", Source: "print('hello')\n"}},
		Techniques: []string{"xor", "hash"},
		Layers:     3,
		Seed:       seedPtr(99),
	}

	first := Run(context.Background(), []Job{job}, Options{})[0]
	second := Run(context.Background(), []Job{job}, Options{})[0]
	if first.Status != StatusSuccess || second.Status != StatusSuccess {
		t.Fatalf("statuses %s / %s", first.Status, second.Status)
	}
	if first.Artifact != second.Artifact {
		t.Error("pinned seed did not reproduce the artifact")
	}
}
