// Package project loads batch manifests: a YAML file declaring jobs, the
// units each job pulls in (as glob patterns), and per-job pipeline settings.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"obfuslite/internal/batch"
)

// Defaults apply to every job that does not override them.
type Defaults struct {
	Techniques []string `yaml:"techniques"`
	Layers     int      `yaml:"layers"`
	Workers    int      `yaml:"workers"`
	Annotate   bool     `yaml:"annotate"`
}

// JobSpec declares one job. Units are doublestar glob patterns resolved
// against the manifest root.
type JobSpec struct {
	Name       string   `yaml:"name"`
	Units      []string `yaml:"units"`
	Techniques []string `yaml:"techniques"`
	Layers     int      `yaml:"layers"`
	Seed       *int64   `yaml:"seed"`
	Output     string   `yaml:"output"`
	Annotate   *bool    `yaml:"annotate"`
}

// Manifest is one parsed batch manifest.
type Manifest struct {
	// Root is the directory unit globs resolve against, relative to the
	// manifest file unless absolute.
	Root     string    `yaml:"root"`
	Defaults Defaults  `yaml:"defaults"`
	Jobs     []JobSpec `yaml:"jobs"`

	dir string
}

const defaultLayers = 2

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	m.dir = filepath.Dir(path)

	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if len(m.Jobs) == 0 {
		return fmt.Errorf("manifest declares no jobs")
	}

	seen := make(map[string]bool)
	for i, spec := range m.Jobs {
		if spec.Name == "" {
			return fmt.Errorf("job %d has no name", i)
		}
		if seen[spec.Name] {
			return fmt.Errorf("duplicate job name %q", spec.Name)
		}
		seen[spec.Name] = true
		if len(spec.Units) == 0 {
			return fmt.Errorf("job %q declares no units", spec.Name)
		}
	}
	return nil
}

// Resolve expands every job's unit globs into concrete batch jobs. A glob
// matching nothing is an error: a typo in a pattern should not silently
// shrink a job.
func (m *Manifest) Resolve() ([]batch.Job, error) {
	root := m.Root
	if !filepath.IsAbs(root) {
		root = filepath.Join(m.dir, root)
	}

	jobs := make([]batch.Job, 0, len(m.Jobs))
	for _, spec := range m.Jobs {
		units, err := resolveUnits(root, spec)
		if err != nil {
			return nil, err
		}

		techniques := spec.Techniques
		if len(techniques) == 0 {
			techniques = m.Defaults.Techniques
		}
		layers := spec.Layers
		if layers == 0 {
			layers = m.Defaults.Layers
		}
		if layers == 0 {
			layers = defaultLayers
		}
		annotate := m.Defaults.Annotate
		if spec.Annotate != nil {
			annotate = *spec.Annotate
		}

		output := spec.Output
		if output != "" && !filepath.IsAbs(output) {
			output = filepath.Join(m.dir, output)
		}

		jobs = append(jobs, batch.Job{
			Name:       spec.Name,
			Units:      units,
			Techniques: techniques,
			Layers:     layers,
			Seed:       spec.Seed,
			Output:     output,
			Annotate:   annotate,
		})
	}
	return jobs, nil
}

func resolveUnits(root string, spec JobSpec) ([]batch.UnitSource, error) {
	seen := make(map[string]bool)
	var paths []string

	for _, pattern := range spec.Units {
		matches, err := doublestar.FilepathGlob(filepath.Join(root, pattern))
		if err != nil {
			return nil, fmt.Errorf("job %q: bad pattern %q: %w", spec.Name, pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("job %q: pattern %q matched nothing", spec.Name, pattern)
		}
		for _, match := range matches {
			if !seen[match] {
				seen[match] = true
				paths = append(paths, match)
			}
		}
	}
	sort.Strings(paths)

	units := make([]batch.UnitSource, 0, len(paths))
	for _, path := range paths {
		name, err := UnitName(root, path)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", spec.Name, err)
		}
		units = append(units, batch.UnitSource{Name: name, Path: path})
	}
	return units, nil
}

// UnitName derives a unit's logical module name from its path: the path
// relative to root, extension dropped, separators turned into dots. So
// root/pkg/util.py becomes "pkg.util", matching how the module would be
// imported from root.
func UnitName(root, path string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", fmt.Errorf("unit %q outside root: %w", path, err)
	}
	rel = strings.TrimSuffix(filepath.ToSlash(rel), ".py")
	return strings.ReplaceAll(rel, "/", "."), nil
}
