// Package graph builds the dependency graph over parsed source units,
// computes a deterministic merge order, and emits one merged source document.
//
// Imports that resolve to another unit in the same batch become edges; the
// rest are preserved verbatim. Cycles are merged as one contiguous block and
// warned about, never rejected: circular references are sometimes legitimate
// in Python when resolved lazily at call time, and a hard failure would be
// strictly worse than a best-effort merge.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"obfuslite/internal/parse"
)

// ErrNoUnits is returned when a merge is requested with no parsable units.
var ErrNoUnits = errors.New("no units to merge")

// WarningKind classifies merge warnings and report decisions.
type WarningKind string

const (
	WarnStrippedImport WarningKind = "stripped-import"
	WarnRetainedImport WarningKind = "retained-import"
	WarnSymbolConflict WarningKind = "symbol-conflict"
	WarnCycleMerged    WarningKind = "cycle-merged"
)

// Warning is a non-fatal merge finding. Warnings are always surfaced, even
// when the merge succeeds.
type Warning struct {
	Kind   WarningKind `json:"kind"`
	Units  []string    `json:"units"`
	Name   string      `json:"name,omitempty"`
	Detail string      `json:"detail"`
}

// Decision is an informational report entry: one stripped or retained import.
// Decisions record what the merger did to every import without turning the
// routine cases into warnings.
type Decision struct {
	Kind   WarningKind `json:"kind"`
	Unit   string      `json:"unit"`
	Module string      `json:"module"`
	Detail string      `json:"detail"`
}

// Result is the outcome of a merge.
type Result struct {
	// Text is the merged source: hoisted external imports, then unit bodies
	// in merge order.
	Text string
	// Order lists unit names in merge order.
	Order []string
	// Blocks groups Order by strongly connected component; a block with more
	// than one unit is a merged cycle.
	Blocks [][]string
	// Externals are the hoisted external import statements, first-seen order.
	Externals []string
	// Warnings are the cycle, conflict, and degraded-import findings.
	Warnings []Warning
	// Decisions is the per-import report trail.
	Decisions []Decision
}

// Options tune a merge.
type Options struct {
	// Missing names units that were excluded by parse failures. A local
	// import pointing at one degrades to external with a warning instead of
	// crashing the merge.
	Missing []string
	// Annotate prefixes each merged body with a comment naming its unit.
	Annotate bool
}

// edge is one resolved-local import: importer depends on imported.
type edge struct {
	from, to int
}

// Merge classifies imports, builds the graph, detects cycles and symbol
// conflicts, and emits the merged document.
func Merge(units []*parse.Unit, opts Options) (*Result, error) {
	if len(units) == 0 {
		return nil, ErrNoUnits
	}

	index := make(map[string]int, len(units))
	for i, u := range units {
		if prev, dup := index[u.Name]; dup {
			return nil, fmt.Errorf("duplicate unit name %q (positions %d and %d)", u.Name, prev, i)
		}
		index[u.Name] = i
	}

	missing := make(map[string]bool, len(opts.Missing))
	for _, name := range opts.Missing {
		missing[name] = true
	}

	result := &Result{}

	// Classification: one edge per resolved-local import.
	edges := classify(units, index, missing, result)

	// Cycle handling: SCC condensation ordered topologically, components
	// merged as blocks in original relative order.
	components := stronglyConnected(len(units), edges)
	ordered := orderComponents(components, edges, len(units))

	for _, comp := range ordered {
		block := make([]string, len(comp))
		for i, idx := range comp {
			block[i] = units[idx].Name
		}
		result.Blocks = append(result.Blocks, block)
		result.Order = append(result.Order, block...)

		if len(comp) > 1 {
			result.Warnings = append(result.Warnings, Warning{
				Kind:   WarnCycleMerged,
				Units:  block,
				Detail: fmt.Sprintf("circular imports between %s merged as one block", strings.Join(block, ", ")),
			})
		}
	}

	detectConflicts(units, index, result)

	emit(units, index, ordered, opts, result)

	return result, nil
}

// classify tags every import local or external and returns the local edges.
func classify(units []*parse.Unit, index map[string]int, missing map[string]bool, result *Result) []edge {
	var edges []edge
	seen := make(map[edge]bool)

	for i, unit := range units {
		for _, imp := range unit.Imports {
			target := strings.TrimLeft(imp.Module, ".")
			if j, ok := index[target]; ok && j != i {
				e := edge{from: i, to: j}
				if !seen[e] {
					seen[e] = true
					edges = append(edges, e)
				}
				continue
			}

			if missing[target] {
				result.Warnings = append(result.Warnings, Warning{
					Kind:   WarnRetainedImport,
					Units:  []string{unit.Name, target},
					Name:   imp.Module,
					Detail: fmt.Sprintf("unit %q failed to parse; import %q kept as external", target, imp.Module),
				})
			}
		}
	}

	return edges
}

// stronglyConnected runs Tarjan's algorithm and returns the components with
// their members sorted by original input position.
func stronglyConnected(n int, edges []edge) [][]int {
	adj := make([][]int, n)
	for _, e := range edges {
		adj[e.from] = append(adj[e.from], e.to)
	}

	const unvisited = -1
	indexOf := make([]int, n)
	lowlink := make([]int, n)
	onStack := make([]bool, n)
	for i := range indexOf {
		indexOf[i] = unvisited
	}

	var (
		stack      []int
		counter    int
		components [][]int
	)

	var strongConnect func(v int)
	strongConnect = func(v int) {
		indexOf[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if indexOf[w] == unvisited {
				strongConnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] && indexOf[w] < lowlink[v] {
				lowlink[v] = indexOf[w]
			}
		}

		if lowlink[v] == indexOf[v] {
			var comp []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			sort.Ints(comp)
			components = append(components, comp)
		}
	}

	for v := 0; v < n; v++ {
		if indexOf[v] == unvisited {
			strongConnect(v)
		}
	}

	return components
}

// orderComponents topologically sorts the condensation so that for every
// edge u→v, v's component precedes u's. Ties break on the smallest original
// unit position, which makes the plan deterministic for a given input set.
func orderComponents(components [][]int, edges []edge, n int) [][]int {
	compOf := make([]int, n)
	for ci, comp := range components {
		for _, v := range comp {
			compOf[v] = ci
		}
	}

	// deps[c] is the set of components c depends on (must precede it).
	deps := make([]map[int]bool, len(components))
	for i := range deps {
		deps[i] = make(map[int]bool)
	}
	for _, e := range edges {
		cu, cv := compOf[e.from], compOf[e.to]
		if cu != cv {
			deps[cu][cv] = true
		}
	}

	placed := make([]bool, len(components))
	var ordered [][]int

	for len(ordered) < len(components) {
		best := -1
		for ci, comp := range components {
			if placed[ci] {
				continue
			}
			ready := true
			for dep := range deps[ci] {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			if best == -1 || comp[0] < components[best][0] {
				best = ci
			}
		}
		if best == -1 {
			// Cannot happen: the condensation of an SCC decomposition is
			// acyclic, so some component is always ready.
			break
		}
		placed[best] = true
		ordered = append(ordered, components[best])
	}

	return ordered
}

// detectConflicts reports every top-level name defined by more than one
// unit. Resolution is last-merged-wins, the natural consequence of
// concatenation; nothing is renamed, since renaming could break string-based
// reflection in the merged code.
func detectConflicts(units []*parse.Unit, index map[string]int, result *Result) {
	definers := make(map[string][]string)
	var names []string
	for _, name := range result.Order {
		unit := units[index[name]]
		for _, def := range unit.Defined {
			if len(definers[def]) == 0 {
				names = append(names, def)
			}
			definers[def] = append(definers[def], unit.Name)
		}
	}

	for _, name := range names {
		owners := definers[name]
		if len(owners) < 2 {
			continue
		}
		result.Warnings = append(result.Warnings, Warning{
			Kind:   WarnSymbolConflict,
			Units:  owners,
			Name:   name,
			Detail: fmt.Sprintf("%q defined by %s; definition from %q wins at run time", name, strings.Join(owners, ", "), owners[len(owners)-1]),
		})
	}
}
