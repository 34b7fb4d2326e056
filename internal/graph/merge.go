package graph

import (
	"fmt"
	"sort"
	"strings"

	"obfuslite/internal/parse"
)

// emit renders the merged document: hoisted external imports first, then
// unit bodies in merge order, cyclic components contiguous.
func emit(units []*parse.Unit, index map[string]int, ordered [][]int, opts Options, result *Result) {
	hoisted := make(map[string]bool)

	var bodies []string
	for _, comp := range ordered {
		for _, idx := range comp {
			unit := units[idx]
			body := stripTopLevelImports(unit, index, hoisted, result)

			body = strings.Trim(body, "\n")
			if opts.Annotate {
				body = fmt.Sprintf("# --- module: %s ---\n%s", unit.Name, body)
			}
			bodies = append(bodies, body)
		}
	}

	var sb strings.Builder
	if len(result.Externals) > 0 {
		sb.WriteString(strings.Join(result.Externals, "\n"))
		sb.WriteString("\n\n")
	}
	sb.WriteString(strings.Join(bodies, "\n\n"))
	sb.WriteString("\n")
	result.Text = sb.String()
}

// stripTopLevelImports removes every top-level import statement from a
// unit's body. Local ones vanish because their targets are inlined; external
// ones are hoisted above all bodies, deduplicated in first-seen order.
// Nested imports stay where they are: external ones still work at run time,
// and rewriting inside nested scopes is beyond static import handling.
func stripTopLevelImports(unit *parse.Unit, index map[string]int, hoisted map[string]bool, result *Result) string {
	self := index[unit.Name]

	type span struct{ start, end int }
	var spans []span
	spanSeen := make(map[span]bool)

	for _, imp := range unit.Imports {
		if !imp.TopLevel {
			continue
		}

		target := strings.TrimLeft(imp.Module, ".")
		if j, ok := index[target]; ok && j != self {
			result.Decisions = append(result.Decisions, Decision{
				Kind:   WarnStrippedImport,
				Unit:   unit.Name,
				Module: imp.Module,
				Detail: fmt.Sprintf("local import of %q inlined", target),
			})
		} else {
			if !hoisted[imp.Statement] {
				hoisted[imp.Statement] = true
				result.Externals = append(result.Externals, imp.Statement)
			}
			result.Decisions = append(result.Decisions, Decision{
				Kind:   WarnRetainedImport,
				Unit:   unit.Name,
				Module: imp.Module,
				Detail: "external import hoisted",
			})
		}

		s := span{start: imp.Start, end: imp.End}
		if !spanSeen[s] {
			spanSeen[s] = true
			spans = append(spans, s)
		}
	}

	if len(spans) == 0 {
		return unit.Source
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var sb strings.Builder
	pos := 0
	for _, s := range spans {
		if s.start < pos {
			continue
		}
		sb.WriteString(unit.Source[pos:s.start])
		pos = s.end
		// Swallow the statement's trailing newline so no blank line remains.
		if pos < len(unit.Source) && unit.Source[pos] == '\n' {
			pos++
		}
	}
	sb.WriteString(unit.Source[pos:])
	return sb.String()
}
