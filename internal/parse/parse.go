// Package parse provides Tree-sitter based extraction of import references
// and top-level bindings from Python source units. Nothing is executed; only
// statically written import statements are seen.
package parse

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// ParseError reports an unparseable unit. It is unit-local: the caller
// records it and carries on with the remaining units.
type ParseError struct {
	Unit   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing unit %q: %s", e.Unit, e.Reason)
}

// Import is one import reference as written in the source.
type Import struct {
	// Module is the referenced module name exactly as written, including
	// leading dots on relative imports ("os.path", "..sibling"). A bare
	// relative import ("from . import helpers") references its imported
	// names, so it yields one Import per name (".helpers").
	Module string
	// Statement is a hoistable statement for this reference. Multi-name
	// imports are split per module ("import os, sys" yields "import os" and
	// "import sys") so each reference can be kept or dropped independently.
	Statement string
	// Start and End are the statement's byte offsets in the unit source.
	Start int
	End   int
	// TopLevel is true when the statement sits directly in the module body.
	// Only top-level statements are stripped or hoisted during merging;
	// nested ones still contribute dependency edges.
	TopLevel bool
}

// Unit is one parsed source module. It is immutable after parsing.
type Unit struct {
	// Name is the stable logical module name.
	Name string
	// Source is the raw unit text.
	Source string
	// Imports are the unit's import references in source order.
	Imports []Import
	// Defined are the names bound at the top level of the module: function
	// and class definitions plus plain (and tuple) assignments. Names bound
	// in nested scopes are ignored.
	Defined []string
}

// Parser parses Python source units. It wraps a single Tree-sitter parser
// and is not safe for concurrent use; batch workers create their own.
type Parser struct {
	inner *sitter.Parser
}

// New creates a Python unit parser.
func New() *Parser {
	p := sitter.NewParser()
	p.SetLanguage(python.GetLanguage())
	return &Parser{inner: p}
}

// Parse extracts imports and top-level bindings from one unit's source.
func (p *Parser) Parse(name, source string) (*Unit, error) {
	content := []byte(source)

	tree, err := p.inner.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, &ParseError{Unit: name, Reason: err.Error()}
	}

	root := tree.RootNode()
	if root.HasError() {
		return nil, &ParseError{Unit: name, Reason: "syntax error"}
	}

	return &Unit{
		Name:    name,
		Source:  source,
		Imports: extractImports(root, content),
		Defined: extractTopLevelNames(root, content),
	}, nil
}

// extractImports walks the whole tree: nested imports count as dependencies
// even though only top-level ones are rewritten later.
func extractImports(root *sitter.Node, content []byte) []Import {
	var imports []Import

	iter := sitter.NewIterator(root, sitter.DFSMode)
	for {
		n, err := iter.Next()
		if err != nil || n == nil {
			break
		}

		switch n.Type() {
		case "import_statement":
			imports = append(imports, plainImports(n, content)...)
		case "future_import_statement":
			imports = append(imports, futureImport(n, content))
		case "import_from_statement":
			imports = append(imports, fromImports(n, content)...)
		}
	}

	return imports
}

// plainImports handles "import a" and "import a.b as c, d", one Import per
// named module.
func plainImports(node *sitter.Node, content []byte) []Import {
	var imports []Import

	topLevel := node.Parent() != nil && node.Parent().Type() == "module"

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		var module, clause string

		switch child.Type() {
		case "dotted_name":
			clause = child.Content(content)
			module = clause
		case "aliased_import":
			clause = child.Content(content)
			if name := child.ChildByFieldName("name"); name != nil {
				module = name.Content(content)
			}
		default:
			continue
		}

		if module == "" {
			continue
		}
		imports = append(imports, Import{
			Module:    module,
			Statement: "import " + clause,
			Start:     int(node.StartByte()),
			End:       int(node.EndByte()),
			TopLevel:  topLevel,
		})
	}

	return imports
}

// futureImport handles "from __future__ import ...". The imported names are
// compiler directives, not modules, so the whole statement maps to the
// __future__ module and hoists verbatim.
func futureImport(node *sitter.Node, content []byte) Import {
	return Import{
		Module:    "__future__",
		Statement: node.Content(content),
		Start:     int(node.StartByte()),
		End:       int(node.EndByte()),
		TopLevel:  node.Parent() != nil && node.Parent().Type() == "module",
	}
}

// fromImports handles "from x import y" including relative forms. A bare
// relative import ("from . import a, b") names no module of its own; the
// imported names are the referenced modules, so it yields one Import per
// name with the dot prefix kept ("from . import a" references ".a").
func fromImports(node *sitter.Node, content []byte) []Import {
	moduleNode := node.ChildByFieldName("module_name")
	if moduleNode == nil {
		return nil
	}

	module := moduleNode.Content(content)
	topLevel := node.Parent() != nil && node.Parent().Type() == "module"
	base := Import{
		Statement: node.Content(content),
		Start:     int(node.StartByte()),
		End:       int(node.EndByte()),
		TopLevel:  topLevel,
	}

	if strings.Trim(module, ".") != "" {
		imp := base
		imp.Module = module
		return []Import{imp}
	}

	var imports []Import
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		var clause, name string

		switch child.Type() {
		case "dotted_name":
			clause = child.Content(content)
			name = clause
		case "aliased_import":
			clause = child.Content(content)
			if n := child.ChildByFieldName("name"); n != nil {
				name = n.Content(content)
			}
		default:
			continue
		}

		if name == "" {
			continue
		}
		imp := base
		imp.Module = module + name
		imp.Statement = "from " + module + " import " + clause
		imports = append(imports, imp)
	}

	if len(imports) == 0 {
		imp := base
		imp.Module = module
		return []Import{imp}
	}
	return imports
}

// extractTopLevelNames collects names bound directly in the module body.
func extractTopLevelNames(root *sitter.Node, content []byte) []string {
	var names []string
	seen := make(map[string]bool)

	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		collectStatementNames(child, content, add)
	}

	return names
}

func collectStatementNames(node *sitter.Node, content []byte, add func(string)) {
	switch node.Type() {
	case "function_definition", "class_definition":
		if name := node.ChildByFieldName("name"); name != nil {
			add(name.Content(content))
		}
	case "decorated_definition":
		if def := node.ChildByFieldName("definition"); def != nil {
			collectStatementNames(def, content, add)
		}
	case "expression_statement":
		for i := 0; i < int(node.ChildCount()); i++ {
			child := node.Child(i)
			if child.Type() == "assignment" || child.Type() == "augmented_assignment" {
				collectAssignmentNames(child, content, add)
			}
		}
	}
}

func collectAssignmentNames(node *sitter.Node, content []byte, add func(string)) {
	left := node.ChildByFieldName("left")
	if left == nil {
		return
	}

	switch left.Type() {
	case "identifier":
		add(left.Content(content))
	case "pattern_list", "tuple_pattern":
		for i := 0; i < int(left.ChildCount()); i++ {
			child := left.Child(i)
			if child.Type() == "identifier" {
				add(child.Content(content))
			}
		}
	}
}
