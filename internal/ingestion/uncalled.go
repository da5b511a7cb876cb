package ingestion

import (
	"strings"
	"unicode"

	"github.com/gobwas/glob"

	"github.com/Benny93/depgraph/internal/graph"
)

// forwardCallKinds are the relation kinds that make an entity called.
var forwardCallKinds = []graph.RelKind{
	graph.RelCall,
	graph.RelImplicitInternalCall,
	graph.RelImplicitExternalCall,
}

// FindUncalled returns the functions and methods no call edge reaches.
//
// Detection phases:
// 1. Initial scan - flag functions and methods with no incoming call edge
// 2. Exemptions - entry points, exported Go symbols, tests, dunder methods
// 3. Dispatch pass - un-flag methods sharing a name with a called method
// 4. Allowlist - un-flag qualified names matching an exempt glob
func FindUncalled(store *graph.Store, rels *graph.RelationStore, exempt []glob.Glob) []graph.EntityID {
	var candidates []*graph.Entity
	for _, e := range store.Entities() {
		if e.Kind != graph.KindFunction && e.Kind != graph.KindMethod {
			continue
		}
		if rels.HasIncoming(e.ID, forwardCallKinds...) {
			continue
		}
		if isUncalledExempt(e) {
			continue
		}
		candidates = append(candidates, e)
	}

	var out []graph.EntityID
	for _, e := range candidates {
		if e.Kind == graph.KindMethod && isDispatchTarget(store, rels, e) {
			continue
		}
		if matchesAny(exempt, store.QualifiedName(e.ID)) {
			continue
		}
		out = append(out, e.ID)
	}
	return out
}

// isUncalledExempt checks if a symbol is reached from outside the program.
func isUncalledExempt(e *graph.Entity) bool {
	if isEntryPoint(e) {
		return true
	}
	if e.Language == "go" && isExported(e.Name) {
		return true
	}
	return isTestFunction(e) || isDunderMethod(e)
}

func isEntryPoint(e *graph.Entity) bool {
	if e.Kind != graph.KindFunction {
		return false
	}
	switch e.Name {
	case "main":
		return true
	case "init":
		return e.Language == "go"
	}
	return false
}

func isExported(name string) bool {
	for _, r := range name {
		return unicode.IsUpper(r)
	}
	return false
}

// isTestFunction checks if a function lives in a test file or follows a
// test naming convention.
func isTestFunction(e *graph.Entity) bool {
	base := e.FilePath
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	if strings.HasSuffix(base, "_test.go") || strings.HasSuffix(base, "_test.py") || strings.HasPrefix(base, "test_") || base == "conftest.py" {
		return true
	}
	return strings.HasPrefix(e.Name, "test_") || e.Name == "setUp" || e.Name == "tearDown"
}

// isDunderMethod checks if a method is a Python dunder method.
func isDunderMethod(e *graph.Entity) bool {
	return e.Language == "python" && len(e.Name) > 4 &&
		strings.HasPrefix(e.Name, "__") && strings.HasSuffix(e.Name, "__")
}

// isDispatchTarget reports whether another method with the same name is
// called. Overrides and interface implementations are reached through the
// name the caller resolved to.
func isDispatchTarget(store *graph.Store, rels *graph.RelationStore, method *graph.Entity) bool {
	for _, id := range store.Names().Lookup(method.Name) {
		if id == method.ID {
			continue
		}
		other, ok := store.Get(id)
		if !ok || other.Kind != graph.KindMethod {
			continue
		}
		if rels.HasIncoming(id, forwardCallKinds...) {
			return true
		}
	}
	return false
}

func matchesAny(globs []glob.Glob, name string) bool {
	for _, g := range globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}
