package parsers

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Benny93/depgraph/internal/graph"
)

// maxImportRounds bounds the re-export chasing of from-imports.
const maxImportRounds = 4

// LinkStats summarizes a Link call.
type LinkStats struct {
	Imports    int
	Bound      int
	Unresolved int
	Pinned     int
}

// Link binds queued imports and pins the type of every variable whose
// declared type names a class visible from its scope. It must run after
// every frontend and before the store is finalized.
func (b *Builder) Link() (LinkStats, error) {
	stats := LinkStats{Imports: len(b.imports)}

	pending := b.imports
	for round := 0; round < maxImportRounds && len(pending) > 0; round++ {
		var next []pendingImport
		for _, imp := range pending {
			ok, err := b.bindImport(imp)
			if err != nil {
				return stats, err
			}
			if ok {
				stats.Bound++
				continue
			}
			next = append(next, imp)
		}
		if len(next) == len(pending) {
			pending = next
			break
		}
		pending = next
	}
	for _, imp := range pending {
		b.logger.Debug("import not in program",
			slog.String("file", imp.file),
			slog.Int("line", imp.line),
			slog.String("module", imp.module),
			slog.String("name", imp.name))
	}
	stats.Unresolved = len(pending)
	b.imports = nil

	pinned, err := b.pinDeclaredTypes()
	if err != nil {
		return stats, err
	}
	stats.Pinned = pinned
	return stats, nil
}

func (b *Builder) bind(scope graph.EntityID, name string, id graph.EntityID) error {
	if err := b.store.Bind(scope, name, id); err != nil {
		return fmt.Errorf("binding %q: %w", name, err)
	}
	return nil
}

func (b *Builder) bindImport(imp pendingImport) (bool, error) {
	if imp.language == "go" {
		return b.bindGoImport(imp)
	}
	return b.bindPythonImport(imp)
}

func (b *Builder) bindGoImport(imp pendingImport) (bool, error) {
	target, ok := b.packages[imp.module]
	if !ok {
		return false, nil
	}
	switch imp.alias {
	case "_":
		return true, nil
	case ".":
		return true, b.bindAll(imp.scope, target)
	case "":
		e, _ := b.store.Get(target)
		return true, b.bind(imp.scope, e.Name, target)
	default:
		return true, b.bind(imp.scope, imp.alias, target)
	}
}

func (b *Builder) bindPythonImport(imp pendingImport) (bool, error) {
	switch imp.name {
	case "":
		// import a.b / import a.b as c
		target, ok := b.modules[imp.module]
		if imp.alias != "" {
			if !ok {
				return false, nil
			}
			return true, b.bind(imp.scope, imp.alias, target)
		}
		bound := false
		if ok {
			if err := b.bind(imp.scope, imp.module, target); err != nil {
				return false, err
			}
			bound = true
		}
		if top, _, dotted := strings.Cut(imp.module, "."); dotted {
			if topID, ok := b.modules[top]; ok {
				if err := b.bind(imp.scope, top, topID); err != nil {
					return false, err
				}
				bound = true
			}
		}
		return bound, nil

	case "*":
		target, ok := b.modules[imp.module]
		if !ok {
			return false, nil
		}
		return true, b.bindAll(imp.scope, target)

	default:
		local := imp.name
		if imp.alias != "" {
			local = imp.alias
		}
		if sub, ok := b.modules[imp.module+"."+imp.name]; ok {
			return true, b.bind(imp.scope, local, sub)
		}
		target, ok := b.modules[imp.module]
		if !ok {
			return false, nil
		}
		id, ok := b.store.Scopes().Lookup(imp.name, target)
		if !ok {
			return false, nil
		}
		return true, b.bind(imp.scope, local, id)
	}
}

func (b *Builder) bindAll(scope, from graph.EntityID) error {
	for name, id := range b.store.Scopes().LocalMap(from) {
		if strings.HasPrefix(name, "_") {
			continue
		}
		if err := b.bind(scope, name, id); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) pinDeclaredTypes() (int, error) {
	pinned := 0
	for _, e := range b.store.Entities() {
		if !e.IsVariable() || e.TypeResolved || e.DeclaredType == "" {
			continue
		}
		name := normalizeTypeName(e.DeclaredType)
		if name == "" {
			continue
		}
		typeID := b.resolveTypeName(e.ID, name)
		if typeID == graph.NoEntity {
			continue
		}
		if err := b.pin(e.ID, typeID); err != nil {
			return pinned, err
		}
		pinned++
	}
	return pinned, nil
}

// resolveTypeName looks a dotted type name up from the scope enclosing
// from and returns it when it denotes a class.
func (b *Builder) resolveTypeName(from graph.EntityID, name string) graph.EntityID {
	scopes := b.store.Scopes()
	head, rest, _ := strings.Cut(name, ".")

	cur := graph.NoEntity
	for scope := b.store.EnclosingScope(from); scope != graph.NoEntity; scope = b.store.EnclosingScope(scope) {
		if matched, id, ok := scopes.MatchDotted(scope, name); ok {
			cur = id
			rest = strings.TrimPrefix(name[len(matched):], ".")
			break
		}
		if id, ok := scopes.Lookup(head, scope); ok {
			cur = id
			break
		}
	}
	if cur == graph.NoEntity {
		return graph.NoEntity
	}

	for rest != "" {
		var seg string
		seg, rest, _ = strings.Cut(rest, ".")
		id, ok := scopes.Lookup(seg, cur)
		if !ok {
			return graph.NoEntity
		}
		cur = id
	}

	if e, ok := b.store.Get(cur); ok && e.Kind == graph.KindClass {
		return cur
	}
	return graph.NoEntity
}

// normalizeTypeName reduces a type hint to a dotted class name, or ""
// when the hint names a collection or function type.
func normalizeTypeName(t string) string {
	t = strings.TrimSpace(t)
	t = strings.Trim(t, `"'`)
	if inner, ok := strings.CutPrefix(t, "Optional["); ok {
		t = strings.TrimSuffix(inner, "]")
	}
	if first, _, ok := strings.Cut(t, "|"); ok {
		t = strings.TrimSpace(first)
	}
	t = strings.TrimLeft(t, "*&")
	for _, prefix := range []string{"[]", "map[", "chan ", "chan<-", "<-chan", "func(", "..."} {
		if strings.HasPrefix(t, prefix) {
			return ""
		}
	}
	if i := strings.IndexByte(t, '['); i >= 0 {
		t = t[:i]
	}
	if t == "None" || strings.ContainsAny(t, " (){}") {
		return ""
	}
	return t
}
