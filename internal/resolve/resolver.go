// Package resolve infers call edges between the entities of a finalized
// graph.Store.
//
// Each callable container's call list is split into one call per entry,
// every entry is reduced against the entries before it, and the reduced
// callee is resolved through lexical scopes, pinned variable types and,
// as a last resort, the whole-program name index.
package resolve

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/Benny93/depgraph/internal/graph"
)

// Resolver resolves the call lists of a frozen store into a RelationStore.
type Resolver struct {
	store    *graph.Store
	rels     *graph.RelationStore
	profiles Profiles
	logger   *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithProfiles overrides the language profiles.
func WithProfiles(p Profiles) Option {
	return func(r *Resolver) { r.profiles = p }
}

// WithLogger sets the logger used for per-entry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a resolver writing to rels.
func NewResolver(store *graph.Store, rels *graph.RelationStore, opts ...Option) *Resolver {
	r := &Resolver{
		store:    store,
		rels:     rels,
		profiles: DefaultProfiles(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func unresolved(reason Reason) Unresolved {
	return Unresolved{Reason: reason, Target: graph.NoEntity}
}

// ResolveCalls resolves every entry of source's call list and records the
// resulting edges. The returned slice is aligned with the normalized list.
// Non-callable or unknown entities yield nil.
func (r *Resolver) ResolveCalls(source graph.EntityID) []Resolution {
	entity, ok := r.store.Get(source)
	if !ok {
		return nil
	}
	entries := entity.NormalizeCalls(SplitChains)
	if len(entries) == 0 {
		return nil
	}

	profile := r.profiles.For(entity.Language)
	results := make([]Resolution, 0, len(entries))
	refs := make([]graph.EntityID, 0, len(entries))

	for i, entry := range entries {
		var res Resolution
		if isSuperChain(profile, entry) {
			res = unresolved(ReasonSuper)
		} else {
			res = r.resolveEntry(profile, source, Reduce(entries, i, refs))
		}
		results = append(results, res)
		refs = append(refs, res.Ref())
	}
	return results
}

// isSuperChain reports whether entry dispatches through the super call,
// as in "super().save()". The parent list is not modelled, so such entries
// never resolve.
func isSuperChain(p Profile, entry string) bool {
	return p.SuperKeyword != "" && strings.HasPrefix(entry, p.SuperKeyword+"(")
}

func (r *Resolver) resolveEntry(p Profile, source graph.EntityID, callee string) Resolution {
	name, _, hasParen := strings.Cut(callee, "(")

	if !strings.Contains(name, ".") && p.IsBuiltin(name) {
		return unresolved(ReasonBuiltin)
	}
	if p.SuperKeyword != "" && name == p.SuperKeyword {
		return unresolved(ReasonSuper)
	}
	if !balanced(callee) {
		r.logger.Debug("skipping malformed call expression",
			slog.Int("source", int(source)),
			slog.String("callee", callee))
		return unresolved(ReasonMalformed)
	}

	target, head, reason := r.searchRegular(p, source, name)

	if !hasParen {
		if target == graph.NoEntity {
			return unresolved(ReasonProperty)
		}
		return Unresolved{Reason: ReasonProperty, Target: target}
	}

	if target != graph.NoEntity {
		kind := r.classify(p, name, head)
		r.rels.RecordCall(source, target, kind)
		return Resolved{Target: target, Kind: kind}
	}

	candidates := r.searchByName(name)
	if len(candidates) == 0 {
		return unresolved(reason)
	}
	for _, id := range candidates {
		r.rels.RecordCall(source, id, graph.CallImplicitExternal)
	}
	return Candidates{Targets: candidates}
}

// searchRegular walks the dotted segments of name starting at source. It
// returns the resolved target, the entity the first segment resolved to,
// and the failure reason when target is NoEntity.
func (r *Resolver) searchRegular(p Profile, source graph.EntityID, name string) (graph.EntityID, graph.EntityID, Reason) {
	cur := source
	head := graph.NoEntity
	first := true
	rest := name

	for {
		rest = strings.TrimPrefix(rest, ".")
		if rest == "" {
			break
		}

		if strings.HasPrefix(rest, PlaceholderPrefix) {
			id, n, ok := parsePlaceholder(rest)
			if !ok || id == graph.NoEntity {
				return graph.NoEntity, graph.NoEntity, ReasonNotFound
			}
			if _, exists := r.store.Get(id); !exists {
				return graph.NoEntity, graph.NoEntity, ReasonDangling
			}
			cur = id
			rest = rest[n:]
		} else {
			var matched string
			var found bool
			if first {
				cur, matched, found = r.lookupLexical(p, source, rest)
			} else {
				cur, matched, found = r.lookupMember(cur, rest)
			}
			if !found {
				return graph.NoEntity, graph.NoEntity, ReasonNotFound
			}
			rest = rest[len(matched):]
		}

		if first {
			head = cur
			first = false
		}
	}

	if _, ok := r.store.Get(cur); !ok {
		return graph.NoEntity, graph.NoEntity, ReasonDangling
	}
	return cur, head, ""
}

// lookupLexical resolves the leading name of text by walking enclosing
// scopes one hop at a time from the source.
func (r *Resolver) lookupLexical(p Profile, source graph.EntityID, text string) (graph.EntityID, string, bool) {
	segment, _, _ := strings.Cut(text, ".")
	scopes := r.store.Scopes()

	for scope := r.store.NearestScope(source); scope != graph.NoEntity; scope = r.store.EnclosingScope(scope) {
		if matched, id, ok := scopes.MatchDotted(scope, text); ok {
			return id, matched, true
		}
		if id, ok := scopes.Lookup(segment, scope); ok {
			return id, segment, true
		}
	}

	if p.SelfKeyword != "" && segment == p.SelfKeyword {
		if cls := r.store.EnclosingClass(source); cls != graph.NoEntity {
			return cls, segment, true
		}
	}
	return graph.NoEntity, "", false
}

// lookupMember resolves the leading name of text inside cur. Variables
// whose type was pinned are looked up in their type.
func (r *Resolver) lookupMember(cur graph.EntityID, text string) (graph.EntityID, string, bool) {
	segment, _, _ := strings.Cut(text, ".")
	e, ok := r.store.Get(cur)
	if !ok {
		return graph.NoEntity, "", false
	}
	scope := cur
	if e.IsVariable() {
		if !e.TypeResolved {
			return graph.NoEntity, "", false
		}
		scope = e.TypeID
	}
	id, ok := r.store.Scopes().Lookup(segment, scope)
	if !ok {
		return graph.NoEntity, "", false
	}
	return id, segment, true
}

// classify picks the call tier of a resolved callee. A two-segment callee
// whose head is the self keyword or a variable of known type is an
// implicit internal call.
func (r *Resolver) classify(p Profile, name string, head graph.EntityID) graph.CallKind {
	segments := strings.Split(name, ".")
	if len(segments) != 2 {
		return graph.CallDirect
	}
	if p.SelfKeyword != "" && segments[0] == p.SelfKeyword {
		return graph.CallImplicitInternal
	}
	if e, ok := r.store.Get(head); ok && e.IsVariable() && e.TypeResolved {
		return graph.CallImplicitInternal
	}
	return graph.CallDirect
}

// searchByName returns the distinct functions and methods sharing the
// trailing simple name of the callee.
func (r *Resolver) searchByName(name string) []graph.EntityID {
	simple := name
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		simple = name[i+1:]
	}
	if simple == "" || strings.HasPrefix(simple, PlaceholderPrefix) {
		return nil
	}
	ids := r.store.Names().Lookup(simple)
	out := ids[:0]
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
