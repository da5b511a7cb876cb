package graph

import (
	"maps"
	"slices"
	"strings"
	"sync"
)

// ScopeIndex maps each scope entity to its local name bindings.
//
// Lookup is direct only: walking to enclosing scopes is the caller's job,
// since a resolver may hop into a receiver's scope instead of a lexical
// parent.
type ScopeIndex struct {
	mu     sync.RWMutex
	scopes map[EntityID]*localScope
}

type localScope struct {
	names map[string]EntityID
	// dotted keeps composite names in first-binding order.
	dotted []string
}

func newScopeIndex() *ScopeIndex {
	return &ScopeIndex{scopes: make(map[EntityID]*localScope)}
}

func (x *ScopeIndex) ensure(scope EntityID) *localScope {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.ensureLocked(scope)
}

func (x *ScopeIndex) ensureLocked(scope EntityID) *localScope {
	ls, ok := x.scopes[scope]
	if !ok {
		ls = &localScope{names: make(map[string]EntityID)}
		x.scopes[scope] = ls
	}
	return ls
}

func (x *ScopeIndex) bind(scope EntityID, name string, id EntityID) {
	x.mu.Lock()
	defer x.mu.Unlock()

	ls := x.ensureLocked(scope)
	if _, seen := ls.names[name]; !seen && strings.Contains(name, ".") {
		ls.dotted = append(ls.dotted, name)
	}
	ls.names[name] = id
}

// Lookup returns the id bound to name directly inside scope.
func (x *ScopeIndex) Lookup(name string, scope EntityID) (EntityID, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	ls, ok := x.scopes[scope]
	if !ok {
		return NoEntity, false
	}
	id, ok := ls.names[name]
	return id, ok
}

// LocalMap returns a copy of the bindings of scope.
func (x *ScopeIndex) LocalMap(scope EntityID) map[string]EntityID {
	x.mu.RLock()
	defer x.mu.RUnlock()
	ls, ok := x.scopes[scope]
	if !ok {
		return map[string]EntityID{}
	}
	return maps.Clone(ls.names)
}

// DottedNames returns the composite names bound in scope, in the order
// they were first bound.
func (x *ScopeIndex) DottedNames(scope EntityID) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	ls, ok := x.scopes[scope]
	if !ok {
		return nil
	}
	return slices.Clone(ls.dotted)
}

// MatchDotted returns the first composite name bound in scope that is a
// prefix of text ending on a segment boundary, with the id it is bound to.
func (x *ScopeIndex) MatchDotted(scope EntityID, text string) (string, EntityID, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	ls, ok := x.scopes[scope]
	if !ok {
		return "", NoEntity, false
	}
	for _, name := range ls.dotted {
		if !strings.HasPrefix(text, name) {
			continue
		}
		if rest := text[len(name):]; rest != "" && rest[0] != '.' && rest[0] != '(' {
			continue
		}
		return name, ls.names[name], true
	}
	return "", NoEntity, false
}

// NameIndex maps a simple name to every function and method declared
// under it, in discovery order.
type NameIndex struct {
	mu     sync.RWMutex
	byName map[string][]EntityID
}

func newNameIndex() *NameIndex {
	return &NameIndex{byName: make(map[string][]EntityID)}
}

func (n *NameIndex) add(name string, id EntityID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.byName[name] = append(n.byName[name], id)
}

// Lookup returns the ids sharing name.
func (n *NameIndex) Lookup(name string) []EntityID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return slices.Clone(n.byName[name])
}

// Len returns the number of distinct names.
func (n *NameIndex) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.byName)
}
