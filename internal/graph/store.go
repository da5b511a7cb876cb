package graph

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

var (
	// ErrFrozen is returned by mutating calls after Finalize.
	ErrFrozen = errors.New("entity store is finalized")
	// ErrUnknownEntity is returned when an id does not denote a stored entity.
	ErrUnknownEntity = errors.New("unknown entity")
	// ErrNotCallable is returned when a call is attached to a non-callable entity.
	ErrNotCallable = errors.New("entity is not a callable container")
	// ErrNotScope is returned when a name is bound in an entity that owns no local map.
	ErrNotScope = errors.New("entity is not a scope")
	// ErrNotVariable is returned when a type is pinned on a non-variable entity.
	ErrNotVariable = errors.New("entity is not a variable")
)

// Decl describes an entity to be declared.
type Decl struct {
	Kind         Kind
	Name         string
	Parent       EntityID
	Language     string
	FilePath     string
	Line         int
	DeclaredType string
}

// Store is the arena that owns every entity of one build.
//
// Entities are appended during parsing and the store is frozen by Finalize,
// after which only the once-only call-list normalization may touch an
// entity. IDs are indexes into the arena and are never reused.
type Store struct {
	mu       sync.RWMutex
	entities []*Entity
	scopes   *ScopeIndex
	names    *NameIndex
	frozen   bool
}

// NewStore creates an empty entity store.
func NewStore() *Store {
	return &Store{
		scopes: newScopeIndex(),
		names:  newNameIndex(),
	}
}

// Declare appends a new entity and binds its name in the nearest enclosing
// scope. Files and blocks are not bound by name.
func (s *Store) Declare(d Decl) (EntityID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return NoEntity, ErrFrozen
	}
	if d.Parent != NoEntity && !s.validLocked(d.Parent) {
		return NoEntity, fmt.Errorf("declaring %s %q under %d: %w", d.Kind, d.Name, d.Parent, ErrUnknownEntity)
	}

	id := EntityID(len(s.entities))
	e := &Entity{
		ID:           id,
		Kind:         d.Kind,
		Name:         d.Name,
		Parent:       d.Parent,
		Language:     d.Language,
		FilePath:     d.FilePath,
		Line:         d.Line,
		DeclaredType: d.DeclaredType,
		TypeID:       NoEntity,
	}
	if d.Kind.IsCallable() {
		e.normalize = &sync.Once{}
	}
	s.entities = append(s.entities, e)

	if d.Parent != NoEntity {
		parent := s.entities[d.Parent]
		parent.Children = append(parent.Children, id)
	}
	if d.Kind.IsScope() {
		s.scopes.ensure(id)
	}

	if d.Kind != KindFile && d.Kind != KindBlock && d.Name != "" {
		if scope := s.nearestScopeLocked(d.Parent); scope != NoEntity {
			s.scopes.bind(scope, d.Name, id)
		}
	}

	return id, nil
}

// AddRawCall appends a raw call expression to a callable container.
func (s *Store) AddRawCall(id EntityID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return ErrFrozen
	}
	if !s.validLocked(id) {
		return fmt.Errorf("adding call %q to %d: %w", text, id, ErrUnknownEntity)
	}
	e := s.entities[id]
	if !e.Kind.IsCallable() {
		return fmt.Errorf("adding call %q to %s %q: %w", text, e.Kind, e.Name, ErrNotCallable)
	}
	e.Calls = append(e.Calls, text)
	return nil
}

// Bind adds an alias binding (imports, receivers) to a scope's local map.
func (s *Store) Bind(scope EntityID, name string, id EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return ErrFrozen
	}
	if !s.validLocked(scope) || !s.validLocked(id) {
		return fmt.Errorf("binding %q in %d to %d: %w", name, scope, id, ErrUnknownEntity)
	}
	if !s.entities[scope].Kind.IsScope() {
		return fmt.Errorf("binding %q in %s %q: %w", name, s.entities[scope].Kind, s.entities[scope].Name, ErrNotScope)
	}
	s.scopes.bind(scope, name, id)
	return nil
}

// PinType records that a variable's type is known to be typeID.
func (s *Store) PinType(varID, typeID EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return ErrFrozen
	}
	if !s.validLocked(varID) || !s.validLocked(typeID) {
		return fmt.Errorf("pinning %d to %d: %w", varID, typeID, ErrUnknownEntity)
	}
	v := s.entities[varID]
	if !v.IsVariable() {
		return fmt.Errorf("pinning %s %q: %w", v.Kind, v.Name, ErrNotVariable)
	}
	v.TypeResolved = true
	v.TypeID = typeID
	return nil
}

// Finalize builds the name index and freezes the store. Calling it more
// than once is a no-op.
func (s *Store) Finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return
	}
	for _, e := range s.entities {
		if e.Kind == KindFunction || e.Kind == KindMethod {
			s.names.add(e.Name, e.ID)
		}
	}
	s.frozen = true
}

// Frozen reports whether Finalize has been called.
func (s *Store) Frozen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frozen
}

// Get returns the entity with the given id.
func (s *Store) Get(id EntityID) (*Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.validLocked(id) {
		return nil, false
	}
	return s.entities[id], true
}

// Len returns the number of entities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// Entities returns every entity in id order.
func (s *Store) Entities() []*Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entity, len(s.entities))
	copy(out, s.entities)
	return out
}

// Callables returns the ids of every module, function and method.
func (s *Store) Callables() []EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []EntityID
	for _, e := range s.entities {
		if e.Kind.IsCallable() {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// CountByKind returns the number of entities per kind.
func (s *Store) CountByKind() map[Kind]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[Kind]int)
	for _, e := range s.entities {
		counts[e.Kind]++
	}
	return counts
}

// Scopes returns the per-scope name index.
func (s *Store) Scopes() *ScopeIndex {
	return s.scopes
}

// Names returns the whole-program name index. It is empty until Finalize.
func (s *Store) Names() *NameIndex {
	return s.names
}

// EnclosingScope returns the nearest scope strictly above id, skipping
// non-scope parents such as files. It returns NoEntity at the root or when
// the parent chain is broken.
func (s *Store) EnclosingScope(id EntityID) EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.validLocked(id) {
		return NoEntity
	}
	return s.nearestScopeLocked(s.entities[id].Parent)
}

// NearestScope returns id itself when it is a scope, otherwise its
// enclosing scope.
func (s *Store) NearestScope(id EntityID) EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nearestScopeLocked(id)
}

// EnclosingClass returns the nearest class at or above id.
func (s *Store) EnclosingClass(id EntityID) EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for cur := id; s.validLocked(cur); cur = s.entities[cur].Parent {
		if s.entities[cur].Kind == KindClass {
			return cur
		}
	}
	return NoEntity
}

// Root returns the top-level ancestor of id.
func (s *Store) Root(id EntityID) EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.validLocked(id) {
		return NoEntity
	}
	cur := id
	for s.entities[cur].Parent != NoEntity && s.validLocked(s.entities[cur].Parent) {
		cur = s.entities[cur].Parent
	}
	return cur
}

// QualifiedName joins the names of id and its ancestors with dots,
// skipping files and blocks.
func (s *Store) QualifiedName(id EntityID) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var parts []string
	for cur := id; s.validLocked(cur); cur = s.entities[cur].Parent {
		e := s.entities[cur]
		if e.Kind == KindFile || e.Kind == KindBlock {
			continue
		}
		parts = append(parts, e.Name)
	}
	slices.Reverse(parts)
	return strings.Join(parts, ".")
}

func (s *Store) nearestScopeLocked(id EntityID) EntityID {
	for cur := id; s.validLocked(cur); cur = s.entities[cur].Parent {
		if s.entities[cur].Kind.IsScope() {
			return cur
		}
	}
	return NoEntity
}

func (s *Store) validLocked(id EntityID) bool {
	return id >= 0 && int(id) < len(s.entities)
}
