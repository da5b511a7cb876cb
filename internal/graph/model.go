// Package graph provides the entity graph data model for depgraph.
//
// It defines the declared program elements (packages, modules, files,
// functions, methods, classes, fields, variables, blocks), the arena that
// owns them, the per-scope and whole-program name indexes, and the paired
// call relations inferred between them.
package graph

import (
	"fmt"
	"strconv"
	"sync"
)

// EntityID identifies an entity. IDs are dense and double as arena indexes.
type EntityID int

// NoEntity is the sentinel for "no entity" (root parent, failed lookup).
const NoEntity EntityID = -1

// String returns the decimal form of the id.
func (id EntityID) String() string {
	return strconv.Itoa(int(id))
}

// Kind represents the variant of an entity.
type Kind string

const (
	KindPackage  Kind = "package"
	KindModule   Kind = "module"
	KindFile     Kind = "file"
	KindFunction Kind = "function"
	KindMethod   Kind = "method"
	KindClass    Kind = "class"
	KindField    Kind = "field"
	KindVariable Kind = "variable"
	KindBlock    Kind = "block"
)

// IsScope reports whether entities of this kind own a local name map.
func (k Kind) IsScope() bool {
	switch k {
	case KindPackage, KindModule, KindClass, KindFunction, KindMethod, KindBlock:
		return true
	}
	return false
}

// IsCallable reports whether entities of this kind carry a call list.
func (k Kind) IsCallable() bool {
	return k == KindModule || k == KindFunction || k == KindMethod
}

// IsVariable reports whether entities of this kind hold a value whose type
// may be pinned by an inferer.
func (k Kind) IsVariable() bool {
	return k == KindVariable || k == KindField
}

// Entity is a declared program element.
type Entity struct {
	// ID is assigned by the store at declaration time.
	ID EntityID `json:"id"`

	// Kind is the entity variant.
	Kind Kind `json:"kind"`

	// Name is the declared name. Blocks and files may use a synthetic name.
	Name string `json:"name"`

	// Parent is the enclosing entity, or NoEntity for roots.
	Parent EntityID `json:"parent"`

	// Children holds child ids in declaration order.
	Children []EntityID `json:"children,omitempty"`

	// Language is the source language ("python", "go").
	Language string `json:"language,omitempty"`

	// FilePath is the repo-relative path of the declaring file.
	FilePath string `json:"file_path,omitempty"`

	// Line is the 1-based declaration line.
	Line int `json:"line,omitempty"`

	// DeclaredType is the textual type hint recorded by the parser.
	DeclaredType string `json:"declared_type,omitempty"`

	// TypeResolved is set once an inferer pinned the variable's type.
	TypeResolved bool `json:"type_resolved,omitempty"`

	// TypeID is the entity the variable's type was pinned to.
	TypeID EntityID `json:"type_id"`

	// Calls is the call list of a callable container: raw call expression
	// text until normalization, the split form afterwards.
	Calls []string `json:"calls,omitempty"`

	normalize *sync.Once
}

// IsVariable reports whether the entity is a variable or field.
func (e *Entity) IsVariable() bool {
	return e.Kind.IsVariable()
}

// CallList returns the call list and whether the entity is a callable
// container at all.
func (e *Entity) CallList() ([]string, bool) {
	if !e.Kind.IsCallable() {
		return nil, false
	}
	return e.Calls, true
}

// NormalizeCalls rewrites the call list with fn exactly once and returns
// the normalized list. Later calls return the stored list unchanged.
func (e *Entity) NormalizeCalls(fn func([]string) []string) []string {
	if !e.Kind.IsCallable() {
		return nil
	}
	if e.normalize == nil {
		return e.Calls
	}
	e.normalize.Do(func() {
		e.Calls = fn(e.Calls)
	})
	return e.Calls
}

// RelKind represents the type of a directed relation between entities.
type RelKind string

const (
	RelCall                     RelKind = "call"
	RelCalledBy                 RelKind = "called_by"
	RelImplicitInternalCall     RelKind = "implicit_internal_call"
	RelImplicitInternalCalledBy RelKind = "implicit_internal_called_by"
	RelImplicitExternalCall     RelKind = "implicit_external_call"
	RelImplicitExternalCalledBy RelKind = "implicit_external_called_by"
)

// CallKind is the three-tier classification of a resolved call.
type CallKind int

const (
	// CallDirect is a call resolved through scope chains.
	CallDirect CallKind = iota
	// CallImplicitInternal is a call through self or a receiver whose type is known.
	CallImplicitInternal
	// CallImplicitExternal is a whole-program same-name candidate.
	CallImplicitExternal
)

// Forward returns the caller-to-callee relation kind.
func (k CallKind) Forward() RelKind {
	switch k {
	case CallImplicitInternal:
		return RelImplicitInternalCall
	case CallImplicitExternal:
		return RelImplicitExternalCall
	default:
		return RelCall
	}
}

// Inverse returns the callee-to-caller relation kind.
func (k CallKind) Inverse() RelKind {
	switch k {
	case CallImplicitInternal:
		return RelImplicitInternalCalledBy
	case CallImplicitExternal:
		return RelImplicitExternalCalledBy
	default:
		return RelCalledBy
	}
}

// String returns the forward relation name.
func (k CallKind) String() string {
	return string(k.Forward())
}

// MarshalText encodes the kind as its forward relation name.
func (k CallKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind accepted by ParseCallKind.
func (k *CallKind) UnmarshalText(b []byte) error {
	parsed, err := ParseCallKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseCallKind parses a forward relation name or one of the short forms
// "direct", "internal" and "external".
func ParseCallKind(s string) (CallKind, error) {
	switch s {
	case "direct", string(RelCall):
		return CallDirect, nil
	case "internal", string(RelImplicitInternalCall):
		return CallImplicitInternal, nil
	case "external", string(RelImplicitExternalCall):
		return CallImplicitExternal, nil
	}
	return 0, fmt.Errorf("unknown call kind %q", s)
}

// CallKinds lists the three call tiers in order.
var CallKinds = []CallKind{CallDirect, CallImplicitInternal, CallImplicitExternal}

// ForwardCallKinds lists every caller-to-callee relation kind.
var ForwardCallKinds = []RelKind{RelCall, RelImplicitInternalCall, RelImplicitExternalCall}

// InverseCallKinds lists every callee-to-caller relation kind.
var InverseCallKinds = []RelKind{RelCalledBy, RelImplicitInternalCalledBy, RelImplicitExternalCalledBy}

// Relation is a directed edge between two entities.
type Relation struct {
	Source EntityID `json:"source"`
	Target EntityID `json:"target"`
	Kind   RelKind  `json:"kind"`
}
