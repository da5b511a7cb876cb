package parsers

import (
	"fmt"
	"log/slog"

	"github.com/Benny93/depgraph/internal/graph"
)

// Builder collects the declarations of every frontend into one store and
// keeps the cross-file state needed for linking.
type Builder struct {
	store  *graph.Store
	logger *slog.Logger

	// modules maps a Python dotted module path to its module entity.
	modules map[string]graph.EntityID
	// packages maps a Go import path to its package entity.
	packages map[string]graph.EntityID
	goModule string

	imports []pendingImport
	calls   int
	decls   int
}

// pendingImport is an import statement waiting for Link.
type pendingImport struct {
	language string
	scope    graph.EntityID
	// module is the absolute dotted module (Python) or import path (Go).
	module string
	// name is the imported symbol of a from-import, "*" for wildcards,
	// empty for module imports.
	name  string
	alias string
	file  string
	line  int
}

// NewBuilder creates a builder writing into store.
func NewBuilder(store *graph.Store, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		store:    store,
		logger:   logger,
		modules:  make(map[string]graph.EntityID),
		packages: make(map[string]graph.EntityID),
	}
}

// Store returns the store being built.
func (b *Builder) Store() *graph.Store {
	return b.store
}

// SetGoModule sets the module path that in-program Go import paths start with.
func (b *Builder) SetGoModule(path string) {
	b.goModule = path
}

// GoModule returns the configured Go module path.
func (b *Builder) GoModule() string {
	return b.goModule
}

// Module returns the Python module entity registered under a dotted path.
func (b *Builder) Module(name string) (graph.EntityID, bool) {
	id, ok := b.modules[name]
	return id, ok
}

// Package returns the Go package entity registered under an import path.
func (b *Builder) Package(importPath string) (graph.EntityID, bool) {
	id, ok := b.packages[importPath]
	return id, ok
}

func (b *Builder) declare(d graph.Decl) (graph.EntityID, error) {
	id, err := b.store.Declare(d)
	if err != nil {
		return graph.NoEntity, fmt.Errorf("declaring %s %q in %s: %w", d.Kind, d.Name, d.FilePath, err)
	}
	b.decls++
	return id, nil
}

func (b *Builder) addCall(callable graph.EntityID, text string) error {
	text = compactCall(text)
	if text == "" {
		return nil
	}
	if err := b.store.AddRawCall(callable, text); err != nil {
		return fmt.Errorf("recording call %q: %w", text, err)
	}
	b.calls++
	return nil
}

func (b *Builder) pin(varID, typeID graph.EntityID) error {
	if err := b.store.PinType(varID, typeID); err != nil {
		return fmt.Errorf("pinning variable %d: %w", varID, err)
	}
	return nil
}

func (b *Builder) queueImport(imp pendingImport) {
	b.imports = append(b.imports, imp)
}

// counters snapshots the declaration and call counters so a frontend can
// report the delta of one Parse call.
func (b *Builder) counters() (int, int) {
	return b.decls, b.calls
}
