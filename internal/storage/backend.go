// Package storage persists a resolved entity graph and answers caller,
// callee, traversal and name queries over it.
//
// It defines the Backend interface that all storage implementations
// must satisfy, along with common types used across backends.
package storage

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/Benny93/depgraph/internal/graph"
)

// ErrNotInitialized is returned by backends used before Initialize.
var ErrNotInitialized = errors.New("storage backend not initialized")

// MaxTraverseDepth bounds Traverse.
const MaxTraverseDepth = 10

// Direction selects the edge direction of a traversal.
type Direction string

const (
	Callers Direction = "callers"
	Callees Direction = "callees"
)

// Record is a persisted entity.
type Record struct {
	ID            graph.EntityID `json:"id"`
	Kind          graph.Kind     `json:"kind"`
	Name          string         `json:"name"`
	QualifiedName string         `json:"qualified_name"`
	Parent        graph.EntityID `json:"parent"`
	Language      string         `json:"language,omitempty"`
	FilePath      string         `json:"file_path,omitempty"`
	Line          int            `json:"line,omitempty"`
	TypeID        graph.EntityID `json:"type_id"`

	// Calls is the normalized call list of a callable container.
	Calls []string `json:"calls,omitempty"`

	// Uncalled is set on functions and methods no call edge reaches.
	Uncalled bool `json:"uncalled,omitempty"`
}

// Edge is a neighbor reached over one relation.
type Edge struct {
	Record *Record `json:"record"`

	// Kind is the forward call kind of the relation, regardless of the
	// direction the edge was followed in.
	Kind graph.CallKind `json:"kind"`
}

// Hop is a traversal result.
type Hop struct {
	Record *Record        `json:"record"`
	Depth  int            `json:"depth"`
	Kind   graph.CallKind `json:"kind"`
}

// SearchResult represents a name search result from the storage backend.
type SearchResult struct {
	Record *Record `json:"record"`

	// Score is the relevance score (higher is better).
	Score float64 `json:"score"`
}

// Meta describes the analysis run a snapshot came from.
type Meta struct {
	RunID      string         `json:"run_id"`
	RepoPath   string         `json:"repo_path"`
	GoModule   string         `json:"go_module,omitempty"`
	IndexedAt  time.Time      `json:"indexed_at"`
	Files      int            `json:"files"`
	Entities   int            `json:"entities"`
	Relations  int            `json:"relations"`
	Uncalled   int            `json:"uncalled"`
	Edges      map[string]int `json:"edges"`
	Unresolved map[string]int `json:"unresolved"`
	Duration   time.Duration  `json:"duration"`
}

// Snapshot is everything a backend stores for one analysis run.
type Snapshot struct {
	Records   []*Record
	Relations []graph.Relation
	Meta      Meta
}

// NewSnapshot converts a resolved store and its relations into records.
// The store must be finalized so that call lists are normalized.
func NewSnapshot(store *graph.Store, rels *graph.RelationStore) *Snapshot {
	entities := store.Entities()
	snap := &Snapshot{
		Records:   make([]*Record, 0, len(entities)),
		Relations: rels.All(),
	}
	for _, e := range entities {
		snap.Records = append(snap.Records, &Record{
			ID:            e.ID,
			Kind:          e.Kind,
			Name:          e.Name,
			QualifiedName: store.QualifiedName(e.ID),
			Parent:        e.Parent,
			Language:      e.Language,
			FilePath:      e.FilePath,
			Line:          e.Line,
			TypeID:        e.TypeID,
			Calls:         slices.Clone(e.Calls),
		})
	}
	snap.Meta.Entities = len(snap.Records)
	snap.Meta.Relations = len(snap.Relations)
	return snap
}

// MarkUncalled flags the given records as uncalled.
// Ids outside the snapshot are ignored.
func (s *Snapshot) MarkUncalled(ids []graph.EntityID) {
	marked := 0
	for _, id := range ids {
		if int(id) >= 0 && int(id) < len(s.Records) && s.Records[id].ID == id && !s.Records[id].Uncalled {
			s.Records[id].Uncalled = true
			marked++
		}
	}
	s.Meta.Uncalled += marked
}

// Backend defines the interface for storage implementations.
//
// Implementations must be thread-safe and support concurrent access.
type Backend interface {
	// Initialize opens or creates the storage backend at the given path.
	// If readOnly is true, the backend is opened in read-only mode.
	Initialize(path string, readOnly bool) error

	// Close releases all resources held by the backend.
	Close() error

	// BulkLoad replaces the entire store with the snapshot.
	BulkLoad(ctx context.Context, snap *Snapshot) error

	// GetEntity returns a single record by id, or nil if not found.
	GetEntity(ctx context.Context, id graph.EntityID) (*Record, error)

	// FindByName returns records whose name or qualified name equals name.
	FindByName(ctx context.Context, name string) ([]*Record, error)

	// GetCallers returns the entities calling id over the given call kinds,
	// or over every kind when none are given.
	GetCallers(ctx context.Context, id graph.EntityID, kinds ...graph.CallKind) ([]Edge, error)

	// GetCallees returns the entities id calls.
	GetCallees(ctx context.Context, id graph.EntityID, kinds ...graph.CallKind) ([]Edge, error)

	// Traverse performs a breadth-first traversal through call edges up to
	// depth hops from start, excluding start itself.
	Traverse(ctx context.Context, start graph.EntityID, depth int, direction Direction) ([]Hop, error)

	// GetUncalled returns all records flagged as uncalled.
	GetUncalled(ctx context.Context) ([]*Record, error)

	// Search ranks records by how well their names match query.
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)

	// Meta returns the metadata of the loaded snapshot, or nil when empty.
	Meta(ctx context.Context) (*Meta, error)
}

// relKinds maps call kinds to the relation kinds followed from the
// queried entity: inverse kinds for callers, forward kinds for callees.
func relKinds(direction Direction, kinds []graph.CallKind) []graph.RelKind {
	if len(kinds) == 0 {
		kinds = graph.CallKinds
	}
	out := make([]graph.RelKind, 0, len(kinds))
	for _, k := range kinds {
		if direction == Callers {
			out = append(out, k.Inverse())
		} else {
			out = append(out, k.Forward())
		}
	}
	return out
}

// callKindOf returns the call kind a relation kind belongs to.
func callKindOf(kind graph.RelKind) (graph.CallKind, bool) {
	for _, k := range graph.CallKinds {
		if kind == k.Forward() || kind == k.Inverse() {
			return k, true
		}
	}
	return 0, false
}

// traverse runs the breadth-first walk shared by the backends. neighbors
// returns the edges of one entity in the traversal direction.
func traverse(ctx context.Context, start graph.EntityID, depth int, neighbors func(graph.EntityID) ([]Edge, error)) ([]Hop, error) {
	depth = min(depth, MaxTraverseDepth)

	type item struct {
		id    graph.EntityID
		depth int
	}
	visited := map[graph.EntityID]bool{start: true}
	queue := []item{{id: start}}
	var hops []Hop

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return hops, err
		}
		current := queue[0]
		queue = queue[1:]
		if current.depth >= depth {
			continue
		}

		edges, err := neighbors(current.id)
		if err != nil {
			return hops, err
		}
		for _, e := range edges {
			if visited[e.Record.ID] {
				continue
			}
			visited[e.Record.ID] = true
			hops = append(hops, Hop{Record: e.Record, Depth: current.depth + 1, Kind: e.Kind})
			queue = append(queue, item{id: e.Record.ID, depth: current.depth + 1})
		}
	}
	return hops, nil
}

// Lookup resolves a user-supplied symbol to one record. Exact name or
// qualified-name matches win, callables first; otherwise the best search
// hit is used. matches holds every exact match so callers can report
// ambiguity. rec is nil when nothing matches.
func Lookup(ctx context.Context, b Backend, symbol string) (rec *Record, matches []*Record, err error) {
	matches, err = b.FindByName(ctx, symbol)
	if err != nil {
		return nil, nil, err
	}
	for _, m := range matches {
		if m.Kind.IsCallable() && m.Kind != graph.KindModule {
			return m, matches, nil
		}
	}
	if len(matches) > 0 {
		return matches[0], matches, nil
	}

	results, err := b.Search(ctx, symbol, 1)
	if err != nil {
		return nil, nil, err
	}
	if len(results) == 0 {
		return nil, nil, nil
	}
	return results[0].Record, nil, nil
}
