package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/Benny93/depgraph/internal/graph"
)

// MemoryBackend is an in-memory implementation of Backend, used by tests
// and by watch mode when no database is wanted.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[graph.EntityID]*Record
	byName  map[string][]graph.EntityID
	rels    *graph.RelationStore
	tokens  map[string]map[graph.EntityID]int
	meta    *Meta
	indexed bool
}

// NewMemoryBackend creates a new in-memory storage backend.
func NewMemoryBackend() *MemoryBackend {
	m := &MemoryBackend{}
	m.reset()
	return m
}

func (m *MemoryBackend) reset() {
	m.records = make(map[graph.EntityID]*Record)
	m.byName = make(map[string][]graph.EntityID)
	m.rels = graph.NewRelationStore()
	m.tokens = make(map[string]map[graph.EntityID]int)
	m.meta = nil
}

// Initialize implements Backend.
func (m *MemoryBackend) Initialize(path string, readOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexed = true
	return nil
}

// IsIndexed reports whether the backend was initialized or loaded.
func (m *MemoryBackend) IsIndexed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.indexed
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
	m.indexed = false
	return nil
}

// BulkLoad implements Backend.
func (m *MemoryBackend) BulkLoad(ctx context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reset()
	for _, r := range snap.Records {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.records[r.ID] = r
		m.byName[r.Name] = append(m.byName[r.Name], r.ID)
		if r.QualifiedName != r.Name {
			m.byName[r.QualifiedName] = append(m.byName[r.QualifiedName], r.ID)
		}
		if !searchable(r) {
			continue
		}
		for token, freq := range recordTokens(r) {
			if m.tokens[token] == nil {
				m.tokens[token] = make(map[graph.EntityID]int)
			}
			m.tokens[token][r.ID] += freq
		}
	}
	for _, rel := range snap.Relations {
		m.rels.Add(rel)
	}
	meta := snap.Meta
	m.meta = &meta
	m.indexed = true
	return nil
}

// NodeCount returns the number of stored records.
func (m *MemoryBackend) NodeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// RelationshipCount returns the number of stored relations.
func (m *MemoryBackend) RelationshipCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rels.Count()
}

// GetEntity implements Backend.
func (m *MemoryBackend) GetEntity(ctx context.Context, id graph.EntityID) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[id], nil
}

// FindByName implements Backend.
func (m *MemoryBackend) FindByName(ctx context.Context, name string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Record
	seen := make(map[graph.EntityID]bool)
	for _, id := range m.byName[name] {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, m.records[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetCallers implements Backend.
func (m *MemoryBackend) GetCallers(ctx context.Context, id graph.EntityID, kinds ...graph.CallKind) ([]Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.edgesLocked(id, Callers, kinds), nil
}

// GetCallees implements Backend.
func (m *MemoryBackend) GetCallees(ctx context.Context, id graph.EntityID, kinds ...graph.CallKind) ([]Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.edgesLocked(id, Callees, kinds), nil
}

// edgesLocked follows the outgoing relations of id: inverse relations lead
// to callers and forward relations to callees.
func (m *MemoryBackend) edgesLocked(id graph.EntityID, direction Direction, kinds []graph.CallKind) []Edge {
	var edges []Edge
	for _, rel := range m.rels.Outgoing(id, relKinds(direction, kinds)...) {
		rec, ok := m.records[rel.Target]
		if !ok {
			continue
		}
		kind, _ := callKindOf(rel.Kind)
		edges = append(edges, Edge{Record: rec, Kind: kind})
	}
	return edges
}

// Traverse implements Backend.
func (m *MemoryBackend) Traverse(ctx context.Context, start graph.EntityID, depth int, direction Direction) ([]Hop, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return traverse(ctx, start, depth, func(id graph.EntityID) ([]Edge, error) {
		return m.edgesLocked(id, direction, nil), nil
	})
}

// GetUncalled implements Backend.
func (m *MemoryBackend) GetUncalled(ctx context.Context) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Record
	for _, r := range m.records {
		if r.Uncalled {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Search implements Backend.
func (m *MemoryBackend) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scores := make(map[graph.EntityID]float64)
	for _, token := range tokenize(query) {
		for id, freq := range m.tokens[token] {
			scores[id] += float64(freq)
		}
	}
	return rankResults(scores, func(id graph.EntityID) *Record { return m.records[id] }, limit), nil
}

// Meta implements Backend.
func (m *MemoryBackend) Meta(ctx context.Context) (*Meta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.meta == nil {
		return nil, nil
	}
	meta := *m.meta
	return &meta, nil
}
