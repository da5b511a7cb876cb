package graph

import (
	"slices"
	"sync"
)

// RelationStore is an append-only set of directed relations.
//
// Every call relation is stored as a forward edge and its mirror inverse.
// Edges are never deduplicated here: the same triple may appear once per
// call site. Secondary indexes on kind and adjacency keep queries
// proportional to the result set.
type RelationStore struct {
	mu   sync.RWMutex
	rels []Relation

	byKind   map[RelKind][]int
	outgoing map[EntityID][]int
	incoming map[EntityID][]int
}

// NewRelationStore creates an empty relation store.
func NewRelationStore() *RelationStore {
	return &RelationStore{
		byKind:   make(map[RelKind][]int),
		outgoing: make(map[EntityID][]int),
		incoming: make(map[EntityID][]int),
	}
}

// Record appends source->target with the forward kind and target->source
// with the inverse kind. It is safe for concurrent use.
func (r *RelationStore) Record(source, target EntityID, forward, inverse RelKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendLocked(Relation{Source: source, Target: target, Kind: forward})
	r.appendLocked(Relation{Source: target, Target: source, Kind: inverse})
}

// RecordCall records a call relation and its inverse for the given tier.
func (r *RelationStore) RecordCall(source, target EntityID, kind CallKind) {
	r.Record(source, target, kind.Forward(), kind.Inverse())
}

// Add appends a single relation as-is. Used when reloading a persisted graph.
func (r *RelationStore) Add(rel Relation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendLocked(rel)
}

func (r *RelationStore) appendLocked(rel Relation) {
	idx := len(r.rels)
	r.rels = append(r.rels, rel)
	r.byKind[rel.Kind] = append(r.byKind[rel.Kind], idx)
	r.outgoing[rel.Source] = append(r.outgoing[rel.Source], idx)
	r.incoming[rel.Target] = append(r.incoming[rel.Target], idx)
}

// All returns every relation in insertion order.
func (r *RelationStore) All() []Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.rels)
}

// Count returns the number of stored relations, inverses included.
func (r *RelationStore) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rels)
}

// ByKind returns all relations of the given kind.
func (r *RelationStore) ByKind(kind RelKind) []Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(r.byKind[kind], nil)
}

// CountByKind returns the number of relations per kind.
func (r *RelationStore) CountByKind() map[RelKind]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[RelKind]int, len(r.byKind))
	for kind, idxs := range r.byKind {
		counts[kind] = len(idxs)
	}
	return counts
}

// Outgoing returns relations whose source is id.
// If kinds are provided, only relations of those kinds are returned.
func (r *RelationStore) Outgoing(id EntityID, kinds ...RelKind) []Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(r.outgoing[id], kinds)
}

// Incoming returns relations whose target is id.
// If kinds are provided, only relations of those kinds are returned.
func (r *RelationStore) Incoming(id EntityID, kinds ...RelKind) []Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(r.incoming[id], kinds)
}

// HasIncoming reports whether id is the target of any relation of the
// given kinds, or of any kind when none are given.
func (r *RelationStore) HasIncoming(id EntityID, kinds ...RelKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, idx := range r.incoming[id] {
		if len(kinds) == 0 || slices.Contains(kinds, r.rels[idx].Kind) {
			return true
		}
	}
	return false
}

func (r *RelationStore) collectLocked(idxs []int, kinds []RelKind) []Relation {
	if len(idxs) == 0 {
		return nil
	}
	out := make([]Relation, 0, len(idxs))
	for _, idx := range idxs {
		rel := r.rels[idx]
		if len(kinds) > 0 && !slices.Contains(kinds, rel.Kind) {
			continue
		}
		out = append(out, rel)
	}
	return out
}
