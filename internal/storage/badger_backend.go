package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/Benny93/depgraph/internal/graph"
)

// Key prefixes for different data types
const (
	prefixNode     = "n:"     // record data
	prefixRel      = "r:"     // relation data
	prefixOutgoing = "i:out:" // adjacency by source and kind
	prefixName     = "x:"     // name and qualified name lookup
	prefixToken    = "fts:t:" // token frequencies
	keyMeta        = "m:meta"
)

// BadgerBackend is a BadgerDB-backed storage implementation.
type BadgerBackend struct {
	db                *badger.DB
	initialized       bool
	readOnly          bool
	mu                sync.RWMutex
	nodeCount         int
	relationshipCount int
}

// NewBadgerBackend creates a new BadgerDB backend.
func NewBadgerBackend() *BadgerBackend {
	return &BadgerBackend{}
}

// Initialize opens or creates the BadgerDB database at the given path.
func (b *BadgerBackend) Initialize(path string, readOnly bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	opts := badger.DefaultOptions(path).
		WithNumCompactors(2).
		WithNumMemtables(5).
		WithLoggingLevel(badger.ERROR)

	if readOnly {
		opts = opts.WithReadOnly(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("opening badger DB: %w", err)
	}
	b.db = db
	b.initialized = true
	b.readOnly = readOnly

	meta, err := b.loadMeta()
	if err != nil {
		return err
	}
	if meta != nil {
		b.nodeCount = meta.Entities
		b.relationshipCount = meta.Relations
	}
	return nil
}

// Close releases all resources held by the backend.
func (b *BadgerBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}

	err := b.db.Close()
	b.db = nil
	b.initialized = false
	return err
}

// BulkLoad replaces the entire store with the snapshot.
func (b *BadgerBackend) BulkLoad(ctx context.Context, snap *Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return ErrNotInitialized
	}
	if b.readOnly {
		return errors.New("bulk load on read-only badger DB")
	}
	if err := b.db.DropAll(); err != nil {
		return fmt.Errorf("dropping previous graph: %w", err)
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for _, r := range snap.Records {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshaling record: %w", err)
		}
		if err := wb.Set(nodeKey(r.ID), data); err != nil {
			return fmt.Errorf("setting record: %w", err)
		}
		if err := wb.Set(nameKey(r.Name, r.ID), nil); err != nil {
			return fmt.Errorf("setting name index: %w", err)
		}
		if r.QualifiedName != r.Name {
			if err := wb.Set(nameKey(r.QualifiedName, r.ID), nil); err != nil {
				return fmt.Errorf("setting name index: %w", err)
			}
		}
		if !searchable(r) {
			continue
		}
		for token, freq := range recordTokens(r) {
			if err := wb.Set(tokenKey(token, r.ID), []byte(strconv.Itoa(freq))); err != nil {
				return fmt.Errorf("setting token index: %w", err)
			}
		}
	}

	for seq, rel := range snap.Relations {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(rel)
		if err != nil {
			return fmt.Errorf("marshaling relation: %w", err)
		}
		if err := wb.Set(relKey(seq), data); err != nil {
			return fmt.Errorf("setting relation: %w", err)
		}
		outKey := fmt.Sprintf("%s%010d:%s:%010d", prefixOutgoing, rel.Source, rel.Kind, seq)
		if err := wb.Set([]byte(outKey), []byte(strconv.Itoa(int(rel.Target)))); err != nil {
			return fmt.Errorf("setting outgoing index: %w", err)
		}
	}

	meta := snap.Meta
	meta.Entities = len(snap.Records)
	meta.Relations = len(snap.Relations)
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling meta: %w", err)
	}
	if err := wb.Set([]byte(keyMeta), data); err != nil {
		return fmt.Errorf("setting meta: %w", err)
	}

	if err := wb.Flush(); err != nil {
		return err
	}
	b.nodeCount = meta.Entities
	b.relationshipCount = meta.Relations
	return nil
}

// GetEntity returns a single record by id, or nil if not found.
func (b *BadgerBackend) GetEntity(ctx context.Context, id graph.EntityID) (*Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.initialized {
		return nil, ErrNotInitialized
	}

	var rec *Record
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, id)
		return err
	})
	return rec, err
}

// FindByName returns records whose name or qualified name equals name.
func (b *BadgerBackend) FindByName(ctx context.Context, name string) ([]*Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.initialized {
		return nil, ErrNotInitialized
	}

	var out []*Record
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte(prefixName + name + "\x00")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		seen := make(map[graph.EntityID]bool)
		for it.Rewind(); it.Valid(); it.Next() {
			id, err := parseID(bytes.TrimPrefix(it.Item().Key(), prefix))
			if err != nil {
				return err
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			rec, err := getRecord(txn, id)
			if err != nil {
				return err
			}
			if rec != nil {
				out = append(out, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetCallers returns the entities calling id.
func (b *BadgerBackend) GetCallers(ctx context.Context, id graph.EntityID, kinds ...graph.CallKind) ([]Edge, error) {
	return b.edges(ctx, id, Callers, kinds)
}

// GetCallees returns the entities id calls.
func (b *BadgerBackend) GetCallees(ctx context.Context, id graph.EntityID, kinds ...graph.CallKind) ([]Edge, error) {
	return b.edges(ctx, id, Callees, kinds)
}

func (b *BadgerBackend) edges(ctx context.Context, id graph.EntityID, direction Direction, kinds []graph.CallKind) ([]Edge, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.initialized {
		return nil, ErrNotInitialized
	}

	var edges []Edge
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		edges, err = edgesTxn(txn, id, direction, kinds)
		return err
	})
	return edges, err
}

// edgesTxn scans the outgoing adjacency index of id for each relation kind.
func edgesTxn(txn *badger.Txn, id graph.EntityID, direction Direction, kinds []graph.CallKind) ([]Edge, error) {
	var edges []Edge
	for _, rk := range relKinds(direction, kinds) {
		kind, _ := callKindOf(rk)

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(fmt.Sprintf("%s%010d:%s:", prefixOutgoing, id, rk))
		it := txn.NewIterator(opts)

		for it.Rewind(); it.Valid(); it.Next() {
			var target graph.EntityID
			err := it.Item().Value(func(val []byte) error {
				var err error
				target, err = parseID(val)
				return err
			})
			if err != nil {
				it.Close()
				return nil, fmt.Errorf("reading adjacency: %w", err)
			}
			rec, err := getRecord(txn, target)
			if err != nil {
				it.Close()
				return nil, err
			}
			if rec != nil {
				edges = append(edges, Edge{Record: rec, Kind: kind})
			}
		}
		it.Close()
	}
	return edges, nil
}

// Traverse performs a breadth-first traversal through call edges.
func (b *BadgerBackend) Traverse(ctx context.Context, start graph.EntityID, depth int, direction Direction) ([]Hop, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.initialized {
		return nil, ErrNotInitialized
	}

	var hops []Hop
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		hops, err = traverse(ctx, start, depth, func(id graph.EntityID) ([]Edge, error) {
			return edgesTxn(txn, id, direction, nil)
		})
		return err
	})
	return hops, err
}

// GetUncalled returns all records flagged as uncalled.
func (b *BadgerBackend) GetUncalled(ctx context.Context) ([]*Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.initialized {
		return nil, ErrNotInitialized
	}

	var out []*Record
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixNode)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("unmarshaling record: %w", err)
			}
			if rec.Uncalled {
				out = append(out, &rec)
			}
		}
		return nil
	})
	return out, err
}

// Search ranks records by how well their names match query.
func (b *BadgerBackend) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.initialized {
		return nil, ErrNotInitialized
	}

	var results []SearchResult
	err := b.db.View(func(txn *badger.Txn) error {
		scores := make(map[graph.EntityID]float64)
		for _, token := range tokenize(query) {
			prefix := []byte(prefixToken + token + "\x00")
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			it := txn.NewIterator(opts)

			for it.Rewind(); it.Valid(); it.Next() {
				item := it.Item()
				id, err := parseID(bytes.TrimPrefix(item.Key(), prefix))
				if err != nil {
					it.Close()
					return err
				}
				if err := item.Value(func(val []byte) error {
					freq, err := strconv.Atoi(string(val))
					scores[id] += float64(freq)
					return err
				}); err != nil {
					it.Close()
					return fmt.Errorf("reading token frequency: %w", err)
				}
			}
			it.Close()
		}

		lookup := make(map[graph.EntityID]*Record, len(scores))
		for id := range scores {
			rec, err := getRecord(txn, id)
			if err != nil {
				return err
			}
			lookup[id] = rec
		}
		results = rankResults(scores, func(id graph.EntityID) *Record { return lookup[id] }, limit)
		return nil
	})
	return results, err
}

// Meta returns the metadata of the loaded snapshot, or nil when empty.
func (b *BadgerBackend) Meta(ctx context.Context) (*Meta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.initialized {
		return nil, ErrNotInitialized
	}
	return b.loadMeta()
}

func (b *BadgerBackend) loadMeta() (*Meta, error) {
	var meta *Meta
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyMeta))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("getting meta: %w", err)
		}
		meta = &Meta{}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, meta)
		})
	})
	return meta, err
}

// NodeCount returns the number of stored records.
func (b *BadgerBackend) NodeCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nodeCount
}

// RelationshipCount returns the number of stored relations.
func (b *BadgerBackend) RelationshipCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.relationshipCount
}

func getRecord(txn *badger.Txn, id graph.EntityID) (*Record, error) {
	item, err := txn.Get(nodeKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}

	var rec Record
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, fmt.Errorf("unmarshaling record: %w", err)
	}
	return &rec, nil
}

func nodeKey(id graph.EntityID) []byte {
	return []byte(fmt.Sprintf("%s%010d", prefixNode, id))
}

func relKey(seq int) []byte {
	return []byte(fmt.Sprintf("%s%010d", prefixRel, seq))
}

// nameKey and tokenKey end the text with a NUL byte so that a prefix scan
// on one name never matches a longer one.
func nameKey(name string, id graph.EntityID) []byte {
	return []byte(fmt.Sprintf("%s%s\x00%010d", prefixName, name, id))
}

func tokenKey(token string, id graph.EntityID) []byte {
	return []byte(fmt.Sprintf("%s%s\x00%010d", prefixToken, token, id))
}

func parseID(b []byte) (graph.EntityID, error) {
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return graph.NoEntity, fmt.Errorf("parsing entity id %q: %w", b, err)
	}
	return graph.EntityID(n), nil
}
