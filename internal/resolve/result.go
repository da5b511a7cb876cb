package resolve

import (
	"time"

	"github.com/Benny93/depgraph/internal/graph"
)

// Resolution is the outcome of resolving one call-list entry. It is one of
// Resolved, Candidates or Unresolved.
type Resolution interface {
	// Ref is the id later entries see through the placeholder token.
	Ref() graph.EntityID
	isResolution()
}

// Resolved is a single target found through scope chains.
type Resolved struct {
	Target graph.EntityID
	Kind   graph.CallKind
}

// Candidates are same-name whole-program matches, each recorded as an
// implicit external call.
type Candidates struct {
	Targets []graph.EntityID
}

// Unresolved means no edge was recorded for the entry.
type Unresolved struct {
	Reason Reason
	// Target is set for property entries that resolved for later reference.
	Target graph.EntityID
}

func (r Resolved) Ref() graph.EntityID   { return r.Target }
func (Candidates) Ref() graph.EntityID   { return graph.NoEntity }
func (u Unresolved) Ref() graph.EntityID { return u.Target }

func (Resolved) isResolution()   {}
func (Candidates) isResolution() {}
func (Unresolved) isResolution() {}

// Reason explains why an entry produced no edge.
type Reason string

const (
	ReasonBuiltin   Reason = "builtin"
	ReasonSuper     Reason = "super"
	ReasonMalformed Reason = "malformed"
	ReasonProperty  Reason = "property"
	ReasonNotFound  Reason = "not_found"
	ReasonDangling  Reason = "dangling"
)

// Reasons lists every unresolved reason.
var Reasons = []Reason{ReasonBuiltin, ReasonSuper, ReasonMalformed, ReasonProperty, ReasonNotFound, ReasonDangling}

// Report summarizes a resolution pass.
type Report struct {
	Entities   int
	Entries    int
	Edges      map[graph.CallKind]int
	Unresolved map[Reason]int
	Duration   time.Duration
}

func newReport() *Report {
	return &Report{
		Edges:      make(map[graph.CallKind]int),
		Unresolved: make(map[Reason]int),
	}
}

// Add folds the outcomes of one entity into the report.
func (r *Report) Add(results []Resolution) {
	r.Entities++
	r.Entries += len(results)
	for _, res := range results {
		switch v := res.(type) {
		case Resolved:
			r.Edges[v.Kind]++
		case Candidates:
			r.Edges[graph.CallImplicitExternal] += len(v.Targets)
		case Unresolved:
			r.Unresolved[v.Reason]++
		}
	}
}

// TotalEdges returns the number of forward edges recorded.
func (r *Report) TotalEdges() int {
	total := 0
	for _, n := range r.Edges {
		total += n
	}
	return total
}
