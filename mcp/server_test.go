package mcp

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/depgraph/internal/graph"
	"github.com/Benny93/depgraph/internal/storage"
)

func edge(source, target graph.EntityID, kind graph.CallKind) []graph.Relation {
	return []graph.Relation{
		{Source: source, Target: target, Kind: kind.Forward()},
		{Source: target, Target: source, Kind: kind.Inverse()},
	}
}

// newTestServer serves a graph where main calls load, load calls fetch
// through self, and two unrelated functions named fetch exist.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	records := []*storage.Record{
		{ID: 0, Kind: graph.KindModule, Name: "app", QualifiedName: "app", Parent: graph.NoEntity, FilePath: "app.py", TypeID: graph.NoEntity},
		{ID: 1, Kind: graph.KindClass, Name: "UserService", QualifiedName: "app.UserService", Parent: 0, FilePath: "app.py", Line: 1, TypeID: graph.NoEntity},
		{ID: 2, Kind: graph.KindMethod, Name: "load", QualifiedName: "app.UserService.load", Parent: 1, FilePath: "app.py", Line: 2, TypeID: graph.NoEntity},
		{ID: 3, Kind: graph.KindMethod, Name: "fetch", QualifiedName: "app.UserService.fetch", Parent: 1, FilePath: "app.py", Line: 5, TypeID: graph.NoEntity},
		{ID: 4, Kind: graph.KindFunction, Name: "main", QualifiedName: "app.main", Parent: 0, FilePath: "app.py", Line: 9, TypeID: graph.NoEntity},
		{ID: 5, Kind: graph.KindFunction, Name: "fetch", QualifiedName: "lib.fetch", Parent: graph.NoEntity, FilePath: "lib.py", Line: 1, TypeID: graph.NoEntity, Uncalled: true},
	}
	var rels []graph.Relation
	rels = append(rels, edge(4, 1, graph.CallDirect)...)
	rels = append(rels, edge(4, 2, graph.CallImplicitInternal)...)
	rels = append(rels, edge(2, 3, graph.CallImplicitInternal)...)

	backend := storage.NewMemoryBackend()
	require.NoError(t, backend.BulkLoad(context.Background(), &storage.Snapshot{
		Records:   records,
		Relations: rels,
		Meta: storage.Meta{
			RunID:      "run-42",
			RepoPath:   "/repo",
			IndexedAt:  time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
			Files:      2,
			Entities:   len(records),
			Relations:  len(rels),
			Uncalled:   1,
			Edges:      map[string]int{"call": 1, "implicit_internal_call": 2},
			Unresolved: map[string]int{"not_found": 3, "builtin": 7},
		},
	}))
	return NewServer(backend, "test")
}

func TestListTools(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	tools := s.ListTools()
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
		require.NotNil(t, tool.InputSchema)
		assert.Equal(t, "object", tool.InputSchema.Type)
		assert.NotEmpty(t, tool.Description)
	}
	assert.ElementsMatch(t, []string{
		"depgraph_search", "depgraph_callers", "depgraph_callees", "depgraph_impact", "depgraph_uncalled",
	}, names)
}

func TestCallTool(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := context.Background()

	t.Run("Search", func(t *testing.T) {
		t.Parallel()
		out, err := s.CallTool(ctx, "depgraph_search", map[string]any{"query": "user service"})
		require.NoError(t, err)
		assert.Contains(t, out, "1. **app.UserService** (class)")

		out, err = s.CallTool(ctx, "depgraph_search", map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, "No query provided", out)
	})

	t.Run("Callers", func(t *testing.T) {
		t.Parallel()
		out, err := s.CallTool(ctx, "depgraph_callers", map[string]any{"symbol": "app.UserService.fetch"})
		require.NoError(t, err)
		assert.Contains(t, out, "## Callers of **app.UserService.fetch** (1)")
		assert.Contains(t, out, "- app.UserService.load (method) in app.py:2 [implicit_internal_call]")
	})

	t.Run("AmbiguousName", func(t *testing.T) {
		t.Parallel()
		out, err := s.CallTool(ctx, "depgraph_callers", map[string]any{"symbol": "fetch"})
		require.NoError(t, err)
		assert.Contains(t, out, "2 symbols are named 'fetch'")
		assert.Contains(t, out, "- lib.fetch")
	})

	t.Run("CalleesByKind", func(t *testing.T) {
		t.Parallel()
		out, err := s.CallTool(ctx, "depgraph_callees", map[string]any{"symbol": "main", "kinds": []any{"direct"}})
		require.NoError(t, err)
		assert.Contains(t, out, "(1)")
		assert.Contains(t, out, "app.UserService (class)")
		assert.NotContains(t, out, "app.UserService.load")

		_, err = s.CallTool(ctx, "depgraph_callees", map[string]any{"symbol": "main", "kinds": []any{"sideways"}})
		assert.Error(t, err)
	})

	t.Run("Impact", func(t *testing.T) {
		t.Parallel()
		out, err := s.CallTool(ctx, "depgraph_impact", map[string]any{"symbol": "app.UserService.fetch"})
		require.NoError(t, err)
		assert.Contains(t, out, "(depth: 3, callers)")
		assert.Contains(t, out, "## Affected Symbols (2)")
		assert.Contains(t, out, "### Depth 1 (Direct)")
		assert.Contains(t, out, "### Depth 2 (Indirect)")
		assert.Contains(t, out, "app.main (function)")

		out, err = s.CallTool(ctx, "depgraph_impact", map[string]any{"symbol": "app.UserService.fetch", "depth": float64(1)})
		require.NoError(t, err)
		assert.Contains(t, out, "## Affected Symbols (1)")

		out, err = s.CallTool(ctx, "depgraph_impact", map[string]any{"symbol": "main", "direction": "callees"})
		require.NoError(t, err)
		assert.Contains(t, out, "## Affected Symbols (3)")

		_, err = s.CallTool(ctx, "depgraph_impact", map[string]any{"symbol": "main", "direction": "up"})
		assert.Error(t, err)
	})

	t.Run("Uncalled", func(t *testing.T) {
		t.Parallel()
		out, err := s.CallTool(ctx, "depgraph_uncalled", nil)
		require.NoError(t, err)
		assert.Contains(t, out, "### lib.py")
		assert.Contains(t, out, "- lib.fetch (function) line 1")
	})

	t.Run("NotFound", func(t *testing.T) {
		t.Parallel()
		out, err := s.CallTool(ctx, "depgraph_callers", map[string]any{"symbol": "zzz"})
		require.NoError(t, err)
		assert.Equal(t, "Symbol 'zzz' not found in index", out)
	})

	t.Run("UnknownTool", func(t *testing.T) {
		t.Parallel()
		_, err := s.CallTool(ctx, "depgraph_cypher", nil)
		assert.Error(t, err)
	})
}

func TestReadResource(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := context.Background()

	out, err := s.ReadResource(ctx, "depgraph://overview")
	require.NoError(t, err)
	assert.Contains(t, out, "run-42")
	assert.Contains(t, out, "- Entities: 6")
	assert.Contains(t, out, "- implicit_internal_call: 2")
	assert.Contains(t, out, "- implicit_external_call: 0")
	assert.Less(t, strings.Index(out, "- builtin: 7"), strings.Index(out, "- not_found: 3"))

	out, err = s.ReadResource(ctx, "depgraph://schema")
	require.NoError(t, err)
	assert.Contains(t, out, "implicit_external_call")

	out, err = s.ReadResource(ctx, "depgraph://uncalled")
	require.NoError(t, err)
	assert.Contains(t, out, "lib.fetch")

	_, err = s.ReadResource(ctx, "depgraph://nope")
	assert.Error(t, err)

	empty := NewServer(storage.NewMemoryBackend(), "test")
	out, err = empty.ReadResource(ctx, "depgraph://overview")
	require.NoError(t, err)
	assert.Contains(t, out, "No call graph loaded")
}

func TestSession(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := context.Background()

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	serverSession, err := s.server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer func() { _ = serverSession.Close() }()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, tools.Tools, len(s.ListTools()))

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "depgraph_callees",
		Arguments: map[string]any{"symbol": "app.UserService.load"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "app.UserService.fetch")

	res, err = session.CallTool(ctx, &mcp.CallToolParams{Name: "depgraph_impact", Arguments: map[string]any{"symbol": "main", "direction": "up"}})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	overview, err := session.ReadResource(ctx, &mcp.ReadResourceParams{URI: "depgraph://overview"})
	require.NoError(t, err)
	require.Len(t, overview.Contents, 1)
	assert.Contains(t, overview.Contents[0].Text, "run-42")
}
