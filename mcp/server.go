// Package mcp provides the MCP (Model Context Protocol) server for depgraph.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Benny93/depgraph/internal/graph"
	"github.com/Benny93/depgraph/internal/storage"
)

const (
	defaultSearchLimit = 20
	defaultDepth       = 3
)

// Server represents the MCP server.
type Server struct {
	storage storage.Backend
	server  *mcp.Server
}

// Tool represents an MCP tool.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}

// Resource represents an MCP resource.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
}

// NewServer creates a new MCP server over a loaded backend.
func NewServer(backend storage.Backend, version string) *Server {
	s := &Server{
		storage: backend,
	}

	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "depgraph",
		Version: version,
	}, nil)

	s.registerTools()
	s.registerResources()

	return s
}

var kindsSchema = &jsonschema.Schema{
	Type:        "array",
	Items:       &jsonschema.Schema{Type: "string", Enum: []any{"direct", "internal", "external"}},
	Description: "Restrict to these call kinds; all kinds when omitted",
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []Tool {
	return []Tool{
		{
			Name:        "depgraph_search",
			Description: "Search functions, methods and classes by name. Returns ranked symbols with their qualified names.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"query": {Type: "string", Description: "Search query text"},
					"limit": {Type: "integer", Description: "Maximum number of results"},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "depgraph_callers",
			Description: "List the functions and methods that call a symbol, with the call kind of every edge.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"symbol": {Type: "string", Description: "Name or qualified name of the symbol"},
					"kinds":  kindsSchema,
				},
				Required: []string{"symbol"},
			},
		},
		{
			Name:        "depgraph_callees",
			Description: "List the functions, methods and classes a symbol calls, with the call kind of every edge.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"symbol": {Type: "string", Description: "Name or qualified name of the symbol"},
					"kinds":  kindsSchema,
				},
				Required: []string{"symbol"},
			},
		},
		{
			Name:        "depgraph_impact",
			Description: "Blast radius analysis: every symbol reachable from a symbol over call edges, grouped by depth.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"symbol":    {Type: "string", Description: "Name or qualified name of the symbol"},
					"depth":     {Type: "integer", Description: "Maximum traversal depth"},
					"direction": {Type: "string", Enum: []any{"callers", "callees"}, Description: "Follow callers (default) or callees"},
				},
				Required: []string{"symbol"},
			},
		},
		{
			Name:        "depgraph_uncalled",
			Description: "List functions and methods that no call edge reaches, excluding entry points and exempt symbols.",
			InputSchema: &jsonschema.Schema{
				Type:       "object",
				Properties: map[string]*jsonschema.Schema{},
			},
		},
	}
}

// ListResources returns all registered resources.
func (s *Server) ListResources() []Resource {
	return []Resource{
		{
			URI:         "depgraph://overview",
			Name:        "Call Graph Overview",
			Description: "Statistics of the last analysis run",
			MimeType:    "text/plain",
		},
		{
			URI:         "depgraph://uncalled",
			Name:        "Uncalled Symbols",
			Description: "Functions and methods no call reaches",
			MimeType:    "text/plain",
		},
		{
			URI:         "depgraph://schema",
			Name:        "Graph Schema",
			Description: "Entity kinds and relation kinds of the call graph",
			MimeType:    "text/plain",
		},
	}
}

// CallTool executes a tool with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case "depgraph_search":
		query, _ := args["query"].(string)
		limit, _ := args["limit"].(float64)
		if limit <= 0 {
			limit = defaultSearchLimit
		}
		return s.handleSearch(ctx, query, int(limit))
	case "depgraph_callers", "depgraph_callees":
		symbol, _ := args["symbol"].(string)
		kinds, err := parseKinds(args["kinds"])
		if err != nil {
			return "", err
		}
		direction := storage.Callers
		if name == "depgraph_callees" {
			direction = storage.Callees
		}
		return s.handleEdges(ctx, symbol, direction, kinds)
	case "depgraph_impact":
		symbol, _ := args["symbol"].(string)
		depth, _ := args["depth"].(float64)
		if depth <= 0 {
			depth = defaultDepth
		}
		direction, _ := args["direction"].(string)
		if direction == "" {
			direction = string(storage.Callers)
		}
		if direction != string(storage.Callers) && direction != string(storage.Callees) {
			return "", fmt.Errorf("direction must be callers or callees, got %q", direction)
		}
		return s.handleImpact(ctx, symbol, int(depth), storage.Direction(direction))
	case "depgraph_uncalled":
		return s.handleUncalled(ctx)
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

// ReadResource reads a resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) (string, error) {
	switch uri {
	case "depgraph://overview":
		return s.getOverview(ctx)
	case "depgraph://uncalled":
		return s.handleUncalled(ctx)
	case "depgraph://schema":
		return getSchema(), nil
	default:
		return "", fmt.Errorf("unknown resource: %s", uri)
	}
}

// Run serves MCP over the transport until the client disconnects or ctx
// is cancelled.
func (s *Server) Run(ctx context.Context, t mcp.Transport) error {
	return s.server.Run(ctx, t)
}

// registerTools registers tools with the MCP server.
func (s *Server) registerTools() {
	for _, tool := range s.ListTools() {
		name := tool.Name
		s.server.AddTool(&mcp.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args map[string]any
			if len(req.Params.Arguments) > 0 {
				if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
					return errorResult(fmt.Errorf("invalid arguments: %w", err)), nil
				}
			}
			text, err := s.CallTool(ctx, name, args)
			if err != nil {
				return errorResult(err), nil
			}
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, nil
		})
	}
}

// registerResources registers resources with the MCP server.
func (s *Server) registerResources() {
	for _, res := range s.ListResources() {
		s.server.AddResource(&mcp.Resource{
			URI:         res.URI,
			Name:        res.Name,
			Description: res.Description,
			MIMEType:    res.MimeType,
		}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			text, err := s.ReadResource(ctx, req.Params.URI)
			if err != nil {
				return nil, err
			}
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{{URI: req.Params.URI, MIMEType: "text/plain", Text: text}},
			}, nil
		})
	}
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}

func parseKinds(v any) ([]graph.CallKind, error) {
	raw, _ := v.([]any)
	kinds := make([]graph.CallKind, 0, len(raw))
	for _, item := range raw {
		name, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("kinds must be strings, got %T", item)
		}
		k, err := graph.ParseCallKind(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// Tool Handlers

func (s *Server) handleSearch(ctx context.Context, query string, limit int) (string, error) {
	if query == "" {
		return "No query provided", nil
	}

	results, err := s.storage.Search(ctx, query, limit)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No results found", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d results for '%s':\n\n", len(results), query)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. **%s** (%s)\n", i+1, r.Record.QualifiedName, r.Record.Kind)
		fmt.Fprintf(&sb, "   File: %s:%d\n", r.Record.FilePath, r.Record.Line)
		fmt.Fprintf(&sb, "   Score: %.1f\n\n", r.Score)
	}
	sb.WriteString("Next: Use `depgraph_callers` or `depgraph_callees` on a qualified name.")
	return sb.String(), nil
}

// lookup resolves symbol, returning a user-facing message when it cannot.
func (s *Server) lookup(ctx context.Context, symbol string) (*storage.Record, string, error) {
	if symbol == "" {
		return nil, "No symbol provided", nil
	}
	rec, matches, err := storage.Lookup(ctx, s.storage, symbol)
	if err != nil {
		return nil, "", err
	}
	if rec == nil {
		return nil, fmt.Sprintf("Symbol '%s' not found in index", symbol), nil
	}

	var note strings.Builder
	if len(matches) > 1 {
		fmt.Fprintf(&note, "Note: %d symbols are named '%s'; showing %s. Others:\n", len(matches), symbol, rec.QualifiedName)
		for _, m := range matches {
			if m.ID != rec.ID {
				fmt.Fprintf(&note, "- %s\n", m.QualifiedName)
			}
		}
		note.WriteString("\n")
	}
	return rec, note.String(), nil
}

func (s *Server) handleEdges(ctx context.Context, symbol string, direction storage.Direction, kinds []graph.CallKind) (string, error) {
	rec, note, err := s.lookup(ctx, symbol)
	if rec == nil || err != nil {
		return note, err
	}

	var edges []storage.Edge
	if direction == storage.Callers {
		edges, err = s.storage.GetCallers(ctx, rec.ID, kinds...)
	} else {
		edges, err = s.storage.GetCallees(ctx, rec.ID, kinds...)
	}
	if err != nil {
		return "", err
	}

	title := "Callers"
	if direction == storage.Callees {
		title = "Callees"
	}

	var sb strings.Builder
	sb.WriteString(note)
	fmt.Fprintf(&sb, "## %s of **%s** (%d)\n\n", title, rec.QualifiedName, len(edges))
	if len(edges) == 0 {
		fmt.Fprintf(&sb, "No %s found.\n", strings.ToLower(title))
	}
	for _, e := range edges {
		fmt.Fprintf(&sb, "- %s (%s) in %s:%d [%s]\n", e.Record.QualifiedName, e.Record.Kind, e.Record.FilePath, e.Record.Line, e.Kind)
	}
	sb.WriteString("\nNext: Use `depgraph_impact` if planning changes to this symbol.")
	return sb.String(), nil
}

func (s *Server) handleImpact(ctx context.Context, symbol string, depth int, direction storage.Direction) (string, error) {
	rec, note, err := s.lookup(ctx, symbol)
	if rec == nil || err != nil {
		return note, err
	}

	hops, err := s.storage.Traverse(ctx, rec.ID, depth, direction)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(note)
	fmt.Fprintf(&sb, "Impact analysis for: **%s** (depth: %d, %s)\n\n", rec.QualifiedName, depth, direction)

	if len(hops) == 0 {
		sb.WriteString("No affected symbols found. This symbol appears to be isolated.\n")
		return sb.String(), nil
	}

	fmt.Fprintf(&sb, "## Affected Symbols (%d)\n\n", len(hops))
	byDepth := make(map[int][]storage.Hop)
	maxDepth := 0
	for _, h := range hops {
		byDepth[h.Depth] = append(byDepth[h.Depth], h)
		maxDepth = max(maxDepth, h.Depth)
	}
	for d := 1; d <= maxDepth; d++ {
		level := byDepth[d]
		if len(level) == 0 {
			continue
		}

		depthLabel := "Direct"
		if d == 2 {
			depthLabel = "Indirect"
		} else if d > 2 {
			depthLabel = "Transitive"
		}

		fmt.Fprintf(&sb, "### Depth %d (%s)\n", d, depthLabel)
		for _, h := range level {
			fmt.Fprintf(&sb, "- %s (%s) in %s [%s]\n", h.Record.QualifiedName, h.Record.Kind, h.Record.FilePath, h.Kind)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Tip: Review each affected symbol before making changes.")
	return sb.String(), nil
}

func (s *Server) handleUncalled(ctx context.Context) (string, error) {
	records, err := s.storage.GetUncalled(ctx)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("## Uncalled Symbols\n\n")
	if len(records) == 0 {
		sb.WriteString("No uncalled symbols detected.\n")
		return sb.String(), nil
	}

	fmt.Fprintf(&sb, "Found %d functions and methods with no incoming call edge.\n\n", len(records))
	sb.WriteString("**Exempt from detection:**\n")
	sb.WriteString("- Entry points (main, Go init) and test functions\n")
	sb.WriteString("- Exported Go symbols and Python dunder methods\n")
	sb.WriteString("- Methods sharing a name with a called method\n\n")

	byFile := make(map[string][]*storage.Record)
	for _, r := range records {
		byFile[r.FilePath] = append(byFile[r.FilePath], r)
	}
	files := make([]string, 0, len(byFile))
	for f := range byFile {
		files = append(files, f)
	}
	sort.Strings(files)

	for _, f := range files {
		fmt.Fprintf(&sb, "### %s\n", f)
		for _, r := range byFile[f] {
			fmt.Fprintf(&sb, "- %s (%s) line %d\n", r.QualifiedName, r.Kind, r.Line)
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// Resource Handlers

func (s *Server) getOverview(ctx context.Context) (string, error) {
	meta, err := s.storage.Meta(ctx)
	if err != nil {
		return "", err
	}
	if meta == nil {
		return "No call graph loaded. Run `depgraph analyze` first.", nil
	}

	var sb strings.Builder
	sb.WriteString("# Call Graph Overview\n\n")
	fmt.Fprintf(&sb, "Repository: %s\n", meta.RepoPath)
	if meta.GoModule != "" {
		fmt.Fprintf(&sb, "Go module: %s\n", meta.GoModule)
	}
	fmt.Fprintf(&sb, "Indexed at: %s (run %s)\n\n", meta.IndexedAt.Format("2006-01-02T15:04:05Z07:00"), meta.RunID)
	fmt.Fprintf(&sb, "- Files: %d\n", meta.Files)
	fmt.Fprintf(&sb, "- Entities: %d\n", meta.Entities)
	fmt.Fprintf(&sb, "- Relations: %d\n", meta.Relations)
	fmt.Fprintf(&sb, "- Uncalled: %d\n\n", meta.Uncalled)

	sb.WriteString("## Call Edges\n")
	for _, k := range graph.CallKinds {
		fmt.Fprintf(&sb, "- %s: %d\n", k, meta.Edges[k.String()])
	}

	if len(meta.Unresolved) > 0 {
		sb.WriteString("\n## Unresolved Calls\n")
		reasons := make([]string, 0, len(meta.Unresolved))
		for r := range meta.Unresolved {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			fmt.Fprintf(&sb, "- %s: %d\n", r, meta.Unresolved[r])
		}
	}
	return sb.String(), nil
}

func getSchema() string {
	return `# depgraph Schema

## Entity Kinds
- package: Go package directory
- module: Python module (one per file)
- file: source file
- class: Python class or Go named type
- function: top-level function
- method: function declared on a class or type
- field: class or struct field
- variable: local or module-level variable
- block: anonymous lexical block

## Relation Kinds
Every call edge is stored with its inverse.
- call / called_by: direct call resolved through lexical or member lookup
- implicit_internal_call / implicit_internal_called_by: call through self or a variable whose type was inferred
- implicit_external_call / implicit_external_called_by: name-only match when lookup failed; may be one of several candidates

## Qualified Names
Dotted path of enclosing packages, modules, classes and functions.
Files and blocks do not appear in qualified names.
`
}
