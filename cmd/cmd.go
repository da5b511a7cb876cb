// Package cmd provides CLI command implementations for depgraph.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Benny93/depgraph/internal/config"
	"github.com/Benny93/depgraph/internal/graph"
	"github.com/Benny93/depgraph/internal/ingestion"
	"github.com/Benny93/depgraph/internal/observability"
	"github.com/Benny93/depgraph/internal/storage"
	"github.com/Benny93/depgraph/mcp"
)

// Version is set at build time via ldflags.
var Version = "dev"

// AnalyzeCmd builds the call graph of a repository and stores it.
type AnalyzeCmd struct {
	Path  string `arg:"" optional:"" default:"." help:"Path to repository"`
	Quiet bool   `short:"q" help:"Suppress progress output"`
}

// Run executes the analyze command.
func (c *AnalyzeCmd) Run(logger *slog.Logger) error {
	ctx := context.Background()
	repoPath, err := repoDir(c.Path)
	if err != nil {
		return err
	}

	cfg, err := config.LoadRepo(repoPath)
	if err != nil {
		return err
	}

	if !c.Quiet {
		color.Green("Analyzing %s", repoPath)
	}

	store, err := openIndex(repoPath, false)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var progress ingestion.ProgressCallback
	if !c.Quiet {
		progress = func(phase string, pct float64) {
			fmt.Printf("\r\033[K%s (%.0f%%)", phase, pct*100)
		}
	}

	g, result, err := ingestion.RunPipeline(ctx, repoPath, store, ingestion.Options{
		Config:   cfg,
		Logger:   logger,
		Progress: progress,
	})
	if err != nil {
		return fmt.Errorf("running pipeline: %w", err)
	}
	if err := ingestion.WriteMeta(repoPath, g.Snapshot.Meta); err != nil {
		return err
	}

	if !c.Quiet {
		fmt.Println()
		color.Green("\n✓ Analysis complete")
		fmt.Print(formatSummary(result))
	}
	return nil
}

// CallersCmd lists the entities that call a symbol.
type CallersCmd struct {
	Symbol string   `arg:"" help:"Symbol name or qualified name"`
	Repo   string   `short:"r" default:"." help:"Path to analyzed repository"`
	Kind   []string `short:"k" help:"Restrict to call kinds: direct, internal, external"`
}

// Run executes the callers command.
func (c *CallersCmd) Run() error {
	return runEdges(c.Repo, c.Symbol, c.Kind, storage.Callers)
}

// CalleesCmd lists the entities a symbol calls.
type CalleesCmd struct {
	Symbol string   `arg:"" help:"Symbol name or qualified name"`
	Repo   string   `short:"r" default:"." help:"Path to analyzed repository"`
	Kind   []string `short:"k" help:"Restrict to call kinds: direct, internal, external"`
}

// Run executes the callees command.
func (c *CalleesCmd) Run() error {
	return runEdges(c.Repo, c.Symbol, c.Kind, storage.Callees)
}

func runEdges(repo, symbol string, kindNames []string, direction storage.Direction) error {
	ctx := context.Background()
	kinds, err := parseKinds(kindNames)
	if err != nil {
		return err
	}

	store, err := loadStorage(repo)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rec, matches, err := storage.Lookup(ctx, store, symbol)
	if err != nil {
		return err
	}
	if rec == nil {
		fmt.Printf("Symbol '%s' not found in the call graph.\n", symbol)
		return nil
	}

	var edges []storage.Edge
	if direction == storage.Callers {
		edges, err = store.GetCallers(ctx, rec.ID, kinds...)
	} else {
		edges, err = store.GetCallees(ctx, rec.ID, kinds...)
	}
	if err != nil {
		return err
	}

	fmt.Print(formatAmbiguity(rec, matches))
	fmt.Print(formatEdges(rec, direction, edges))
	return nil
}

// ImpactCmd shows every symbol reachable from a symbol over call edges.
type ImpactCmd struct {
	Symbol    string `arg:"" help:"Symbol to analyze"`
	Repo      string `short:"r" default:"." help:"Path to analyzed repository"`
	Depth     int    `short:"d" default:"3" help:"Traversal depth"`
	Direction string `default:"callers" enum:"callers,callees" help:"Follow callers (blast radius) or callees"`
}

// Run executes the impact command.
func (c *ImpactCmd) Run() error {
	ctx := context.Background()
	if c.Depth < 1 {
		return fmt.Errorf("depth must be at least 1, got %d", c.Depth)
	}

	store, err := loadStorage(c.Repo)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rec, matches, err := storage.Lookup(ctx, store, c.Symbol)
	if err != nil {
		return err
	}
	if rec == nil {
		fmt.Printf("Symbol '%s' not found in the call graph.\n", c.Symbol)
		return nil
	}

	hops, err := store.Traverse(ctx, rec.ID, c.Depth, storage.Direction(c.Direction))
	if err != nil {
		return err
	}

	fmt.Print(formatAmbiguity(rec, matches))
	fmt.Print(formatImpact(rec, hops, c.Depth, storage.Direction(c.Direction)))
	return nil
}

// UncalledCmd lists functions and methods no call edge reaches.
type UncalledCmd struct {
	Repo string `short:"r" default:"." help:"Path to analyzed repository"`
}

// Run executes the uncalled command.
func (c *UncalledCmd) Run() error {
	store, err := loadStorage(c.Repo)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	records, err := store.GetUncalled(context.Background())
	if err != nil {
		return err
	}
	fmt.Print(formatUncalled(records))
	return nil
}

// SearchCmd ranks symbols by name.
type SearchCmd struct {
	Query string `arg:"" help:"Search query"`
	Repo  string `short:"r" default:"." help:"Path to analyzed repository"`
	Limit int    `short:"n" default:"20" help:"Maximum results"`
}

// Run executes the search command.
func (c *SearchCmd) Run() error {
	store, err := loadStorage(c.Repo)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	results, err := store.Search(context.Background(), c.Query, c.Limit)
	if err != nil {
		return err
	}
	fmt.Print(formatSearch(c.Query, results))
	return nil
}

// StatusCmd shows the last analysis of a repository.
type StatusCmd struct {
	Repo string `short:"r" default:"." help:"Path to analyzed repository"`
}

// Run executes the status command.
func (c *StatusCmd) Run() error {
	repoPath, err := repoDir(c.Repo)
	if err != nil {
		return err
	}

	meta, err := ingestion.ReadMeta(repoPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("no index found at %s. Run 'depgraph analyze' first", repoPath)
		}
		return err
	}

	fmt.Printf("Index status for %s\n", repoPath)
	fmt.Print(formatStatus(meta))
	return nil
}

// WatchCmd analyzes a repository and rebuilds the graph on every change.
type WatchCmd struct {
	Path        string `arg:"" optional:"" default:"." help:"Path to repository"`
	MetricsAddr string `help:"Serve /metrics and /health on this address (overrides config)"`
}

// Run executes the watch command.
func (c *WatchCmd) Run(logger *slog.Logger) error {
	repoPath, err := repoDir(c.Path)
	if err != nil {
		return err
	}
	cfg, err := config.LoadRepo(repoPath)
	if err != nil {
		return err
	}
	if c.MetricsAddr != "" {
		cfg.Metrics.Addr = c.MetricsAddr
	}

	store, err := openIndex(repoPath, false)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		srv := observability.NewServer(cfg.Metrics.Addr, indexHealth(store))
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = srv.Stop(context.Background()) }()
		fmt.Printf("Serving metrics on %s\n", cfg.Metrics.Addr)
	}

	fmt.Println("## Watch Mode")
	fmt.Printf("Watching %s for changes (Ctrl+C to stop)\n\n", repoPath)

	err = watchInto(ctx, repoPath, store, cfg, logger, func(result *ingestion.PipelineResult) {
		color.Green("Graph rebuilt: %d entities, %d edges, %d uncalled",
			result.Entities, result.Report.TotalEdges(), result.Uncalled)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch error: %w", err)
	}

	fmt.Println("\nWatch mode stopped.")
	return nil
}

// MCPCmd serves the stored graph over the Model Context Protocol on stdio.
type MCPCmd struct {
	Repo  string `short:"r" default:"." help:"Path to analyzed repository"`
	Watch bool   `short:"w" help:"Rebuild the graph on file changes while serving"`
}

// Run executes the mcp command.
func (c *MCPCmd) Run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repoPath, err := repoDir(c.Repo)
	if err != nil {
		return err
	}

	if !c.Watch {
		store, err := loadStorage(repoPath)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		return mcp.NewServer(store, Version).Run(ctx, &mcpsdk.StdioTransport{})
	}

	// Watching needs the writable database, which badger opens only once.
	cfg, err := config.LoadRepo(repoPath)
	if err != nil {
		return err
	}
	store, err := openIndex(repoPath, false)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	// Stdout carries JSON-RPC only, so watch output goes to the logger.
	go func() {
		err := watchInto(ctx, repoPath, store, cfg, logger, nil)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("watch stopped", "error", err)
		}
	}()

	return mcp.NewServer(store, Version).Run(ctx, &mcpsdk.StdioTransport{})
}

// CleanCmd deletes the index of a repository.
type CleanCmd struct {
	Path  string `arg:"" optional:"" default:"." help:"Path to repository"`
	Force bool   `short:"f" help:"Skip confirmation"`
}

// Run executes the clean command.
func (c *CleanCmd) Run() error {
	repoPath, err := repoDir(c.Path)
	if err != nil {
		return err
	}

	dataDir := filepath.Join(repoPath, ingestion.DataDir)
	if _, err := os.Stat(dataDir); os.IsNotExist(err) {
		return fmt.Errorf("no index found at %s. Nothing to clean", repoPath)
	}

	if !c.Force {
		fmt.Printf("Delete index at %s? [y/N] ", dataDir)
		var response string
		_, _ = fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted")
			return nil
		}
	}

	if err := os.RemoveAll(dataDir); err != nil {
		return fmt.Errorf("deleting index: %w", err)
	}

	color.Green("Deleted %s", dataDir)
	return nil
}

// Helper functions

// watchInto runs an initial analysis into store, then rebuilds on change.
// meta.json follows every successful build.
func watchInto(ctx context.Context, repoPath string, store storage.Backend, cfg *config.Config, logger *slog.Logger, onBuild func(*ingestion.PipelineResult)) error {
	g, result, err := ingestion.RunPipeline(ctx, repoPath, store, ingestion.Options{Config: cfg, Logger: logger})
	if err != nil {
		return fmt.Errorf("initial analysis: %w", err)
	}
	if err := ingestion.WriteMeta(repoPath, g.Snapshot.Meta); err != nil {
		return err
	}
	if onBuild != nil {
		onBuild(result)
	}

	return ingestion.WatchRepo(ctx, repoPath, store, ingestion.WatchOptions{
		Config: cfg,
		Logger: logger,
		OnRebuild: func(g *ingestion.Graph, result *ingestion.PipelineResult, err error) {
			if err != nil {
				return
			}
			if err := ingestion.WriteMeta(repoPath, g.Snapshot.Meta); err != nil {
				logger.Warn("writing meta", "error", err)
			}
			if onBuild != nil {
				onBuild(result)
			}
		},
	})
}

// indexHealth reports the index down until a snapshot is loaded.
func indexHealth(store storage.Backend) observability.HealthFunc {
	return func(ctx context.Context) error {
		meta, err := store.Meta(ctx)
		if err != nil {
			return err
		}
		if meta == nil {
			return errors.New("no snapshot loaded")
		}
		return nil
	}
}

func repoDir(path string) (string, error) {
	repoPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	info, err := os.Stat(repoPath)
	if err != nil {
		return "", fmt.Errorf("accessing %s: %w", repoPath, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", repoPath)
	}
	return repoPath, nil
}

// openIndex opens the badger database of a repository, creating it unless
// readOnly is set.
func openIndex(repoPath string, readOnly bool) (*storage.BadgerBackend, error) {
	dbPath := ingestion.DBPath(repoPath)
	if readOnly {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("no index found at %s. Run 'depgraph analyze' first", repoPath)
		}
	} else if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating %s directory: %w", ingestion.DataDir, err)
	}

	store := storage.NewBadgerBackend()
	if err := store.Initialize(dbPath, readOnly); err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	return store, nil
}

func loadStorage(repo string) (*storage.BadgerBackend, error) {
	repoPath, err := repoDir(repo)
	if err != nil {
		return nil, err
	}
	return openIndex(repoPath, true)
}

func parseKinds(names []string) ([]graph.CallKind, error) {
	kinds := make([]graph.CallKind, 0, len(names))
	for _, name := range names {
		k, err := graph.ParseCallKind(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func describe(r *storage.Record) string {
	loc := r.FilePath
	if r.Line > 0 {
		loc = fmt.Sprintf("%s:%d", r.FilePath, r.Line)
	}
	return fmt.Sprintf("%s (%s) in %s", r.QualifiedName, r.Kind, loc)
}

func formatSummary(result *ingestion.PipelineResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "  Files:          %d\n", result.Files)
	fmt.Fprintf(&sb, "  Entities:       %d\n", result.Entities)
	fmt.Fprintf(&sb, "  Relations:      %d\n", result.Relations)
	if result.Report != nil {
		for _, k := range graph.CallKinds {
			fmt.Fprintf(&sb, "  %-24s %d\n", k.String()+":", result.Report.Edges[k])
		}
	}
	fmt.Fprintf(&sb, "  Uncalled:       %d\n", result.Uncalled)
	fmt.Fprintf(&sb, "  Duration:       %.2fs\n", result.Duration.Seconds())
	return sb.String()
}

func formatAmbiguity(rec *storage.Record, matches []*storage.Record) string {
	if len(matches) < 2 {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d symbols match, showing %s. Other matches:\n", len(matches), rec.QualifiedName)
	for _, m := range matches {
		if m.ID != rec.ID {
			fmt.Fprintf(&sb, "  - %s\n", describe(m))
		}
	}
	sb.WriteString("\n")
	return sb.String()
}

func formatEdges(rec *storage.Record, direction storage.Direction, edges []storage.Edge) string {
	var sb strings.Builder
	title := "Callers"
	if direction == storage.Callees {
		title = "Callees"
	}
	fmt.Fprintf(&sb, "## %s of %s (%d)\n\n", title, describe(rec), len(edges))
	if len(edges) == 0 {
		fmt.Fprintf(&sb, "No %s found.\n", strings.ToLower(title))
		return sb.String()
	}
	for _, e := range edges {
		fmt.Fprintf(&sb, "- %s [%s]\n", describe(e.Record), e.Kind)
	}
	return sb.String()
}

func formatImpact(rec *storage.Record, hops []storage.Hop, depth int, direction storage.Direction) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Impact Analysis for: **%s** (depth: %d, %s)\n\n", rec.QualifiedName, depth, direction)
	if len(hops) == 0 {
		fmt.Fprintf(&sb, "No affected symbols found. This symbol has no %s.\n", direction)
		return sb.String()
	}

	byDepth := make(map[int][]storage.Hop)
	for _, h := range hops {
		byDepth[h.Depth] = append(byDepth[h.Depth], h)
	}

	fmt.Fprintf(&sb, "## Affected Symbols (%d)\n\n", len(hops))
	for d := 1; d <= depth; d++ {
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

		fmt.Fprintf(&sb, "### Depth %d (%s) - %d symbols\n", d, depthLabel, len(level))
		for _, h := range level {
			fmt.Fprintf(&sb, "- %s [%s]\n", describe(h.Record), h.Kind)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatUncalled(records []*storage.Record) string {
	var sb strings.Builder
	sb.WriteString("## Uncalled Symbols\n\n")
	if len(records) == 0 {
		sb.WriteString("No uncalled symbols detected.\n")
		return sb.String()
	}

	byFile := make(map[string][]*storage.Record)
	for _, r := range records {
		byFile[r.FilePath] = append(byFile[r.FilePath], r)
	}
	files := make([]string, 0, len(byFile))
	for f := range byFile {
		files = append(files, f)
	}
	sort.Strings(files)

	fmt.Fprintf(&sb, "Found %d uncalled symbols in %d files\n\n", len(records), len(files))
	for _, f := range files {
		fmt.Fprintf(&sb, "### %s\n", f)
		for _, r := range byFile[f] {
			fmt.Fprintf(&sb, "- %s (%s) line %d\n", r.QualifiedName, r.Kind, r.Line)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatSearch(query string, results []storage.SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for '%s'\n", query)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d results for '%s':\n\n", len(results), query)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s (score %.1f)\n", i+1, describe(r.Record), r.Score)
	}
	return sb.String()
}

func formatStatus(meta *storage.Meta) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "  Run:            %s\n", meta.RunID)
	fmt.Fprintf(&sb, "  Last indexed:   %s\n", meta.IndexedAt.Format("2006-01-02 15:04:05 MST"))
	if meta.GoModule != "" {
		fmt.Fprintf(&sb, "  Go module:      %s\n", meta.GoModule)
	}
	fmt.Fprintf(&sb, "  Files:          %d\n", meta.Files)
	fmt.Fprintf(&sb, "  Entities:       %d\n", meta.Entities)
	fmt.Fprintf(&sb, "  Relations:      %d\n", meta.Relations)
	fmt.Fprintf(&sb, "  Uncalled:       %d\n", meta.Uncalled)
	for _, k := range graph.CallKinds {
		fmt.Fprintf(&sb, "  %-24s %d\n", k.String()+":", meta.Edges[k.String()])
	}
	return sb.String()
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// CLI is the root Kong command structure.
type CLI struct {
	Version kong.VersionFlag `help:"Show version information"`
	Verbose bool             `short:"v" help:"Enable debug logging on stderr"`

	// Commands
	Analyze  AnalyzeCmd  `cmd:"" help:"Build and store the call graph of a repository"`
	Callers  CallersCmd  `cmd:"" help:"List the callers of a symbol"`
	Callees  CalleesCmd  `cmd:"" help:"List the callees of a symbol"`
	Impact   ImpactCmd   `cmd:"" help:"Show every symbol reachable from a symbol over call edges"`
	Uncalled UncalledCmd `cmd:"" help:"List functions and methods no call reaches"`
	Search   SearchCmd   `cmd:"" help:"Search symbols by name"`
	Status   StatusCmd   `cmd:"" help:"Show index status for a repository"`
	Watch    WatchCmd    `cmd:"" help:"Rebuild the call graph on file changes"`
	MCP      MCPCmd      `cmd:"" help:"Start MCP server (stdio transport)"`
	Clean    CleanCmd    `cmd:"" help:"Delete the index of a repository"`
}

// NewCLI creates a new CLI instance.
func NewCLI() *CLI {
	return &CLI{}
}

// Execute parses command-line arguments and executes the selected command.
func (c *CLI) Execute(args []string) error {
	parser, err := kong.New(c,
		kong.Name("depgraph"),
		kong.Description("Call graph builder for Python and Go repositories"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version": Version,
		},
	)
	if err != nil {
		return err
	}

	kongCtx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	logger := newLogger(c.Verbose)
	slog.SetDefault(logger)
	return kongCtx.Run(logger)
}
