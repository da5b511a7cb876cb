package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/mod/modfile"

	"github.com/Benny93/depgraph/internal/config"
	"github.com/Benny93/depgraph/internal/graph"
	"github.com/Benny93/depgraph/internal/observability"
	"github.com/Benny93/depgraph/internal/parsers"
	"github.com/Benny93/depgraph/internal/resolve"
	"github.com/Benny93/depgraph/internal/storage"
)

// PipelineResult summarizes a pipeline run.
type PipelineResult struct {
	Files     int
	Entities  int
	Relations int
	Uncalled  int
	Parse     parsers.Stats
	Link      parsers.LinkStats
	Report    *resolve.Report
	Duration  time.Duration
}

// ProgressCallback is called with phase name and progress (0.0-1.0).
type ProgressCallback func(phase string, progress float64)

// Options configures RunPipeline.
type Options struct {
	// Config defaults to config.Default().
	Config   *config.Config
	Logger   *slog.Logger
	Progress ProgressCallback
}

// Graph is the in-memory result of a pipeline run.
type Graph struct {
	Store     *graph.Store
	Relations *graph.RelationStore
	Snapshot  *storage.Snapshot
}

// RunPipeline walks, parses, links and resolves the repository, then
// replaces the contents of backend with the result. A nil backend skips
// the load.
func RunPipeline(ctx context.Context, repoPath string, backend storage.Backend, opts Options) (*Graph, *PipelineResult, error) {
	start := time.Now()
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := phaser{progress: opts.Progress}
	result := &PipelineResult{}

	absPath, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving repo path: %w", err)
	}

	// Phase 1: File walking
	p.begin("Walking files")
	patterns, err := LoadIgnorePatterns(absPath, cfg.Exclude.Dirs)
	if err != nil {
		return nil, nil, fmt.Errorf("loading ignore patterns: %w", err)
	}
	entries, err := WalkRepo(absPath, WalkOptions{Patterns: patterns, Languages: cfg.Languages})
	if err != nil {
		return nil, nil, fmt.Errorf("walking repo: %w", err)
	}
	result.Files = len(entries)
	goModule, err := ReadGoModule(absPath)
	if err != nil {
		return nil, nil, err
	}
	p.end()

	// Phase 2: Parsing
	p.begin("Parsing code")
	store := graph.NewStore()
	builder := parsers.NewBuilder(store, logger)
	builder.SetGoModule(goModule)
	for _, fe := range parsers.Frontends(builder, cfg.Languages...) {
		files := sourceFiles(entries, fe.Language())
		if len(files) == 0 {
			continue
		}
		stats, err := fe.Parse(ctx, builder, files)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing %s: %w", fe.Language(), err)
		}
		result.Parse.Add(stats)
	}
	p.end()

	// Phase 3: Imports and declared types
	p.begin("Linking imports")
	result.Link, err = builder.Link()
	if err != nil {
		return nil, nil, fmt.Errorf("linking: %w", err)
	}
	store.Finalize()
	p.end()

	// Phase 4: Calls
	p.begin("Resolving calls")
	rels := graph.NewRelationStore()
	result.Report, err = resolve.ResolveAll(ctx, store, rels, resolve.PassOptions{
		Workers:  cfg.Workers,
		Profiles: cfg.Profiles(),
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("resolving calls: %w", err)
	}
	p.end()

	// Phase 5: Uncalled symbols
	p.begin("Detecting uncalled symbols")
	exempt, err := cfg.Uncalled.Matchers()
	if err != nil {
		return nil, nil, err
	}
	snap := storage.NewSnapshot(store, rels)
	snap.MarkUncalled(FindUncalled(store, rels, exempt))
	p.end()

	result.Entities = len(snap.Records)
	result.Relations = len(snap.Relations)
	result.Uncalled = snap.Meta.Uncalled
	result.Duration = time.Since(start)
	snap.Meta = buildMeta(snap.Meta, absPath, goModule, result)

	// Phase 6: Storage
	if backend != nil {
		p.begin("Loading to storage")
		if err := backend.BulkLoad(ctx, snap); err != nil {
			return nil, nil, fmt.Errorf("bulk load: %w", err)
		}
		p.end()
	}

	observability.RecordPass(result.Report)
	observability.RecordGraph(result.Entities, result.Relations, result.Uncalled)
	logger.Info("analysis complete",
		"files", result.Files,
		"entities", result.Entities,
		"edges", result.Report.TotalEdges(),
		"uncalled", result.Uncalled,
		"duration", result.Duration)

	return &Graph{Store: store, Relations: rels, Snapshot: snap}, result, nil
}

func buildMeta(meta storage.Meta, repoPath, goModule string, result *PipelineResult) storage.Meta {
	meta.RunID = uuid.NewString()
	meta.RepoPath = repoPath
	meta.GoModule = goModule
	meta.IndexedAt = time.Now().UTC()
	meta.Files = result.Files
	meta.Duration = result.Duration
	meta.Edges = make(map[string]int, len(result.Report.Edges))
	for kind, n := range result.Report.Edges {
		meta.Edges[kind.String()] = n
	}
	meta.Unresolved = make(map[string]int, len(result.Report.Unresolved))
	for reason, n := range result.Report.Unresolved {
		meta.Unresolved[string(reason)] = n
	}
	return meta
}

func sourceFiles(entries []FileEntry, language string) []parsers.SourceFile {
	var files []parsers.SourceFile
	for _, e := range entries {
		if e.Language == language {
			files = append(files, parsers.SourceFile{Path: e.RelPath, Content: e.Content})
		}
	}
	return files
}

// ReadGoModule returns the module path declared by the root go.mod, or ""
// when the repository has none.
func ReadGoModule(repoPath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(repoPath, "go.mod"))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading go.mod: %w", err)
	}
	return modfile.ModulePath(data), nil
}

// phaser reports progress and times each phase.
type phaser struct {
	progress ProgressCallback
	phase    string
	started  time.Time
}

func (p *phaser) begin(phase string) {
	p.phase = phase
	p.started = time.Now()
	if p.progress != nil {
		p.progress(phase, 0.0)
	}
}

func (p *phaser) end() {
	observability.PhaseDuration.WithLabelValues(p.phase).Observe(time.Since(p.started).Seconds())
	if p.progress != nil {
		p.progress(p.phase, 1.0)
	}
}
