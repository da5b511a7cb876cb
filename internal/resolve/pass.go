package resolve

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Benny93/depgraph/internal/graph"
)

// ErrNotFinalized is returned when a pass is started on a mutable store.
var ErrNotFinalized = errors.New("entity store must be finalized before resolution")

// PassOptions configures ResolveAll.
type PassOptions struct {
	// Workers bounds the number of entities resolved concurrently.
	// Zero means runtime.NumCPU().
	Workers  int
	Profiles Profiles
	Logger   *slog.Logger
}

// ResolveAll resolves every callable entity of a finalized store and
// records the edges in rels. Each entity is handled by exactly one
// goroutine. Cancelling ctx stops scheduling further entities.
func ResolveAll(ctx context.Context, store *graph.Store, rels *graph.RelationStore, opts PassOptions) (*Report, error) {
	if !store.Frozen() {
		return nil, ErrNotFinalized
	}

	start := time.Now()
	var resolverOpts []Option
	if opts.Profiles != nil {
		resolverOpts = append(resolverOpts, WithProfiles(opts.Profiles))
	}
	if opts.Logger != nil {
		resolverOpts = append(resolverOpts, WithLogger(opts.Logger))
	}
	resolver := NewResolver(store, rels, resolverOpts...)

	callables := store.Callables()
	results := make([][]Resolution, len(callables))

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, id := range callables {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = resolver.ResolveCalls(id)
			return nil
		})
	}

	waitErr := g.Wait()

	report := newReport()
	for _, res := range results {
		report.Add(res)
	}
	report.Duration = time.Since(start)

	if waitErr != nil {
		return report, waitErr
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}
