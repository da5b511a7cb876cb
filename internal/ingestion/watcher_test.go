package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/depgraph/internal/config"
	"github.com/Benny93/depgraph/internal/storage"
)

func TestWatchRepo_RebuildsOnChange(t *testing.T) {
	t.Parallel()

	repo := t.TempDir()
	writeTree(t, repo, map[string]string{
		"app.py": "def first():\n    pass\n",
	})

	cfg := config.Default()
	cfg.Watch.Debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	backend := storage.NewMemoryBackend()
	ready := make(chan struct{})
	rebuilt := make(chan *PipelineResult, 4)
	done := make(chan error, 1)

	go func() {
		done <- WatchRepo(ctx, repo, backend, WatchOptions{
			Config:  cfg,
			OnReady: func() { close(ready) },
			OnRebuild: func(g *Graph, result *PipelineResult, err error) {
				if err == nil {
					rebuilt <- result
				}
			},
		})
	}()

	select {
	case <-ready:
	case <-time.After(10 * time.Second):
		t.Fatal("watcher did not start")
	}

	require.NoError(t, os.WriteFile(filepath.Join(repo, "app.py"), []byte("def first():\n    second()\n\ndef second():\n    pass\n"), 0o644))

	select {
	case result := <-rebuilt:
		assert.Equal(t, 1, result.Files)
	case <-time.After(10 * time.Second):
		t.Fatal("no rebuild after change")
	}

	recs, err := backend.FindByName(context.Background(), "app.second")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	callers, err := backend.GetCallers(context.Background(), recs[0].ID)
	require.NoError(t, err)
	require.Len(t, callers, 1)
	assert.Equal(t, "first", callers[0].Record.Name)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatchedPath(t *testing.T) {
	t.Parallel()

	repo := t.TempDir()
	patterns, err := LoadIgnorePatterns(repo, []string{"build/"})
	require.NoError(t, err)
	matcher := newMatcher(patterns)

	tests := []struct {
		path      string
		languages []string
		want      string
		ok        bool
	}{
		{"pkg/mod.py", nil, "pkg/mod.py", true},
		{"main.go", []string{"python"}, "", false},
		{"README.md", nil, "", false},
		{"build/gen.py", nil, "", false},
		{".depgraph/x.py", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			got, ok := watchedPath(filepath.Join(repo, filepath.FromSlash(tt.path)), repo, matcher, tt.languages)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContentChanged(t *testing.T) {
	t.Parallel()

	repo := t.TempDir()
	writeTree(t, repo, map[string]string{"a.py": "x = 1\n", "b.py": "y = 2\n"})

	hashes, err := fileHashes(repo, nil, nil)
	require.NoError(t, err)
	require.Len(t, hashes, 2)

	// Touching a file without changing its content is not a change.
	writeTree(t, repo, map[string]string{"a.py": "x = 1\n"})
	assert.False(t, contentChanged(repo, map[string]bool{"a.py": true}, hashes))

	writeTree(t, repo, map[string]string{"a.py": "x = 3\n"})
	assert.True(t, contentChanged(repo, map[string]bool{"a.py": true}, hashes))
	assert.False(t, contentChanged(repo, map[string]bool{"a.py": true}, hashes))

	require.NoError(t, os.Remove(filepath.Join(repo, "b.py")))
	assert.True(t, contentChanged(repo, map[string]bool{"b.py": true}, hashes))
	assert.NotContains(t, hashes, "b.py")

	assert.False(t, contentChanged(repo, map[string]bool{"missing.py": true}, hashes))

	writeTree(t, repo, map[string]string{"c.py": "z = 1\n"})
	assert.True(t, contentChanged(repo, map[string]bool{"c.py": true}, hashes))
}
