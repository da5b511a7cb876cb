package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		fullPath := filepath.Join(dir, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0o755))
		require.NoError(t, os.WriteFile(fullPath, []byte(content), 0o644))
	}
}

func relPaths(entries []FileEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.RelPath)
	}
	return out
}

func TestWalkRepo(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	writeTree(t, tmpDir, map[string]string{
		"main.py":              "print('hello')",
		"src/app.py":           "class App: pass",
		"src/lib/utils.go":     "package lib",
		"gen/out.py":           "x = 1",
		"README.md":            "# README",
		".gitignore":           "# generated\ngen/\n",
		"__pycache__/mod.py":   "cached",
		".depgraph/stale.py":   "old",
		"pkg/testdata/case.go": "package broken(",
		"vendor/dep/dep.go":    "package dep",
	})

	t.Run("Defaults", func(t *testing.T) {
		t.Parallel()
		entries, err := WalkRepo(tmpDir, WalkOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{
			"gen/out.py",
			"main.py",
			"src/app.py",
			"src/lib/utils.go",
			"vendor/dep/dep.go",
		}, relPaths(entries))
	})

	t.Run("GitignoreAndExcludes", func(t *testing.T) {
		t.Parallel()
		patterns, err := LoadIgnorePatterns(tmpDir, []string{"vendor/", " "})
		require.NoError(t, err)
		require.Len(t, patterns, 2)

		entries, err := WalkRepo(tmpDir, WalkOptions{Patterns: patterns})
		require.NoError(t, err)
		assert.Equal(t, []string{"main.py", "src/app.py", "src/lib/utils.go"}, relPaths(entries))
	})

	t.Run("Languages", func(t *testing.T) {
		t.Parallel()
		entries, err := WalkRepo(tmpDir, WalkOptions{Languages: []string{"go"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"src/lib/utils.go", "vendor/dep/dep.go"}, relPaths(entries))
		for _, e := range entries {
			assert.Equal(t, "go", e.Language)
		}
	})
}

func TestLoadGitignore(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()

	patterns, err := loadGitignore(tmpDir)
	require.NoError(t, err)
	assert.Empty(t, patterns)

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".gitignore"), []byte("*.pyc\n\n# comment\n__pycache__/\n.env"), 0o644))
	patterns, err = loadGitignore(tmpDir)
	require.NoError(t, err)
	assert.Len(t, patterns, 3)
}

func TestIsSupportedFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		filename string
		expected string
	}{
		{"main.py", "python"},
		{"MAIN.PY", "python"},
		{"main.go", "go"},
		{"app.ts", ""},
		{"README.md", ""},
		{"Makefile", ""},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, getLanguage(tt.filename))
			assert.Equal(t, tt.expected != "", isSupportedFile(tt.filename))
		})
	}
}

func TestFileEntry_HashConsistency(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	content := "hello world"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test.py"), []byte(content), 0o644))

	entries, err := WalkRepo(tmpDir, WalkOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	expected := sha256.Sum256([]byte(content))
	assert.Equal(t, hex.EncodeToString(expected[:]), entries[0].SHA256)
	assert.Equal(t, []byte(content), entries[0].Content)
}
