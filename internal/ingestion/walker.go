// Package ingestion turns a repository into a resolved, persisted call graph.
package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/Benny93/depgraph/internal/parsers"
)

// DataDir is the per-repository directory holding the database and meta.json.
const DataDir = ".depgraph"

// FileEntry represents a file to be processed.
type FileEntry struct {
	// Path is the absolute file path.
	Path string

	// RelPath is the slash-separated path relative to the repo root.
	RelPath string

	// Language is the detected programming language.
	Language string

	// Content is the file content.
	Content []byte

	// SHA256 is the hash of the file content.
	SHA256 string
}

// Default patterns to ignore (in addition to .gitignore).
var defaultIgnorePatterns = []string{
	".git/",
	DataDir + "/",
	"node_modules/",
	"__pycache__/",
	".venv/",
	"venv/",
	".tox/",
	".eggs/",
	"*.egg-info/",
	".pytest_cache/",
	".mypy_cache/",
	"testdata/",
	"*.pyc",
}

// WalkOptions narrows a walk.
type WalkOptions struct {
	// Patterns are gitignore patterns applied on top of the defaults.
	Patterns []gitignore.Pattern

	// Languages restricts the walk; empty means every supported language.
	Languages []string
}

// WalkRepo walks the repository and returns all supported files in
// lexical path order.
func WalkRepo(repoPath string, opts WalkOptions) ([]FileEntry, error) {
	var entries []FileEntry
	matcher := newMatcher(opts.Patterns)

	err := filepath.WalkDir(repoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(repoPath, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}
		parts := splitPath(relPath)

		if d.IsDir() {
			if d.Name() == ".git" || matcher.Match(parts, true) {
				return filepath.SkipDir
			}
			return nil
		}

		lang := getLanguage(d.Name())
		if lang == "" || !languageEnabled(lang, opts.Languages) {
			return nil
		}
		if matcher.Match(parts, false) {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		hash := sha256.Sum256(content)

		entries = append(entries, FileEntry{
			Path:     path,
			RelPath:  filepath.ToSlash(relPath),
			Language: lang,
			Content:  content,
			SHA256:   hex.EncodeToString(hash[:]),
		})
		return nil
	})

	return entries, err
}

func newMatcher(patterns []gitignore.Pattern) gitignore.Matcher {
	all := make([]gitignore.Pattern, 0, len(defaultIgnorePatterns)+len(patterns))
	for _, p := range defaultIgnorePatterns {
		all = append(all, gitignore.ParsePattern(p, nil))
	}
	all = append(all, patterns...)
	return gitignore.NewMatcher(all)
}

// LoadIgnorePatterns reads the root .gitignore and appends the extra
// patterns, typically the configured exclude dirs.
func LoadIgnorePatterns(repoPath string, extra []string) ([]gitignore.Pattern, error) {
	patterns, err := loadGitignore(repoPath)
	if err != nil {
		return nil, err
	}
	for _, line := range extra {
		if line = strings.TrimSpace(line); line != "" {
			patterns = append(patterns, gitignore.ParsePattern(line, nil))
		}
	}
	return patterns, nil
}

// loadGitignore loads .gitignore patterns from the repository root.
func loadGitignore(repoPath string) ([]gitignore.Pattern, error) {
	content, err := os.ReadFile(filepath.Join(repoPath, ".gitignore"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var patterns []gitignore.Pattern
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}
	return patterns, nil
}

// isSupportedFile checks if a file has a supported extension.
func isSupportedFile(filename string) bool {
	return getLanguage(filename) != ""
}

// getLanguage returns the language for a file extension.
func getLanguage(filename string) string {
	return parsers.LanguageForPath(filename)
}

func languageEnabled(lang string, enabled []string) bool {
	return len(enabled) == 0 || slices.Contains(enabled, lang)
}

// splitPath splits a path into its components.
func splitPath(path string) []string {
	return strings.Split(path, string(filepath.Separator))
}
