// Package parsers declares the entities and raw call expressions of source
// files into a graph.Store.
//
// Each language has a Frontend. Frontends declare entities, record call
// text per callable container and queue imports; Builder.Link then binds
// the imports and pins variable types before the store is finalized.
package parsers

import (
	"context"
	"path"
	"strings"
	"unicode"
)

// SourceFile is one file handed to a frontend.
type SourceFile struct {
	// Path is the repo-relative, slash-separated path.
	Path string

	// Content is the file content.
	Content []byte
}

// Stats summarizes what a frontend declared.
type Stats struct {
	Files    int
	Skipped  int
	Entities int
	Calls    int
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Files += other.Files
	s.Skipped += other.Skipped
	s.Entities += other.Entities
	s.Calls += other.Calls
}

// Frontend declares the files of one language.
type Frontend interface {
	// Language returns the language name recorded on entities.
	Language() string

	// Extensions returns the file extensions the frontend handles.
	Extensions() []string

	// Parse declares every file into the builder. Files that fail to parse
	// are logged and counted as skipped; the returned error is reserved for
	// cancellation and store failures.
	Parse(ctx context.Context, b *Builder, files []SourceFile) (Stats, error)
}

// Frontends returns the frontends of the given languages, or of every
// supported language when none are given.
func Frontends(b *Builder, languages ...string) []Frontend {
	all := []Frontend{
		NewPythonFrontend(b.logger),
		NewGoFrontend(b.logger),
	}
	if len(languages) == 0 {
		return all
	}
	var out []Frontend
	for _, fe := range all {
		for _, lang := range languages {
			if fe.Language() == lang {
				out = append(out, fe)
				break
			}
		}
	}
	return out
}

// LanguageForPath returns the language of a file by extension.
func LanguageForPath(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".py":
		return "python"
	case ".go":
		return "go"
	}
	return ""
}

// compactCall drops whitespace from call text so that chains spanning
// several lines split on clean segment boundaries.
func compactCall(text string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
}
