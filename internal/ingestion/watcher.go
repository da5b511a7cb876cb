package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/Benny93/depgraph/internal/config"
	"github.com/Benny93/depgraph/internal/observability"
	"github.com/Benny93/depgraph/internal/storage"
)

// WatchOptions configures WatchRepo.
type WatchOptions struct {
	// Config defaults to config.Default(); Watch.Debounce sets the batch window.
	Config *config.Config
	Logger *slog.Logger

	// OnReady is called once every directory is watched.
	OnReady func()

	// OnRebuild is called after every rebuild attempt.
	OnRebuild func(g *Graph, result *PipelineResult, err error)
}

// WatchRepo monitors a repository for file changes and rebuilds the graph
// into backend. Call resolution is whole-program, so every batch of
// content changes triggers a full rebuild. Blocks until the context is
// cancelled.
func WatchRepo(ctx context.Context, repoPath string, backend storage.Backend, opts WatchOptions) error {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	patterns, err := LoadIgnorePatterns(repoPath, cfg.Exclude.Dirs)
	if err != nil {
		return fmt.Errorf("loading ignore patterns: %w", err)
	}
	matcher := newMatcher(patterns)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watchTree(watcher, repoPath, repoPath, matcher); err != nil {
		return fmt.Errorf("setting up watcher: %w", err)
	}

	hashes, err := fileHashes(repoPath, patterns, cfg.Languages)
	if err != nil {
		return err
	}

	changedFiles := make(map[string]bool)
	batchTimer := time.NewTimer(cfg.Watch.Debounce)
	batchTimer.Stop()

	logger.Info("watching for changes", "repo", repoPath, "debounce", cfg.Watch.Debounce)
	if opts.OnReady != nil {
		opts.OnReady()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			observability.WatcherEventsTotal.Inc()

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watchTree(watcher, repoPath, event.Name, matcher); err != nil {
						logger.Warn("watching new directory", "dir", event.Name, "error", err)
					}
					continue
				}
			}

			relPath, ok := watchedPath(event.Name, repoPath, matcher, cfg.Languages)
			if !ok {
				continue
			}
			changedFiles[relPath] = true
			batchTimer.Reset(cfg.Watch.Debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "error", err)

		case <-batchTimer.C:
			if len(changedFiles) == 0 {
				continue
			}
			changed := contentChanged(repoPath, changedFiles, hashes)
			changedFiles = make(map[string]bool)
			if !changed {
				observability.RebuildsTotal.WithLabelValues("skipped").Inc()
				continue
			}

			logger.Info("rebuilding call graph")
			g, result, err := RunPipeline(ctx, repoPath, backend, Options{Config: cfg, Logger: logger})
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return ctx.Err()
				}
				observability.RebuildsTotal.WithLabelValues("error").Inc()
				logger.Error("rebuild failed", "error", err)
			} else {
				observability.RebuildsTotal.WithLabelValues("ok").Inc()
			}
			if opts.OnRebuild != nil {
				opts.OnRebuild(g, result, err)
			}
		}
	}
}

// watchTree adds dir and every non-ignored directory below it.
func watchTree(watcher *fsnotify.Watcher, repoPath, dir string, matcher gitignore.Matcher) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != repoPath {
			relPath, err := filepath.Rel(repoPath, path)
			if err != nil {
				return err
			}
			if d.Name() == ".git" || matcher.Match(splitPath(relPath), true) {
				return filepath.SkipDir
			}
		}
		return watcher.Add(path)
	})
}

// watchedPath returns the repo-relative path of a supported, non-ignored file.
func watchedPath(path, repoPath string, matcher gitignore.Matcher, languages []string) (string, bool) {
	relPath, err := filepath.Rel(repoPath, path)
	if err != nil {
		return "", false
	}
	lang := getLanguage(path)
	if lang == "" || !languageEnabled(lang, languages) {
		return "", false
	}
	if matcher.Match(splitPath(relPath), false) {
		return "", false
	}
	return filepath.ToSlash(relPath), true
}

func fileHashes(repoPath string, patterns []gitignore.Pattern, languages []string) (map[string]string, error) {
	entries, err := WalkRepo(repoPath, WalkOptions{Patterns: patterns, Languages: languages})
	if err != nil {
		return nil, fmt.Errorf("walking repo: %w", err)
	}
	hashes := make(map[string]string, len(entries))
	for _, e := range entries {
		hashes[e.RelPath] = e.SHA256
	}
	return hashes, nil
}

// contentChanged updates hashes for the changed paths and reports whether
// any file was created, modified or removed.
func contentChanged(repoPath string, changedFiles map[string]bool, hashes map[string]string) bool {
	changed := false
	for relPath := range changedFiles {
		content, err := os.ReadFile(filepath.Join(repoPath, filepath.FromSlash(relPath)))
		if err != nil {
			if _, known := hashes[relPath]; known {
				delete(hashes, relPath)
				changed = true
			}
			continue
		}
		sum := sha256.Sum256(content)
		hash := hex.EncodeToString(sum[:])
		if hashes[relPath] != hash {
			hashes[relPath] = hash
			changed = true
		}
	}
	return changed
}
