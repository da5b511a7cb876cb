package ingestion

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Benny93/depgraph/internal/storage"
)

// MetaPath returns the path of meta.json for a repository.
func MetaPath(repoPath string) string {
	return filepath.Join(repoPath, DataDir, "meta.json")
}

// DBPath returns the path of the badger database for a repository.
func DBPath(repoPath string) string {
	return filepath.Join(repoPath, DataDir, "badger")
}

// WriteMeta writes meta.json, creating the data directory.
func WriteMeta(repoPath string, meta storage.Meta) error {
	if err := os.MkdirAll(filepath.Join(repoPath, DataDir), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", DataDir, err)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling meta: %w", err)
	}
	if err := os.WriteFile(MetaPath(repoPath), data, 0o644); err != nil {
		return fmt.Errorf("writing meta.json: %w", err)
	}
	return nil
}

// ReadMeta reads meta.json. The error wraps os.ErrNotExist when the
// repository was never analyzed.
func ReadMeta(repoPath string) (*storage.Meta, error) {
	data, err := os.ReadFile(MetaPath(repoPath))
	if err != nil {
		return nil, fmt.Errorf("reading meta.json: %w", err)
	}
	var meta storage.Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing meta.json: %w", err)
	}
	return &meta, nil
}
