// Package config loads the optional .depgraph.toml of a repository.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gobwas/glob"

	"github.com/Benny93/depgraph/internal/resolve"
)

// FileName is the config file looked up at the repository root.
const FileName = ".depgraph.toml"

// SupportedLanguages lists the languages a frontend exists for.
var SupportedLanguages = []string{"python", "go"}

type Config struct {
	// Workers bounds the resolution pass. Zero means one per CPU.
	Workers   int                 `toml:"workers"`
	Languages []string            `toml:"languages"`
	Builtins  map[string][]string `toml:"builtins"`
	Exclude   Exclude             `toml:"exclude"`
	Uncalled  Uncalled            `toml:"uncalled"`
	Watch     Watch               `toml:"watch"`
	Metrics   Metrics             `toml:"metrics"`
}

type Exclude struct {
	// Dirs are gitignore-style patterns skipped by the walker.
	Dirs []string `toml:"dirs"`
}

type Uncalled struct {
	// Exempt are glob patterns matched against qualified names.
	Exempt []string `toml:"exempt"`
}

type Watch struct {
	Debounce time.Duration `toml:"debounce"`
}

type Metrics struct {
	Addr string `toml:"addr"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// LoadRepo loads FileName from the repository root, falling back to
// Default when the file does not exist.
func LoadRepo(repoPath string) (*Config, error) {
	cfg, err := Load(filepath.Join(repoPath, FileName))
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

func applyDefaults(cfg *Config) {
	if len(cfg.Languages) == 0 {
		cfg.Languages = slices.Clone(SupportedLanguages)
	}
	for i, lang := range cfg.Languages {
		cfg.Languages[i] = strings.ToLower(strings.TrimSpace(lang))
	}
	if cfg.Watch.Debounce <= 0 {
		cfg.Watch.Debounce = 2 * time.Second
	}
	cfg.Metrics.Addr = strings.TrimSpace(cfg.Metrics.Addr)
}

func validate(cfg *Config) error {
	if cfg.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", cfg.Workers)
	}
	for _, lang := range cfg.Languages {
		if !slices.Contains(SupportedLanguages, lang) {
			return fmt.Errorf("unsupported language %q", lang)
		}
	}
	for lang := range cfg.Builtins {
		if !slices.Contains(SupportedLanguages, lang) {
			return fmt.Errorf("builtins for unsupported language %q", lang)
		}
	}
	if _, err := cfg.Uncalled.Matchers(); err != nil {
		return err
	}
	return nil
}

// Profiles returns the resolver profiles with the configured builtins added.
func (c *Config) Profiles() resolve.Profiles {
	profiles := resolve.DefaultProfiles()
	for lang, extra := range c.Builtins {
		profiles[lang] = profiles.For(lang).WithBuiltins(extra...)
	}
	return profiles
}

// Matchers compiles the exemption globs. '.' separates segments, so "*"
// stays within one and "**" crosses them.
func (u Uncalled) Matchers() ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(u.Exempt))
	for _, pattern := range u.Exempt {
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, fmt.Errorf("uncalled exempt pattern %q: %w", pattern, err)
		}
		out = append(out, g)
	}
	return out, nil
}
