// Package internal provides the main application initialization and
// runtime logic.
package internal

import (
	"log/slog"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/novik133/novasearch/internal/pathspec"
)

// Config represents the daemon configuration. Snapshots are immutable:
// reloads build a new value and swap it in, they never mutate in place.
type Config struct {
	Indexing    IndexingConfig    `toml:"indexing"`
	Performance PerformanceConfig `toml:"performance"`
	UI          UIConfig          `toml:"ui"`
	Daemon      DaemonConfig      `toml:"daemon"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Indexing.Validate(); err != nil {
		return err
	}
	if err := c.Performance.Validate(); err != nil {
		return err
	}
	return c.UI.Validate()
}

// IndexingConfig holds the root set and exclusion patterns.
type IndexingConfig struct {
	IncludePaths    []string `toml:"include_paths"`
	ExcludePatterns []string `toml:"exclude_patterns"`
}

// Validate validates the indexing configuration.
func (c *IndexingConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.IncludePaths, validation.Required),
	)
}

// PerformanceConfig holds the soft resource bounds and batching knobs.
type PerformanceConfig struct {
	MaxCPUPercent   int `toml:"max_cpu_percent"`
	MaxMemoryMB     int `toml:"max_memory_mb"`
	BatchSize       int `toml:"batch_size"`
	FlushIntervalMS int `toml:"flush_interval_ms"`
}

// Validate validates the performance configuration.
func (c *PerformanceConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxCPUPercent, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&c.MaxMemoryMB, validation.Required, validation.Min(1)),
		validation.Field(&c.BatchSize, validation.Required, validation.Min(1)),
		validation.Field(&c.FlushIntervalMS, validation.Required, validation.Min(1)),
	)
}

// FlushInterval returns the coalescing flush interval as a Duration.
func (c *PerformanceConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMS) * time.Millisecond
}

// UIConfig holds keys owned by the search window. The daemon parses them
// for validation but never writes them back; UI-originated edits to this
// section survive reloads untouched because the daemon does not rewrite
// the config file at all.
type UIConfig struct {
	KeyboardShortcut string `toml:"keyboard_shortcut"`
	MaxResults       int    `toml:"max_results"`
}

// Validate validates the UI configuration.
func (c *UIConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.KeyboardShortcut, validation.Required),
		validation.Field(&c.MaxResults, validation.Required, validation.Min(1)),
	)
}

// DaemonConfig holds daemon-level knobs outside the UI contract.
type DaemonConfig struct {
	LogLevel slog.Level `toml:"log_level"`
}

// NewDefaultConfig returns a new Config with the stock defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Indexing: IndexingConfig{
			IncludePaths:    []string{"~"},
			ExcludePatterns: []string{".*", "node_modules", ".git", "target"},
		},
		Performance: PerformanceConfig{
			MaxCPUPercent:   10,
			MaxMemoryMB:     100,
			BatchSize:       100,
			FlushIntervalMS: 1000,
		},
		UI: UIConfig{
			KeyboardShortcut: "Super+Space",
			MaxResults:       50,
		},
		Daemon: DaemonConfig{
			LogLevel: slog.LevelInfo,
		},
	}
}

// ExpandedRoots returns the include paths normalized to absolute form.
// Entries that fail normalization are dropped; the caller logs them via
// the returned map of path to error.
func (c *Config) ExpandedRoots() ([]string, map[string]error) {
	var roots []string
	bad := make(map[string]error)
	for _, p := range c.Indexing.IncludePaths {
		abs, err := pathspec.Normalize(p)
		if err != nil {
			bad[p] = err
			continue
		}
		roots = append(roots, abs)
	}
	return roots, bad
}

// ConfigDiff describes what changed between two configuration snapshots,
// in terms the supervisor acts on.
type ConfigDiff struct {
	AddedRoots      []string
	RemovedRoots    []string
	PatternsChanged bool
}

// Empty reports whether the diff requires no action.
func (d ConfigDiff) Empty() bool {
	return len(d.AddedRoots) == 0 && len(d.RemovedRoots) == 0 && !d.PatternsChanged
}

// DiffConfigs computes the include-set and pattern changes from old to
// new. Roots are compared in normalized form.
func DiffConfigs(oldCfg, newCfg *Config) ConfigDiff {
	oldRoots, _ := oldCfg.ExpandedRoots()
	newRoots, _ := newCfg.ExpandedRoots()

	oldSet := make(map[string]struct{}, len(oldRoots))
	for _, r := range oldRoots {
		oldSet[r] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(newRoots))
	for _, r := range newRoots {
		newSet[r] = struct{}{}
	}

	var d ConfigDiff
	for r := range newSet {
		if _, ok := oldSet[r]; !ok {
			d.AddedRoots = append(d.AddedRoots, r)
		}
	}
	for r := range oldSet {
		if _, ok := newSet[r]; !ok {
			d.RemovedRoots = append(d.RemovedRoots, r)
		}
	}
	sort.Strings(d.AddedRoots)
	sort.Strings(d.RemovedRoots)

	d.PatternsChanged = !equalStrings(oldCfg.Indexing.ExcludePatterns, newCfg.Indexing.ExcludePatterns)
	return d
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
