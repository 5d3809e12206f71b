package internal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/novik133/novasearch/internal/testutil"
	pkgconfig "github.com/novik133/novasearch/pkg/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if len(cfg.Indexing.IncludePaths) != 1 || cfg.Indexing.IncludePaths[0] != "~" {
		t.Errorf("include_paths = %v", cfg.Indexing.IncludePaths)
	}
	if cfg.Performance.MaxCPUPercent != 10 || cfg.Performance.BatchSize != 100 ||
		cfg.Performance.FlushIntervalMS != 1000 || cfg.Performance.MaxMemoryMB != 100 {
		t.Errorf("performance defaults = %+v", cfg.Performance)
	}
	if cfg.UI.KeyboardShortcut != "Super+Space" || cfg.UI.MaxResults != 50 {
		t.Errorf("ui defaults = %+v", cfg.UI)
	}
}

func TestLoadValidTOML(t *testing.T) {
	path := writeConfig(t, `
[indexing]
include_paths = ["/home/user/Documents", "/home/user/Projects"]
exclude_patterns = ["*.tmp", "*.log"]

[performance]
max_cpu_percent = 20
max_memory_mb = 200
batch_size = 50
flush_interval_ms = 500

[ui]
keyboard_shortcut = "Ctrl+Alt+F"
max_results = 100
`)
	cfg := NewDefaultConfig()
	unknown, err := pkgconfig.Load(path, cfg)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(unknown) != 0 {
		t.Errorf("unknown keys: %v", unknown)
	}
	if len(cfg.Indexing.IncludePaths) != 2 || cfg.Indexing.IncludePaths[0] != "/home/user/Documents" {
		t.Errorf("include_paths = %v", cfg.Indexing.IncludePaths)
	}
	if cfg.Performance.MaxCPUPercent != 20 || cfg.UI.KeyboardShortcut != "Ctrl+Alt+F" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
[indexing]
include_paths = ["/home/user/Documents"]
`)
	cfg := NewDefaultConfig()
	if _, err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Performance.MaxCPUPercent != 10 {
		t.Errorf("max_cpu_percent = %d, want default 10", cfg.Performance.MaxCPUPercent)
	}
	if cfg.UI.KeyboardShortcut != "Super+Space" {
		t.Errorf("keyboard_shortcut = %q, want default", cfg.UI.KeyboardShortcut)
	}
}

func TestLoadUnknownKeysReported(t *testing.T) {
	path := writeConfig(t, `
[indexing]
include_paths = ["/x"]
surprise_knob = 3
`)
	cfg := NewDefaultConfig()
	unknown, err := pkgconfig.Load(path, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(unknown) != 1 {
		t.Errorf("unknown = %v, want the surprise knob", unknown)
	}
}

func TestLoadMalformedTOML(t *testing.T) {
	path := writeConfig(t, "invalid toml content [[[")
	cfg := NewDefaultConfig()
	if _, err := pkgconfig.Load(path, cfg); err == nil {
		t.Error("malformed TOML did not error")
	}
}

func TestValidationRejectsBadValues(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.Indexing.IncludePaths = nil },
		func(c *Config) { c.Performance.MaxCPUPercent = 0 },
		func(c *Config) { c.Performance.MaxCPUPercent = 101 },
		func(c *Config) { c.Performance.MaxMemoryMB = 0 },
		func(c *Config) { c.Performance.BatchSize = 0 },
		func(c *Config) { c.Performance.FlushIntervalMS = 0 },
		func(c *Config) { c.UI.MaxResults = 0 },
		func(c *Config) { c.UI.KeyboardShortcut = "" },
	}
	for i, mutate := range cases {
		cfg := NewDefaultConfig()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: bad config validated", i)
		}
	}
}

func TestDiffConfigs(t *testing.T) {
	oldCfg := NewDefaultConfig()
	oldCfg.Indexing.IncludePaths = []string{"/a", "/b"}
	newCfg := NewDefaultConfig()
	newCfg.Indexing.IncludePaths = []string{"/b", "/c"}
	newCfg.Indexing.ExcludePatterns = []string{".*"}

	d := DiffConfigs(oldCfg, newCfg)
	if len(d.AddedRoots) != 1 || d.AddedRoots[0] != "/c" {
		t.Errorf("AddedRoots = %v", d.AddedRoots)
	}
	if len(d.RemovedRoots) != 1 || d.RemovedRoots[0] != "/a" {
		t.Errorf("RemovedRoots = %v", d.RemovedRoots)
	}
	if !d.PatternsChanged {
		t.Error("PatternsChanged = false")
	}

	same := DiffConfigs(oldCfg, oldCfg)
	if !same.Empty() {
		t.Errorf("self-diff not empty: %+v", same)
	}
}

func TestConfigWatcherInitialLoadAndReload(t *testing.T) {
	path := writeConfig(t, `
[performance]
max_cpu_percent = 15
max_memory_mb = 100
batch_size = 100
flush_interval_ms = 1000
`)
	cw, err := NewConfigWatcher(path, "", testutil.QuietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if cw.Current().Performance.MaxCPUPercent != 15 {
		t.Errorf("initial max_cpu_percent = %d", cw.Current().Performance.MaxCPUPercent)
	}

	if err := os.WriteFile(path, []byte(`
[performance]
max_cpu_percent = 25
max_memory_mb = 100
batch_size = 100
flush_interval_ms = 1000
`), 0o644); err != nil {
		t.Fatal(err)
	}
	cw.reload()

	if cw.Current().Performance.MaxCPUPercent != 25 {
		t.Errorf("reloaded max_cpu_percent = %d, want 25", cw.Current().Performance.MaxCPUPercent)
	}
	select {
	case cfg := <-cw.Updates():
		if cfg.Performance.MaxCPUPercent != 25 {
			t.Errorf("update snapshot = %+v", cfg.Performance)
		}
	default:
		t.Error("no snapshot delivered on Updates")
	}
}

func TestConfigWatcherKeepsPreviousOnBadReload(t *testing.T) {
	path := writeConfig(t, `
[performance]
max_cpu_percent = 30
max_memory_mb = 100
batch_size = 100
flush_interval_ms = 1000
`)
	cw, err := NewConfigWatcher(path, "", testutil.QuietLogger())
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("broken [[["), 0o644); err != nil {
		t.Fatal(err)
	}
	cw.reload()

	if cw.Current().Performance.MaxCPUPercent != 30 {
		t.Error("bad reload replaced the previous snapshot")
	}
}

func TestConfigWatcherSkipsUnchangedContent(t *testing.T) {
	content := `
[performance]
max_cpu_percent = 30
max_memory_mb = 100
batch_size = 100
flush_interval_ms = 1000
`
	path := writeConfig(t, content)
	cw, err := NewConfigWatcher(path, "", testutil.QuietLogger())
	if err != nil {
		t.Fatal(err)
	}

	// Rewrite identical bytes; no snapshot should be propagated.
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cw.reload()

	select {
	case <-cw.Updates():
		t.Error("unchanged content propagated a snapshot")
	default:
	}
}

func TestConfigWatcherMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cw, err := NewConfigWatcher(path, "", testutil.QuietLogger())
	if err != nil {
		t.Fatalf("missing config should fall back to defaults: %v", err)
	}
	if cw.Current().Performance.MaxCPUPercent != 10 {
		t.Errorf("defaults not applied: %+v", cw.Current().Performance)
	}
}

func TestConfigWatcherSystemDefaultFallback(t *testing.T) {
	sys := writeConfig(t, `
[performance]
max_cpu_percent = 44
max_memory_mb = 100
batch_size = 100
flush_interval_ms = 1000
`)
	user := filepath.Join(t.TempDir(), "config.toml")
	cw, err := NewConfigWatcher(user, sys, testutil.QuietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if cw.Current().Performance.MaxCPUPercent != 44 {
		t.Errorf("system default not used: %+v", cw.Current().Performance)
	}
}
