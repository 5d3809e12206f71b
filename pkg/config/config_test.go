package config

import (
	"os"
	"path/filepath"
	"testing"
)

type testConfig struct {
	Name  string `toml:"name"`
	Count int    `toml:"count"`
}

type validatedConfig struct {
	Name string `toml:"name"`
}

func (c *validatedConfig) Validate() error {
	if c.Name == "" {
		return os.ErrInvalid
	}
	return nil
}

func write(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "c.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := write(t, "name = \"x\"\ncount = 3\n")
	var cfg testConfig
	unknown, err := Load(path, &cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(unknown) != 0 || cfg.Name != "x" || cfg.Count != 3 {
		t.Errorf("cfg = %+v, unknown = %v", cfg, unknown)
	}
}

func TestLoadEnvExpansion(t *testing.T) {
	t.Setenv("CFG_TEST_NAME", "expanded")
	path := write(t, "name = \"${CFG_TEST_NAME}\"\n")
	var cfg testConfig
	if _, err := Load(path, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "expanded" {
		t.Errorf("Name = %q", cfg.Name)
	}
}

func TestLoadUnknownKeys(t *testing.T) {
	path := write(t, "name = \"x\"\nmystery = true\n")
	var cfg testConfig
	unknown, err := Load(path, &cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(unknown) != 1 || unknown[0] != "mystery" {
		t.Errorf("unknown = %v", unknown)
	}
}

func TestLoadValidatorFailure(t *testing.T) {
	path := write(t, "name = \"\"\n")
	var cfg validatedConfig
	if _, err := Load(path, &cfg); err == nil {
		t.Error("validator failure not surfaced")
	}
}

func TestLoadWithDefaultsFallback(t *testing.T) {
	def := write(t, "name = \"default\"\n")
	missing := filepath.Join(t.TempDir(), "absent.toml")

	var cfg testConfig
	if _, err := LoadWithDefaults(missing, def, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "default" {
		t.Errorf("Name = %q, want fallback value", cfg.Name)
	}
}

func TestLoadWithDefaultsBothMissing(t *testing.T) {
	dir := t.TempDir()
	var cfg testConfig
	cfg.Name = "builtin"
	if _, err := LoadWithDefaults(
		filepath.Join(dir, "a.toml"), filepath.Join(dir, "b.toml"), &cfg); err != nil {
		t.Fatalf("both missing should not error: %v", err)
	}
	if cfg.Name != "builtin" {
		t.Errorf("target mutated: %q", cfg.Name)
	}
}
