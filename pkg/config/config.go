// Package config provides TOML-based configuration loading with
// environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Validator is an interface for configuration validation.
type Validator interface {
	Validate() error
}

// Load loads configuration from a TOML file with environment variable
// expansion. Keys the target does not declare are returned so the caller
// can warn about them; they are not an error.
func Load[T any](filename string, target *T) (unknown []string, err error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	expandedData := os.ExpandEnv(string(data))

	md, err := toml.Decode(expandedData, target)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}
	for _, k := range md.Undecoded() {
		unknown = append(unknown, k.String())
	}

	if validator, ok := any(target).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return unknown, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return unknown, nil
}

// LoadWithDefaults loads configuration with fallback to a default file.
// When neither file exists the target is left untouched and no error is
// returned, so callers can run on built-in defaults.
func LoadWithDefaults[T any](filename, defaultFile string, target *T) ([]string, error) {
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		if defaultFile != "" {
			if _, err := os.Stat(defaultFile); err == nil {
				return Load(defaultFile, target)
			}
		}
		return nil, nil
	}
	return Load(filename, target)
}
