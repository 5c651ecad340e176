// Package config holds the settings of a dwarftags run and loads them from
// defaults, an optional YAML file, the environment and command-line flags.
package config

import (
	"github.com/coral-mesh/dwarftags/internal/safe"
	"github.com/coral-mesh/dwarftags/internal/tags"
)

const (
	// ProjectFile is looked up in the working directory when no config file
	// is given explicitly.
	ProjectFile = ".dwarftags.yaml"

	// EnvPrefix prefixes every environment variable read by LoadFromEnv.
	EnvPrefix = "DWARFTAGS_"

	// DefaultLogLevel is used when no level is configured.
	DefaultLogLevel = "warn"
)

// Config is the effective configuration of a run.
type Config struct {
	// Output is the tags file path. "-" writes to standard output.
	Output string `yaml:"output" env:"DWARFTAGS_OUTPUT"`
	// Header emits the !_TAG_ pseudo-tag lines.
	Header bool `yaml:"header" env:"DWARFTAGS_HEADER"`
	// AbsolutePaths joins relative source paths onto the unit's comp_dir.
	AbsolutePaths bool `yaml:"absolute_paths" env:"DWARFTAGS_ABSOLUTE_PATHS"`
	// QualifiedNames tags functions by demangled linkage name.
	QualifiedNames bool `yaml:"qualified_names" env:"DWARFTAGS_QUALIFIED_NAMES"`
	// Jobs is the number of units walked concurrently.
	Jobs int `yaml:"jobs" env:"DWARFTAGS_JOBS"`
	// Filter is a CEL expression over fn selecting the functions to keep.
	Filter string `yaml:"filter,omitempty" env:"DWARFTAGS_FILTER"`
	// MaxInputSize bounds the size of the object file in bytes.
	MaxInputSize int64 `yaml:"max_input_size" env:"DWARFTAGS_MAX_INPUT_SIZE"`
	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `yaml:"log_level" env:"DWARFTAGS_LOG_LEVEL"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Output:       tags.DefaultFile,
		Jobs:         1,
		MaxInputSize: safe.DefaultMaxFileSize,
		LogLevel:     DefaultLogLevel,
	}
}

// WritesStdout reports whether the tags go to standard output.
func (c *Config) WritesStdout() bool {
	return c.Output == "-"
}
