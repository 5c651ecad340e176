package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	dterrors "github.com/coral-mesh/dwarftags/internal/errors"
)

// Layer represents a configuration layer source.
type Layer string

const (
	// LayerDefaults represents the built-in values.
	LayerDefaults Layer = "defaults"

	// LayerFile represents the YAML configuration file.
	LayerFile Layer = "file"

	// LayerEnv represents DWARFTAGS_* environment variables.
	LayerEnv Layer = "env"

	// LayerFlags represents command-line flags.
	LayerFlags Layer = "flags"
)

// Flag names bound to configuration fields.
const (
	FlagOutput    = "output"
	FlagHeader    = "header"
	FlagAbsolute  = "absolute"
	FlagQualified = "qualified"
	FlagJobs      = "jobs"
	FlagFilter    = "filter"
	FlagMaxSize   = "max-size"
	FlagLogLevel  = "log-level"
)

// LayeredLoader provides layered configuration loading.
// Configuration is loaded in the following order:
// 1. Defaults - Default()
// 2. File - the YAML file, when one is found
// 3. Environment - DWARFTAGS_* variables
// 4. Flags - command-line flags the user actually set
//
// Each layer overrides values from previous layers.
type LayeredLoader struct {
	enabledLayers map[Layer]bool
}

// NewLayeredLoader creates a loader with every layer enabled.
func NewLayeredLoader() *LayeredLoader {
	return &LayeredLoader{
		enabledLayers: map[Layer]bool{
			LayerDefaults: true,
			LayerFile:     true,
			LayerEnv:      true,
			LayerFlags:    true,
		},
	}
}

// DisableLayer disables a specific configuration layer.
func (l *LayeredLoader) DisableLayer(layer Layer) {
	l.enabledLayers[layer] = false
}

// Load builds the effective configuration. configPath names the file layer;
// when it is empty, ProjectFile in the working directory is used if it
// exists. flags may be nil. The result is validated.
func (l *LayeredLoader) Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	var cfg *Config

	// Layer 1: Defaults
	if l.enabledLayers[LayerDefaults] {
		cfg = Default()
	} else {
		cfg = &Config{}
	}

	// Layer 2: File
	if l.enabledLayers[LayerFile] {
		path, explicit := configPath, configPath != ""
		if !explicit {
			path = FindProjectFile(".")
		}
		if path != "" {
			if err := l.mergeFromFile(cfg, path); err != nil {
				// A missing project file is simply no layer; a missing
				// explicit file is a mistake.
				if explicit || !errors.Is(err, os.ErrNotExist) {
					return nil, fmt.Errorf("%w: load %s: %w", dterrors.ErrConfig, path, err)
				}
			}
		}
	}

	// Layer 3: Environment
	if l.enabledLayers[LayerEnv] {
		if err := LoadFromEnv(cfg); err != nil {
			return nil, fmt.Errorf("%w: environment: %w", dterrors.ErrConfig, err)
		}
	}

	// Layer 4: Flags
	if l.enabledLayers[LayerFlags] && flags != nil {
		if err := MergeFlags(cfg, flags); err != nil {
			return nil, fmt.Errorf("%w: flags: %w", dterrors.ErrConfig, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFromFile decodes a YAML file over cfg. Unknown keys are rejected.
func (l *LayeredLoader) mergeFromFile(cfg *Config, filePath string) error {
	//nolint:gosec // G304: Path is chosen by the user running the tool.
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// MergeFlags copies the flags that were set on the command line into cfg.
// Flags left at their defaults do not override earlier layers. Flags that
// are not registered on fs are ignored.
func MergeFlags(cfg *Config, fs *pflag.FlagSet) error {
	changed := func(name string) bool {
		return fs.Lookup(name) != nil && fs.Changed(name)
	}

	var err error
	if changed(FlagOutput) {
		cfg.Output, err = fs.GetString(FlagOutput)
		if err != nil {
			return err
		}
	}
	if changed(FlagHeader) {
		cfg.Header, err = fs.GetBool(FlagHeader)
		if err != nil {
			return err
		}
	}
	if changed(FlagAbsolute) {
		cfg.AbsolutePaths, err = fs.GetBool(FlagAbsolute)
		if err != nil {
			return err
		}
	}
	if changed(FlagQualified) {
		cfg.QualifiedNames, err = fs.GetBool(FlagQualified)
		if err != nil {
			return err
		}
	}
	if changed(FlagJobs) {
		cfg.Jobs, err = fs.GetInt(FlagJobs)
		if err != nil {
			return err
		}
	}
	if changed(FlagFilter) {
		cfg.Filter, err = fs.GetString(FlagFilter)
		if err != nil {
			return err
		}
	}
	if changed(FlagMaxSize) {
		cfg.MaxInputSize, err = fs.GetInt64(FlagMaxSize)
		if err != nil {
			return err
		}
	}
	if changed(FlagLogLevel) {
		cfg.LogLevel, err = fs.GetString(FlagLogLevel)
		if err != nil {
			return err
		}
	}
	return nil
}
