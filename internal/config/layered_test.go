package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"

	dterrors "github.com/coral-mesh/dwarftags/internal/errors"
	"github.com/coral-mesh/dwarftags/internal/safe"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "dwarftags.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return configPath
}

// newFlagSet registers the configuration flags the way the root command does.
func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.StringP(FlagOutput, "o", "tags", "")
	fs.Bool(FlagHeader, false, "")
	fs.Bool(FlagAbsolute, false, "")
	fs.Bool(FlagQualified, false, "")
	fs.IntP(FlagJobs, "j", 1, "")
	fs.String(FlagFilter, "", "")
	fs.Int64(FlagMaxSize, safe.DefaultMaxFileSize, "")
	fs.String(FlagLogLevel, DefaultLogLevel, "")
	return fs
}

func TestLayeredLoader_DefaultsOnly(t *testing.T) {
	loader := NewLayeredLoader()
	loader.DisableLayer(LayerFile)
	loader.DisableLayer(LayerEnv)

	cfg, err := loader.Load("", nil)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Output != "tags" {
		t.Errorf("Output = %q, want %q", cfg.Output, "tags")
	}
	if cfg.Jobs != 1 {
		t.Errorf("Jobs = %d, want 1", cfg.Jobs)
	}
	if cfg.Header {
		t.Errorf("Header = true, want false")
	}
	if cfg.MaxInputSize != safe.DefaultMaxFileSize {
		t.Errorf("MaxInputSize = %d, want %d", cfg.MaxInputSize, safe.DefaultMaxFileSize)
	}
	if cfg.LogLevel != DefaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, DefaultLogLevel)
	}
}

func TestLayeredLoader_FileOverridesDefaults(t *testing.T) {
	configPath := writeConfig(t, `
output: build/tags
header: true
absolute_paths: true
jobs: 4
filter: '!fn.name.startsWith("__")'
log_level: debug
`)

	loader := NewLayeredLoader()
	loader.DisableLayer(LayerEnv)

	cfg, err := loader.Load(configPath, nil)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Output != "build/tags" {
		t.Errorf("Output = %q, want %q", cfg.Output, "build/tags")
	}
	if !cfg.Header {
		t.Errorf("Header = false, want true")
	}
	if !cfg.AbsolutePaths {
		t.Errorf("AbsolutePaths = false, want true")
	}
	if cfg.QualifiedNames {
		t.Errorf("QualifiedNames = true, want default false")
	}
	if cfg.Jobs != 4 {
		t.Errorf("Jobs = %d, want 4", cfg.Jobs)
	}
	if cfg.Filter != `!fn.name.startsWith("__")` {
		t.Errorf("Filter = %q", cfg.Filter)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	// Keys absent from the file keep their defaults.
	if cfg.MaxInputSize != safe.DefaultMaxFileSize {
		t.Errorf("MaxInputSize = %d, want %d", cfg.MaxInputSize, safe.DefaultMaxFileSize)
	}
}

func TestLayeredLoader_EnvOverridesFile(t *testing.T) {
	configPath := writeConfig(t, "output: from-file\njobs: 2\n")
	t.Setenv("DWARFTAGS_OUTPUT", "from-env")
	t.Setenv("DWARFTAGS_QUALIFIED_NAMES", "true")

	cfg, err := NewLayeredLoader().Load(configPath, nil)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Output != "from-env" {
		t.Errorf("Output = %q, want %q", cfg.Output, "from-env")
	}
	if cfg.Jobs != 2 {
		t.Errorf("Jobs = %d, want 2 from file", cfg.Jobs)
	}
	if !cfg.QualifiedNames {
		t.Errorf("QualifiedNames = false, want true")
	}
}

func TestLayeredLoader_FlagsOverrideEverything(t *testing.T) {
	configPath := writeConfig(t, "output: from-file\nheader: true\njobs: 2\n")
	t.Setenv("DWARFTAGS_OUTPUT", "from-env")
	t.Setenv("DWARFTAGS_JOBS", "3")

	fs := newFlagSet()
	if err := fs.Parse([]string{"-o", "from-flag", "--jobs=8"}); err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	cfg, err := NewLayeredLoader().Load(configPath, fs)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Output != "from-flag" {
		t.Errorf("Output = %q, want %q", cfg.Output, "from-flag")
	}
	if cfg.Jobs != 8 {
		t.Errorf("Jobs = %d, want 8", cfg.Jobs)
	}
	// Unchanged flags must not reset values from earlier layers.
	if !cfg.Header {
		t.Errorf("Header = false, want true from file")
	}
}

func TestLayeredLoader_MissingFiles(t *testing.T) {
	loader := NewLayeredLoader()
	loader.DisableLayer(LayerEnv)

	_, err := loader.Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	if err == nil {
		t.Fatal("Load() with a missing explicit file succeeded")
	}
	if !errors.Is(err, dterrors.ErrConfig) {
		t.Errorf("Load() error = %v, want ErrConfig", err)
	}

	t.Chdir(t.TempDir())
	if _, err := loader.Load("", nil); err != nil {
		t.Errorf("Load() without a project file failed: %v", err)
	}
}

func TestLayeredLoader_ProjectFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ProjectFile), []byte("header: true\n"), 0644); err != nil {
		t.Fatalf("Failed to write project file: %v", err)
	}
	t.Chdir(dir)

	loader := NewLayeredLoader()
	loader.DisableLayer(LayerEnv)
	cfg, err := loader.Load("", nil)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !cfg.Header {
		t.Errorf("Header = false, want true from %s", ProjectFile)
	}
}

func TestLayeredLoader_BadFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown key", "outptu: tags\n", "outptu"},
		{"wrong type", "jobs: many\n", "many"},
		{"invalid value", "jobs: 0\n", "jobs"},
		{"bad level", "log_level: loud\n", "log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := NewLayeredLoader()
			loader.DisableLayer(LayerEnv)

			_, err := loader.Load(writeConfig(t, tt.content), nil)
			if err == nil {
				t.Fatal("Load() succeeded, want error")
			}
			if !errors.Is(err, dterrors.ErrConfig) {
				t.Errorf("Load() error = %v, want ErrConfig", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLayeredLoader_EmptyFile(t *testing.T) {
	loader := NewLayeredLoader()
	loader.DisableLayer(LayerEnv)

	cfg, err := loader.Load(writeConfig(t, ""), nil)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Output != "tags" {
		t.Errorf("Output = %q, want %q", cfg.Output, "tags")
	}
}

func TestMergeFlags_IgnoresUnregistered(t *testing.T) {
	fs := pflag.NewFlagSet("partial", pflag.ContinueOnError)
	fs.Bool(FlagHeader, false, "")
	if err := fs.Parse([]string{"--header"}); err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	cfg := Default()
	if err := MergeFlags(cfg, fs); err != nil {
		t.Fatalf("MergeFlags() failed: %v", err)
	}
	if !cfg.Header {
		t.Errorf("Header = false, want true")
	}
	if cfg.Output != "tags" {
		t.Errorf("Output = %q, want default", cfg.Output)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ProjectFile)

	cfg := Default()
	cfg.QualifiedNames = true
	cfg.Filter = `fn.line > 0`
	if err := Save(path, cfg, false); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if err := Save(path, cfg, false); err == nil {
		t.Error("Save() over an existing file without force succeeded")
	}
	if err := Save(path, cfg, true); err != nil {
		t.Errorf("Save() with force failed: %v", err)
	}

	loader := NewLayeredLoader()
	loader.DisableLayer(LayerEnv)
	got, err := loader.Load(path, nil)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if *got != *cfg {
		t.Errorf("Load() = %+v, want %+v", *got, *cfg)
	}
}
