// Package testutil provides fixtures for dwarftags tests: object files built
// in memory, DWARF sections assembled from unit descriptions and loggers.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// NewTestContext creates a test context with a 30-second timeout.
func NewTestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// WriteFile writes data to a file named name in a fresh temporary directory
// and returns its path.
func WriteFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
