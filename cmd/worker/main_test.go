package main

import (
	"path/filepath"
	"testing"
)

func TestRunReturnsExitCodeOnConfigError(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if code := run(); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
}
