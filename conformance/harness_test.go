// Package conformance provides conformance tests for the store client.
package conformance

import (
	"testing"
)

// TestConformance runs the full conformance test suite.
func TestConformance(t *testing.T) {
	harness, err := NewHarness(Config{})
	if err != nil {
		t.Fatalf("failed to create harness: %v", err)
	}
	defer harness.Close()

	t.Run("Conformance", func(t *testing.T) {
		harness.RunConformanceTests(t)
	})

	t.Run("Acceptance", func(t *testing.T) {
		harness.RunAcceptanceTests(t)
	})
}

// TestConformanceWithFileCache runs the suite on the file cache backend.
func TestConformanceWithFileCache(t *testing.T) {
	harness, err := NewHarness(Config{CacheDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create harness: %v", err)
	}
	defer harness.Close()

	harness.RunConformanceTests(t)
}
