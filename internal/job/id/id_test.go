package id

import (
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	got := Generate()

	if !strings.HasPrefix(got, "job-") {
		t.Errorf("expected ID to start with 'job-', got %q", got)
	}
	if len(got) <= len("job-") {
		t.Errorf("expected ID to have content after prefix, got %q", got)
	}
}

func TestGenerate_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := Generate()
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}
