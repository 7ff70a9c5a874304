package kvs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestListGenerationsSortedAndFiltered(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"3.Error", "1.Error", "2.Error", "not-a-segment.txt", "abc.Error"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("WriteFile(%q) failed: %v", name, err)
		}
	}

	gens, err := listGenerations(dir)
	if err != nil {
		t.Fatalf("listGenerations failed: %v", err)
	}

	want := []uint64{1, 2, 3}
	if len(gens) != len(want) {
		t.Fatalf("expected %v, got %v", want, gens)
	}
	for i, g := range want {
		if gens[i] != g {
			t.Errorf("index %d: expected %d, got %d", i, g, gens[i])
		}
	}
}

func TestNextGeneration(t *testing.T) {
	if got := nextGeneration(nil); got != 1 {
		t.Errorf("expected 1 for an empty store, got %d", got)
	}
	if got := nextGeneration([]uint64{1, 2, 5}); got != 6 {
		t.Errorf("expected 6 after the highest existing generation, got %d", got)
	}
}

func TestSegmentPathRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := segmentPath(dir, 42)
	if filepath.Base(path) != "42.Error" {
		t.Errorf("expected basename 42.Error, got %q", filepath.Base(path))
	}

	gens, err := listGenerations(dir)
	if err != nil {
		t.Fatalf("listGenerations on an empty dir failed: %v", err)
	}
	if len(gens) != 0 {
		t.Errorf("expected no generations before any segment file exists, got %v", gens)
	}
}
