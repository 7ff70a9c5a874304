package kvs

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	mapset "github.com/deckarep/golang-set/v2"
)

// segmentDirName is the fixed subdirectory holding every segment file
// (spec.md §6): <path>/kvs.db/.
const segmentDirName = "kvs.db"

// segmentExt is an inherited on-disk naming artefact from the reference
// implementation this engine stays wire-compatible with (spec.md §9).
const segmentExt = "Error"

var segmentFilePattern = regexp.MustCompile(`^(\d+)\.` + segmentExt + `$`)

// segmentDir returns <root>/kvs.db, creating it if it doesn't exist yet.
func segmentDir(root string) (string, error) {
	dir := filepath.Join(root, segmentDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}
	return dir, nil
}

// segmentPath forms the deterministic on-disk path for generation gen.
func segmentPath(dir string, gen uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.%s", gen, segmentExt))
}

// listGenerations enumerates the store directory, keeping regular files
// that match <gen>.Error and parse as a positive uint64, and returns their
// generations in ascending order. Anything else is skipped silently
// (spec.md §4.2).
func listGenerations(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}

	seen := mapset.NewThreadUnsafeSet[uint64]()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := segmentFilePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		gen, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil || gen == 0 {
			continue
		}
		seen.Add(gen)
	}

	gens := seen.ToSlice()
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })
	return gens, nil
}

// nextGeneration returns the generation the writer should open for new
// appends: one past the highest existing generation, or 1 when none exist.
func nextGeneration(gens []uint64) uint64 {
	if len(gens) == 0 {
		return 1
	}
	return gens[len(gens)-1] + 1
}
