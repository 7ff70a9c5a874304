package kvs

import (
	"os"
	"testing"
)

// setupTempStore opens a store rooted at a fresh temp directory, registering
// cleanup so the caller doesn't have to.
func setupTempStore(tb testing.TB, opts ...Option) (store *DefaultEngine, path string) {
	tb.Helper()

	path, err := os.MkdirTemp("", "kvs_test_*")
	if err != nil {
		tb.Fatalf("MkdirTemp failed: %v", err)
	}

	store, err = Open(path, opts...)
	if err != nil {
		_ = os.RemoveAll(path)
		tb.Fatalf("Open(%q) failed: %v", path, err)
	}

	tb.Cleanup(func() {
		_ = store.Close()
		_ = os.RemoveAll(path)
	})

	return store, path
}
