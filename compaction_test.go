package kvs

import (
	"fmt"
	"testing"
)

func TestCompactionReclaimsStaleBytes(t *testing.T) {
	store, _ := setupTempStore(t, WithCompactionThreshold(256))

	for i := 0; i < 200; i++ {
		if err := store.Set("key", fmt.Sprintf("value-%d", i)); err != nil {
			t.Fatalf("Set failed at i=%d: %v", i, err)
		}
	}

	sizeBefore, err := store.DiskSize()
	if err != nil {
		t.Fatalf("DiskSize failed: %v", err)
	}

	if err := store.Compact(); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}

	sizeAfter, err := store.DiskSize()
	if err != nil {
		t.Fatalf("DiskSize failed: %v", err)
	}
	if sizeAfter >= sizeBefore {
		t.Errorf("expected Compact to shrink disk usage, before=%d after=%d", sizeBefore, sizeAfter)
	}

	val, ok, err := store.Get("key")
	if err != nil || !ok || val != "value-199" {
		t.Errorf("expected key=value-199 after compaction, got %q ok=%v err=%v", val, ok, err)
	}
}

func TestCompactionPreservesAllLiveKeys(t *testing.T) {
	store, _ := setupTempStore(t, WithCompactionThreshold(256))

	want := make(map[string]string)
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key-%d", i%10)
		value := fmt.Sprintf("value-%d", i)
		if err := store.Set(key, value); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		want[key] = value
	}
	if err := store.Remove("key-5"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	delete(want, "key-5")

	if err := store.Compact(); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}

	for key, value := range want {
		got, ok, err := store.Get(key)
		if err != nil || !ok || got != value {
			t.Errorf("key %q: expected %q, got %q ok=%v err=%v", key, value, got, ok, err)
		}
	}

	if _, ok, err := store.Get("key-5"); err != nil || ok {
		t.Errorf("expected key-5 to stay removed after compaction, ok=%v err=%v", ok, err)
	}
}

func TestAutomaticCompactionIsIdempotent(t *testing.T) {
	store, _ := setupTempStore(t, WithCompactionThreshold(128))

	for i := 0; i < 50; i++ {
		if err := store.Set("only-key", fmt.Sprintf("value-%d", i)); err != nil {
			t.Fatalf("Set failed at i=%d: %v", i, err)
		}
	}

	if err := store.Compact(); err != nil {
		t.Fatalf("first Compact failed: %v", err)
	}
	if err := store.Compact(); err != nil {
		t.Fatalf("second, redundant Compact failed: %v", err)
	}

	val, ok, err := store.Get("only-key")
	if err != nil || !ok || val != "value-49" {
		t.Errorf("expected only-key=value-49, got %q ok=%v err=%v", val, ok, err)
	}
}

func TestCompactionAcrossReopen(t *testing.T) {
	store, path := setupTempStore(t, WithCompactionThreshold(256))

	for i := 0; i < 200; i++ {
		if err := store.Set("key", fmt.Sprintf("value-%d", i)); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	if err := store.Compact(); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(path, WithCompactionThreshold(256))
	if err != nil {
		t.Fatalf("reopen after compaction failed: %v", err)
	}
	defer reopened.Close()

	val, ok, err := reopened.Get("key")
	if err != nil || !ok || val != "value-199" {
		t.Errorf("expected key=value-199 after reopen, got %q ok=%v err=%v", val, ok, err)
	}
}
