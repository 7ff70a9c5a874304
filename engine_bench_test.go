package kvs

import (
	"fmt"
	"testing"
)

func Benchmark_Get(b *testing.B) {
	store, _ := setupTempStore(b)

	for i := 0; i < 10000; i++ {
		key := fmt.Sprintf("k%04d", i)
		_ = store.Set(key, "v")
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := store.Get("k0050"); err != nil {
			b.Fatalf("Get: %v", err)
		}
	}
}

func Benchmark_Set(b *testing.B) {
	store, _ := setupTempStore(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("k%04d", i%10000)
		if err := store.Set(key, "value"); err != nil {
			b.Fatalf("Set: %v", err)
		}
	}
}

func Benchmark_Fsync_Set(b *testing.B) {
	store, _ := setupTempStore(b, WithFsync(true))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("k%04d", i%10000)
		if err := store.Set(key, "value"); err != nil {
			b.Fatalf("Set: %v", err)
		}
	}
}
