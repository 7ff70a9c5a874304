package kvs

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
)

// writerCore owns the single active segment appends go to, plus the shared
// index every accessor clone reads through. Exactly one writerCore backs a
// store regardless of how many Engine clones exist (spec.md §4.1, §5): all
// mutation and compaction serialize through wc.mu, matching the single
// writer / multiple reader concurrency model.
//
// refs counts live Engine clones sharing this writerCore, starting at 1 for
// the handle Open returns. Clone increments it; Close decrements it and only
// tears down the active segment once the last clone has let go — any one
// clone closing its own reader pool must never invalidate the shared writer
// out from under its siblings.
type writerCore struct {
	dir string
	idx *index
	reg *poolRegistry

	threshold int64
	fsync     bool
	log       *zap.SugaredLogger

	refs atomic.Int64

	mu    sync.Mutex
	gen   uint64
	pw    *positionedWriter
	pool  *readerPool // the writer's own reader pool, used during compaction's rewrite pass
	stale int64       // bytes superseded by later writes since the last compaction (spec.md §4.4)
}

// openWriterCore opens (or creates) the active segment for appends, seeded
// with the store's already-built index and the generation list discovered
// at Open.
func openWriterCore(dir string, idx *index, reg *poolRegistry, gens []uint64, cfg *engineConfig) (*writerCore, error) {
	gen := nextGeneration(gens)

	pw, rf, err := openSegmentFiles(dir, gen)
	if err != nil {
		return nil, err
	}

	pool := newReaderPool(dir)
	pool.install(gen, rf)
	reg.register(pool)

	wc := &writerCore{
		dir:       dir,
		idx:       idx,
		reg:       reg,
		threshold: cfg.compactionThreshold,
		fsync:     cfg.fsync,
		log:       cfg.logger,
		gen:       gen,
		pw:        pw,
		pool:      pool,
	}
	wc.refs.Store(1)
	return wc, nil
}

// set appends a Set command and updates the index to point at it, retiring
// whatever the key previously pointed to as stale (spec.md §4.2).
func (wc *writerCore) set(key, value string) error {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	cmd, err := encodeCommand(setCommand(key, value))
	if err != nil {
		return fmt.Errorf("encode set %q: %w", key, err)
	}

	start := wc.pw.Pos()
	if _, err := wc.pw.Write(cmd); err != nil {
		return ioError(fmt.Errorf("append set %q: %w", key, err))
	}
	if err := wc.flushOrSync(); err != nil {
		return err
	}
	end := wc.pw.Pos()

	wc.idx.mu.Lock()
	if old, ok := wc.idx.entries[key]; ok {
		wc.stale += old.Len
	}
	wc.idx.entries[key] = CommandOffset{Gen: wc.gen, Pos: start, Len: end - start}
	wc.idx.mu.Unlock()

	wc.log.Debugw("set", "key", key, "gen", wc.gen, "pos", start)
	return wc.maybeCompactLocked()
}

// remove appends a Remove command and deletes key from the index. Removing
// an absent key is an error (spec.md §7).
func (wc *writerCore) remove(key string) error {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	wc.idx.mu.RLock()
	old, ok := wc.idx.entries[key]
	wc.idx.mu.RUnlock()
	if !ok {
		return keyNotFoundError(key)
	}

	cmd, err := encodeCommand(removeCommand(key))
	if err != nil {
		return fmt.Errorf("encode remove %q: %w", key, err)
	}

	if _, err := wc.pw.Write(cmd); err != nil {
		return ioError(fmt.Errorf("append remove %q: %w", key, err))
	}
	if err := wc.flushOrSync(); err != nil {
		return err
	}

	wc.idx.mu.Lock()
	delete(wc.idx.entries, key)
	wc.idx.mu.Unlock()

	wc.stale += old.Len
	wc.log.Debugw("remove", "key", key, "gen", wc.gen)
	return wc.maybeCompactLocked()
}

func (wc *writerCore) flushOrSync() error {
	if wc.fsync {
		if err := wc.pw.Flush(); err != nil {
			return ioError(err)
		}
		return ioError(wc.pw.Sync())
	}
	return ioError(wc.pw.Flush())
}

func (wc *writerCore) maybeCompactLocked() error {
	if wc.stale < wc.threshold {
		return nil
	}
	return wc.compactLocked()
}

// compact forces compaction regardless of the stale-byte threshold
// (spec.md §4.4, public Engine.Compact).
func (wc *writerCore) compact() error {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return wc.compactLocked()
}

// compactLocked implements the two-generation compaction protocol
// (spec.md §4.4):
//
//  1. g is the generation active when compaction starts; every live key
//     currently points at a generation <= g.
//  2. Open generation g+1 as the rewrite target and g+2 as the new active
//     segment — so writes that land *during* the rewrite (this goroutine
//     holds wc.mu, so in practice none do, but future callers relying on
//     read concurrency must still see a consistent g+2) never collide with
//     the generation being compacted into.
//  3. Acquire idx.mu for the entire walk-rewrite-retire sequence: the index
//     must never observe an intermediate state where some keys point at the
//     new g+1 segment and others still point at a generation that's about
//     to be unlinked.
//  4. Copy forward, in map iteration order, the current command for every live key
//     whose offset is in a generation <= g, rewriting its index entry to
//     point at the new location in g+1.
//  5. Swap the active segment to g+2, close and unlink every generation
//     <= g, and announce the retirement to every registered reader pool.
//  6. Reset the stale-byte counter.
func (wc *writerCore) compactLocked() error {
	g := wc.gen

	mergePw, mergeRf, err := openSegmentFiles(wc.dir, g+1)
	if err != nil {
		return err
	}
	newPw, newRf, err := openSegmentFiles(wc.dir, g+2)
	if err != nil {
		_ = mergePw.file.Close()
		_ = mergeRf.Close()
		return err
	}

	wc.idx.mu.Lock()
	defer wc.idx.mu.Unlock()

	// Every on-disk segment <= g is retired, not only the ones a surviving
	// key still happens to point into: a generation that lost all its live
	// keys to earlier overwrites still needs unlinking, or it never goes
	// away (spec.md §4.4 step 5, P5 bounded amplification). The set-diff
	// between "all on-disk generations" and "generations still live after
	// g+2" is exactly what mapset is for.
	existingGens, err := listGenerations(wc.dir)
	if err != nil {
		_ = mergePw.file.Close()
		_ = mergeRf.Close()
		_ = newPw.file.Close()
		_ = newRf.Close()
		return ioError(fmt.Errorf("list segments for compaction: %w", err))
	}
	all := mapset.NewThreadUnsafeSet(existingGens...)
	live := mapset.NewThreadUnsafeSet(g+1, g+2)
	retiring := all.Difference(live)

	for key, off := range wc.idx.entries {
		if off.Gen > g {
			continue
		}

		buf := make([]byte, off.Len)
		readErr := wc.pool.read(off.Gen, func(f *os.File) error {
			_, err := f.ReadAt(buf, off.Pos)
			return err
		})
		if readErr != nil {
			_ = mergePw.file.Close()
			_ = mergeRf.Close()
			_ = newPw.file.Close()
			_ = newRf.Close()
			return ioError(fmt.Errorf("compact read key %q at gen %d pos %d: %w", key, off.Gen, off.Pos, readErr))
		}

		start := mergePw.Pos()
		if _, err := mergePw.Write(buf); err != nil {
			_ = mergePw.file.Close()
			_ = mergeRf.Close()
			_ = newPw.file.Close()
			_ = newRf.Close()
			return ioError(fmt.Errorf("compact rewrite key %q: %w", key, err))
		}
		wc.idx.entries[key] = CommandOffset{Gen: g + 1, Pos: start, Len: off.Len}
	}

	if err := mergePw.Flush(); err != nil {
		_ = mergePw.file.Close()
		_ = mergeRf.Close()
		_ = newPw.file.Close()
		_ = newRf.Close()
		return ioError(fmt.Errorf("flush compacted segment %d: %w", g+1, err))
	}

	// The writer's own pool now serves reads of the merge segment it just
	// wrote; the new active segment's read handle is installed the same way.
	wc.pool.install(g+1, mergeRf)
	wc.pool.install(g+2, newRf)

	oldPw := wc.pw
	oldGen := wc.gen
	wc.pw = newPw
	wc.gen = g + 2
	if err := oldPw.file.Close(); err != nil {
		wc.log.Warnw("close superseded active segment", "gen", oldGen, "error", err)
	}

	for _, retiredGen := range retiring.ToSlice() {
		wc.retireGeneration(retiredGen)
	}
	// The merge segment itself (g+1) stays live — it now holds every
	// rewritten key — so it is never retired here, only the generations
	// <= g whose bytes it superseded.

	wc.stale = 0
	wc.log.Infow("compacted", "retired_through", g, "merge_gen", g+1, "new_active_gen", g+2, "keys", len(wc.idx.entries))
	return nil
}

// retireGeneration closes this writer's own handles on gen (if any) and
// unlinks the segment file, then tells every registered reader pool to drop
// its cached handle too.
func (wc *writerCore) retireGeneration(gen uint64) {
	wc.pool.evict(gen)
	if err := os.Remove(segmentPath(wc.dir, gen)); err != nil && !os.IsNotExist(err) {
		wc.log.Warnw("unlink retired segment", "gen", gen, "error", err)
	}
	wc.reg.evictAll(gen)
}

// diskSize sums the size in bytes of every segment file currently on disk
// (spec.md's supplemental DiskSize, see SPEC_FULL.md).
func (wc *writerCore) diskSize() (int64, error) {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	entries, err := os.ReadDir(wc.dir)
	if err != nil {
		return 0, ioError(err)
	}
	var total int64
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

// release drops one clone's claim on this writerCore. Only the clone that
// brings refs to zero actually flushes and closes the active segment: any
// other clone calling Close must not tear down the writer out from under
// siblings still using it (SPEC_FULL.md, Open Question (c)).
func (wc *writerCore) release() error {
	if wc.refs.Add(-1) > 0 {
		return nil
	}

	wc.mu.Lock()
	defer wc.mu.Unlock()

	err := wc.pw.Flush()
	if closeErr := wc.pw.file.Close(); err == nil {
		err = closeErr
	}
	wc.pool.close()
	wc.reg.unregister(wc.pool)
	if err != nil {
		return ioError(err)
	}
	return nil
}
