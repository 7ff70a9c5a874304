package kvs

import (
	"fmt"
	"os"
	"sync"
)

// readerPool is a per-accessor cache of open segment file handles, used for
// random reads. Each Engine clone owns an independent pool (spec.md §4.5,
// §5) so no two threads contend on file-position cursors. The mutex here
// guards the writer evicting retired generations from every pool
// (poolRegistry.evictAll) while the owning clone reads, as well as the
// (unsupported but safe) case of one clone being shared across goroutines
// without being cloned first.
//
// Reads go through ReadAt rather than Seek+Read, so entries never need to
// coordinate a shared cursor even when a handle is reused concurrently.
type readerPool struct {
	dir string

	mu      sync.Mutex
	readers map[uint64]*os.File
}

func newReaderPool(dir string) *readerPool {
	return &readerPool{dir: dir, readers: make(map[uint64]*os.File)}
}

// install inserts a prebuilt reader for gen, used by the writer when it
// already has an open handle to hand off from segment creation.
func (p *readerPool) install(gen uint64, f *os.File) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.readers[gen]; ok && old != f {
		_ = old.Close()
	}
	p.readers[gen] = f
}

// evict closes and drops the reader for gen, if this pool has one open.
// Safe to call even if gen was never opened here.
func (p *readerPool) evict(gen uint64) {
	p.mu.Lock()
	f, ok := p.readers[gen]
	delete(p.readers, gen)
	p.mu.Unlock()
	if ok {
		_ = f.Close()
	}
}

// read ensures a reader for gen exists, opening it lazily if necessary, and
// invokes fn with it.
func (p *readerPool) read(gen uint64, fn func(*os.File) error) error {
	p.mu.Lock()
	f, ok := p.readers[gen]
	if !ok {
		var err error
		f, err = os.OpenFile(segmentPath(p.dir, gen), os.O_RDONLY, 0o644)
		if err != nil {
			p.mu.Unlock()
			return fmt.Errorf("open segment %d: %w", gen, err)
		}
		p.readers[gen] = f
	}
	p.mu.Unlock()

	return fn(f)
}

// close closes every handle currently cached by this pool.
func (p *readerPool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for gen, f := range p.readers {
		_ = f.Close()
		delete(p.readers, gen)
	}
}

// poolRegistry tracks every reader pool belonging to a live clone of one
// Engine, so the writer can announce segment retirement to all of them
// (spec.md §3 "Reader Pool entries ... removed when the Writer announces
// retirement of a segment").
type poolRegistry struct {
	mu    sync.Mutex
	pools map[*readerPool]struct{}
}

func newPoolRegistry() *poolRegistry {
	return &poolRegistry{pools: make(map[*readerPool]struct{})}
}

func (r *poolRegistry) register(p *readerPool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools[p] = struct{}{}
}

func (r *poolRegistry) unregister(p *readerPool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pools, p)
}

// evictAll asks every registered pool to drop its (independently opened)
// reader for gen, if it has one.
func (r *poolRegistry) evictAll(gen uint64) {
	r.mu.Lock()
	pools := make([]*readerPool, 0, len(r.pools))
	for p := range r.pools {
		pools = append(pools, p)
	}
	r.mu.Unlock()

	for _, p := range pools {
		p.evict(gen)
	}
}
