// Package kvs implements an embeddable, log-structured key/value store in
// the Bitcask family: appends go to a single active segment, lookups are
// served through an in-memory index of (generation, offset, length)
// triples, and a background-free, threshold-triggered compaction keeps
// superseded records from growing the store without bound.
package kvs

import (
	"bytes"
	"fmt"
	"os"

	"github.com/zeebo/xxh3"
	"go.uber.org/zap"
)

// Engine is the interface a store exposes; a second, alternative engine can
// be dropped in behind it without touching callers (SPEC_FULL.md domain
// stack, modeled on the original implementation's engine trait). It covers
// Get, Set and Remove (opening is the package-level Open function) plus
// Compact, and Clone/Close for the accessor lifecycle; DiskSize is a
// supplemental DefaultEngine-only operation, not part of this contract.
type Engine interface {
	Set(key, value string) error
	Get(key string) (string, bool, error)
	Remove(key string) error
	Compact() error
	Clone() Engine
	Close() error
}

// DefaultEngine is the reference log-structured Engine implementation.
// Every clone shares the same writerCore and index but owns an independent
// readerPool, so concurrent readers never contend on a file cursor
// (spec.md §4.5, §5).
type DefaultEngine struct {
	dir  string
	idx  *index
	reg  *poolRegistry
	wc   *writerCore
	pool *readerPool
	log  *zap.SugaredLogger
}

var _ Engine = (*DefaultEngine)(nil)

// Open opens (creating if necessary) a store rooted at path, replaying
// every existing segment into a fresh index before accepting writes
// (spec.md §4.7). A segment that ends mid-record is a fatal error: this
// engine does not attempt silent truncation recovery.
func Open(path string, opts ...Option) (*DefaultEngine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	dir, err := segmentDir(path)
	if err != nil {
		return nil, ioError(err)
	}

	gens, err := listGenerations(dir)
	if err != nil {
		return nil, ioError(err)
	}

	idx := newIndex()
	for _, gen := range gens {
		if err := replaySegment(dir, gen, idx); err != nil {
			return nil, corruptionError(err)
		}
	}

	reg := newPoolRegistry()
	wc, err := openWriterCore(dir, idx, reg, gens, cfg)
	if err != nil {
		return nil, err
	}

	pool := newReaderPool(dir)
	reg.register(pool)

	cfg.logger.Infow("opened store", "path", path, "segments", len(gens), "keys", idx.len())

	return &DefaultEngine{dir: dir, idx: idx, reg: reg, wc: wc, pool: pool, log: cfg.logger}, nil
}

// Set inserts or overwrites key's value (spec.md §4.2).
func (e *DefaultEngine) Set(key, value string) error {
	return e.wc.set(key, value)
}

// Get looks up key. A missing key is reported via the bool, not an error
// (spec.md §7). A Corruption error means the index pointed at bytes that
// did not decode as the Set the index recorded.
func (e *DefaultEngine) Get(key string) (string, bool, error) {
	// The index stays read-locked until the record has been read, so a
	// compaction (which holds it exclusively while unlinking segments)
	// cannot retire the referenced segment in between.
	e.idx.mu.RLock()
	defer e.idx.mu.RUnlock()
	off, ok := e.idx.entries[key]
	if !ok {
		return "", false, nil
	}

	buf := make([]byte, off.Len)
	err := e.pool.read(off.Gen, func(f *os.File) error {
		_, err := f.ReadAt(buf, off.Pos)
		return err
	})
	if err != nil {
		return "", false, ioError(fmt.Errorf("read key %q at gen %d pos %d: %w", key, off.Gen, off.Pos, err))
	}

	scanner := newCommandScanner(bytes.NewReader(buf))
	cmd, _, _, err := scanner.next()
	if err != nil {
		fp := xxh3.Hash(buf)
		e.log.Errorw("corrupt record", "key", key, "gen", off.Gen, "pos", off.Pos, "fingerprint", fp)
		return "", false, corruptionError(fmt.Errorf("decode key %q at gen %d pos %d (fingerprint %x): %w", key, off.Gen, off.Pos, fp, err))
	}
	if cmd.Kind != kindSet || cmd.Key != key {
		fp := xxh3.Hash(buf)
		e.log.Errorw("index/log mismatch", "key", key, "gen", off.Gen, "pos", off.Pos, "fingerprint", fp)
		return "", false, corruptionError(fmt.Errorf("index/log mismatch for key %q at gen %d pos %d (fingerprint %x)", key, off.Gen, off.Pos, fp))
	}

	return cmd.Value, true, nil
}

// Remove deletes key. Removing an absent key is a KindKeyNotFound error
// (spec.md §7).
func (e *DefaultEngine) Remove(key string) error {
	return e.wc.remove(key)
}

// Compact forces an immediate compaction regardless of the stale-byte
// threshold (spec.md §4.4).
func (e *DefaultEngine) Compact() error {
	return e.wc.compact()
}

// DiskSize reports the total bytes currently occupied by segment files,
// including not-yet-compacted stale records (a supplemental operation,
// see SPEC_FULL.md).
func (e *DefaultEngine) DiskSize() (int64, error) {
	return e.wc.diskSize()
}

// Clone returns an independent accessor sharing this store's writer and
// index but with its own reader pool, safe to hand to another goroutine
// (spec.md §5).
func (e *DefaultEngine) Clone() Engine {
	e.wc.refs.Add(1)
	pool := newReaderPool(e.dir)
	e.reg.register(pool)
	return &DefaultEngine{dir: e.dir, idx: e.idx, reg: e.reg, wc: e.wc, pool: pool, log: e.log}
}

// Close releases this clone's own reader pool. The shared writer and its
// active segment are only flushed and closed once every clone descended
// from the same Open call has done the same (SPEC_FULL.md Open Question
// (c)) — closing one clone must never invalidate reads or writes still in
// flight on a sibling.
func (e *DefaultEngine) Close() error {
	e.pool.close()
	e.reg.unregister(e.pool)
	return e.wc.release()
}
