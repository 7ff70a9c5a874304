package kvs

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// positionedWriter is a buffered append-only writer that tracks the current
// byte offset of the underlying file. Segments are append-only, so pos only
// ever moves forward (spec.md §4.3).
type positionedWriter struct {
	file *os.File
	buf  *bufio.Writer
	pos  int64
}

// newPositionedWriter seeks to end-of-file and records that offset as the
// initial pos.
func newPositionedWriter(file *os.File) (*positionedWriter, error) {
	pos, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("seek to end: %w", err)
	}
	return &positionedWriter{file: file, buf: bufio.NewWriter(file), pos: pos}, nil
}

// Write appends p, advancing pos by the number of bytes accepted into the
// buffer.
func (w *positionedWriter) Write(p []byte) (int, error) {
	n, err := w.buf.Write(p)
	w.pos += int64(n)
	return n, err
}

// Flush forwards buffered bytes to the OS. This is not an fsync — durability
// beyond the OS page cache is not guaranteed (spec.md §9(b)).
func (w *positionedWriter) Flush() error {
	return w.buf.Flush()
}

// Sync additionally forces the OS to write the file through to stable
// storage. Only invoked when an Engine is opened WithFsync(true).
func (w *positionedWriter) Sync() error {
	return w.file.Sync()
}

// Seek resyncs pos after flushing any buffered bytes. Because segments are
// append-only, callers only use this to reconfirm end-of-file.
func (w *positionedWriter) Seek(offset int64, whence int) (int64, error) {
	if err := w.buf.Flush(); err != nil {
		return 0, err
	}
	pos, err := w.file.Seek(offset, whence)
	if err != nil {
		return 0, err
	}
	w.pos = pos
	return pos, nil
}

// Pos reports the current append offset.
func (w *positionedWriter) Pos() int64 {
	return w.pos
}

// openSegmentFiles creates generation gen's file (or opens it if it already
// exists) with read+write+create access, returning a positioned writer and
// an independent read handle on the same file with its own cursor
// (spec.md §4.3).
func openSegmentFiles(dir string, gen uint64) (*positionedWriter, *os.File, error) {
	path := segmentPath(dir, gen)

	wf, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open segment %d for write: %w", gen, err)
	}

	pw, err := newPositionedWriter(wf)
	if err != nil {
		_ = wf.Close()
		return nil, nil, err
	}

	rf, err := os.OpenFile(path, os.O_RDONLY, 0o644)
	if err != nil {
		_ = wf.Close()
		return nil, nil, fmt.Errorf("open segment %d for read: %w", gen, err)
	}

	return pw, rf, nil
}
