package kvs

import (
	"fmt"
	"io"
	"os"
)

// replaySegment scans one segment in full, applying every Set/Remove it
// contains to idx in order (spec.md §4.7). It is only ever called during
// Open, before idx is shared with any other goroutine, so it reaches into
// idx.entries directly rather than taking idx.mu.
//
// Any decode error — including a truncated record at the tail of the
// newest segment — is fatal: this spec does not attempt silent truncation
// recovery (spec.md §4.7, §9).
func replaySegment(dir string, gen uint64, idx *index) error {
	f, err := os.OpenFile(segmentPath(dir, gen), os.O_RDONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open segment %d: %w", gen, err)
	}
	defer f.Close()

	scanner := newCommandScanner(f)
	for {
		cmd, start, end, err := scanner.next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("segment %d offset %d: %w", gen, start, err)
		}

		switch cmd.Kind {
		case kindSet:
			idx.entries[cmd.Key] = CommandOffset{Gen: gen, Pos: start, Len: end - start}
		case kindRemove:
			delete(idx.entries, cmd.Key)
		default:
			return fmt.Errorf("segment %d offset %d: unrecognized command kind %d", gen, start, cmd.Kind)
		}
	}
}
