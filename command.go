package kvs

import (
	"encoding/json"
	"io"
)

// commandKind tags which of the two command shapes was decoded.
type commandKind uint8

const (
	kindSet commandKind = iota
	kindRemove
)

// command is the wire record for a single mutation. Exactly one of Set or
// Remove applies at a time; Kind disambiguates. Encoded as a single
// canonical JSON object with no trailing separator, so consecutive records
// concatenate in a segment with no bytes between them (spec.md §3, §6).
type command struct {
	Kind  commandKind `json:"kind"`
	Key   string      `json:"key"`
	Value string      `json:"value,omitempty"`
}

func setCommand(key, value string) command {
	return command{Kind: kindSet, Key: key, Value: value}
}

func removeCommand(key string) command {
	return command{Kind: kindRemove, Key: key}
}

// encodeCommand renders cmd as the exact bytes that belong on disk: a bare
// JSON object, no leading/trailing whitespace or newline.
func encodeCommand(cmd command) ([]byte, error) {
	return json.Marshal(cmd)
}

// commandScanner streams commands out of a segment, reporting the exact
// byte range each one occupied so the caller can build a CommandOffset.
type commandScanner struct {
	dec *json.Decoder
}

func newCommandScanner(r io.Reader) *commandScanner {
	return &commandScanner{dec: json.NewDecoder(r)}
}

// next decodes the next command. io.EOF means a clean end of stream: no
// partial bytes remain. Any other error means the stream ended mid-record,
// which spec.md §4.7 treats as a fatal corruption, not silent truncation.
func (s *commandScanner) next() (cmd command, start, end int64, err error) {
	start = s.dec.InputOffset()
	if !s.dec.More() {
		return command{}, start, start, io.EOF
	}
	if err = s.dec.Decode(&cmd); err != nil {
		return command{}, start, start, err
	}
	end = s.dec.InputOffset()
	return cmd, start, end, nil
}
