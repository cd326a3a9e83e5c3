package storage

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Writable encodes one record field into its stored representation. The
// configured key/message writable classes resolve against the registry.
type Writable interface {
	Class() string
	Encode(b []byte) []byte
}

type writableFactory func() Writable

var writables = map[string]writableFactory{}

func RegisterWritable(name string, f writableFactory) {
	writables[name] = f
}

func NewWritable(name string) (Writable, error) {
	if f, ok := writables[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("storage: unsupported writable class %q", name)
}

func init() {
	RegisterWritable("bytes", func() Writable { return bytesWritable{} })
	RegisterWritable("text", func() Writable { return textWritable{} })
}

// bytesWritable stores the field verbatim.
type bytesWritable struct{}

func (bytesWritable) Class() string          { return "bytes" }
func (bytesWritable) Encode(b []byte) []byte { return b }

// textWritable stores the field as UTF-8, replacing invalid sequences.
type textWritable struct{}

func (textWritable) Class() string { return "text" }

func (textWritable) Encode(b []byte) []byte {
	if utf8.Valid(b) {
		return b
	}
	return []byte(strings.ToValidUTF8(string(b), string(utf8.RuneError)))
}

/*──────────────────────────── framing ────────────────────────────*/

// Pair is one stored key/message record.
type Pair struct {
	Key     []byte
	Message []byte
}

// writeFrame appends one length-prefixed key/message pair.
func writeFrame(w *bufio.Writer, key, msg []byte) error {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(key)))
	if _, err := w.Write(lenBuf[:n]); err != nil {
		return err
	}
	if _, err := w.Write(key); err != nil {
		return err
	}
	n = binary.PutUvarint(lenBuf[:], uint64(len(msg)))
	if _, err := w.Write(lenBuf[:n]); err != nil {
		return err
	}
	_, err := w.Write(msg)
	return err
}

// readFrame reads one pair, returning io.EOF at a clean end of stream.
func readFrame(r *bufio.Reader) (Pair, error) {
	keyLen, err := binary.ReadUvarint(r)
	if err != nil {
		return Pair{}, err
	}
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return Pair{}, fmt.Errorf("storage: truncated key: %w", err)
	}
	msgLen, err := binary.ReadUvarint(r)
	if err != nil {
		return Pair{}, fmt.Errorf("storage: truncated frame: %w", err)
	}
	msg := make([]byte, msgLen)
	if _, err := io.ReadFull(r, msg); err != nil {
		return Pair{}, fmt.Errorf("storage: truncated message: %w", err)
	}
	return Pair{Key: key, Message: msg}, nil
}
