package storage

import (
	"bufio"
	"bytes"
	"io"
	"testing"
	"unicode/utf8"
)

func TestWritables_Builtin(t *testing.T) {
	b, err := NewWritable("bytes")
	if err != nil {
		t.Fatalf("bytes: %v", err)
	}
	raw := []byte{0x00, 0xff, 0x10}
	if !bytes.Equal(b.Encode(raw), raw) {
		t.Fatal("bytes writable must be identity")
	}

	txt, err := NewWritable("text")
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	if got := txt.Encode([]byte("héllo")); string(got) != "héllo" {
		t.Fatalf("valid utf8 altered: %q", got)
	}
	if got := txt.Encode([]byte{0xff, 0xfe}); !utf8.Valid(got) {
		t.Fatalf("invalid utf8 not sanitized: %q", got)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	pairs := []Pair{
		{Key: []byte("k1"), Message: []byte("m1")},
		{Key: nil, Message: []byte("empty key")},
		{Key: []byte("k3"), Message: nil},
	}
	for _, p := range pairs {
		if err := writeFrame(bw, p.Key, p.Message); err != nil {
			t.Fatalf("writeFrame: %v", err)
		}
	}
	if err := bw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	br := bufio.NewReader(&buf)
	for i, want := range pairs {
		got, err := readFrame(br)
		if err != nil {
			t.Fatalf("readFrame %d: %v", i, err)
		}
		if string(got.Key) != string(want.Key) || string(got.Message) != string(want.Message) {
			t.Fatalf("frame %d mismatch: %+v", i, got)
		}
	}
	if _, err := readFrame(br); err != io.EOF {
		t.Fatalf("want clean EOF, got %v", err)
	}
}

func TestReadFrame_Truncated(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	if err := writeFrame(bw, []byte("key"), []byte("message")); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	_ = bw.Flush()
	cut := buf.Bytes()[:buf.Len()-3]

	br := bufio.NewReader(bytes.NewReader(cut))
	if _, err := readFrame(br); err == nil || err == io.EOF {
		t.Fatalf("want truncation error, got %v", err)
	}
}
