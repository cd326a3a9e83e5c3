package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Decoder turns raw topic bytes into the configured typed view. Class names
// the produced type and is cross-checked against the configured
// key/message class at construction time.
type Decoder interface {
	Class() string
	Decode(b []byte) (any, error)
}

type decoderFactory func() Decoder

var decoders = map[string]decoderFactory{}

func RegisterDecoder(name string, f decoderFactory) {
	decoders[name] = f
}

func NewDecoder(name string) (Decoder, error) {
	if f, ok := decoders[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("kafka: unsupported decoder %q", name)
}

// ValidateDecoder resolves a decoder by name and checks that it produces
// the declared class. Used for fail-fast validation before any connection
// is made.
func ValidateDecoder(decoderName, class string) error {
	d, err := NewDecoder(decoderName)
	if err != nil {
		return err
	}
	if d.Class() != class {
		return fmt.Errorf("kafka: decoder %q produces %q, configured class is %q",
			decoderName, d.Class(), class)
	}
	return nil
}

func init() {
	RegisterDecoder("string", func() Decoder { return stringDecoder{} })
	RegisterDecoder("bytes", func() Decoder { return bytesDecoder{} })
	RegisterDecoder("int64", func() Decoder { return int64Decoder{} })
	RegisterDecoder("json", func() Decoder { return jsonDecoder{} })
}

type stringDecoder struct{}

func (stringDecoder) Class() string { return "string" }
func (stringDecoder) Decode(b []byte) (any, error) {
	return string(b), nil
}

type bytesDecoder struct{}

func (bytesDecoder) Class() string { return "bytes" }
func (bytesDecoder) Decode(b []byte) (any, error) {
	return b, nil
}

type int64Decoder struct{}

func (int64Decoder) Class() string { return "int64" }
func (int64Decoder) Decode(b []byte) (any, error) {
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("kafka: int64 decode: %w", err)
	}
	return v, nil
}

type jsonDecoder struct{}

func (jsonDecoder) Class() string { return "json" }
func (jsonDecoder) Decode(b []byte) (any, error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("kafka: json decode: %w", err)
	}
	return v, nil
}
