package kafka

import "testing"

func TestDecoders_Builtin(t *testing.T) {
	cases := []struct {
		name  string
		class string
		in    string
		want  any
	}{
		{"string", "string", "hello", "hello"},
		{"int64", "int64", "-12", int64(-12)},
		{"json", "json", `{"a":1}`, nil}, // shape checked below
	}
	for _, tc := range cases {
		d, err := NewDecoder(tc.name)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if d.Class() != tc.class {
			t.Fatalf("%s: class %q", tc.name, d.Class())
		}
		got, err := d.Decode([]byte(tc.in))
		if err != nil {
			t.Fatalf("%s: decode: %v", tc.name, err)
		}
		if tc.want != nil && got != tc.want {
			t.Fatalf("%s: got %#v", tc.name, got)
		}
	}

	d, _ := NewDecoder("json")
	got, err := d.Decode([]byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	m, ok := got.(map[string]any)
	if !ok || m["a"] != float64(1) {
		t.Fatalf("json view: %#v", got)
	}
}

func TestNewDecoder_Unknown(t *testing.T) {
	if _, err := NewDecoder("avro"); err == nil {
		t.Fatal("want error for unknown decoder")
	}
}

func TestValidateDecoder(t *testing.T) {
	if err := ValidateDecoder("string", "string"); err != nil {
		t.Fatalf("matching class: %v", err)
	}
	if err := ValidateDecoder("string", "int64"); err == nil {
		t.Fatal("want class mismatch error")
	}
	if err := ValidateDecoder("missing", "string"); err == nil {
		t.Fatal("want unknown decoder error")
	}
}
