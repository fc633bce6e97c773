package compress

import (
	"bytes"
	"strings"
	"testing"
)

func TestTagParseAndString(t *testing.T) {
	for _, name := range []string{"none", "lz4", "zstd"} {
		tag, err := ParseTag(name)
		if err != nil {
			t.Fatalf("ParseTag(%q): %v", name, err)
		}
		if tag.String() != name {
			t.Errorf("roundtrip: %q -> %q", name, tag.String())
		}
	}
	if tag, err := ParseTag(""); err != nil || tag != None {
		t.Fatalf("empty name: %v %v", tag, err)
	}
	if _, err := ParseTag("gzip"); err == nil {
		t.Fatalf("gzip accepted")
	}
	if Tag(9).String() != "unknown(9)" {
		t.Fatalf("unknown tag name")
	}
}

func TestRoundTrip(t *testing.T) {
	data := []byte(strings.Repeat("v 0.125 1.5 -2.25\n", 4000))
	for _, tag := range []Tag{None, LZ4, Zstd} {
		t.Run(tag.String(), func(t *testing.T) {
			enc, err := Compress(tag, data)
			if err != nil {
				t.Fatalf("compress: %v", err)
			}
			if tag != None && len(enc) >= len(data) {
				t.Fatalf("no size reduction: %d >= %d", len(enc), len(data))
			}
			dec, err := Decompress(tag, enc)
			if err != nil {
				t.Fatalf("decompress: %v", err)
			}
			if !bytes.Equal(dec, data) {
				t.Fatalf("roundtrip mismatch")
			}
		})
	}
}

func TestDecompressGarbage(t *testing.T) {
	for _, tag := range []Tag{LZ4, Zstd} {
		if _, err := Decompress(tag, []byte("definitely not compressed")); err == nil {
			t.Fatalf("%s: garbage accepted", tag)
		}
	}
}
