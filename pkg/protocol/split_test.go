package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func join(chunks []Chunk) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c.Data...)
	}
	return out
}

func TestSplitConcatenationAndNumbering(t *testing.T) {
	data := []byte("v 1 2 3\nv 4 5 6\nv 7 8 9\nf 1 2 3\n")
	for _, k := range []int{1, 3, 8, 9, 16, 100} {
		for _, aligned := range []bool{false, true} {
			chunks, err := Split(data, k, aligned)
			if err != nil {
				t.Fatalf("split k=%d: %v", k, err)
			}
			if !bytes.Equal(join(chunks), data) {
				t.Fatalf("k=%d aligned=%v: concatenation mismatch", k, aligned)
			}
			for i, c := range chunks {
				if c.SequenceNumber != int32(i) {
					t.Fatalf("k=%d: seq %d at index %d", k, c.SequenceNumber, i)
				}
				if c.TotalChunks != int32(len(chunks)) {
					t.Fatalf("k=%d: total %d want %d", k, c.TotalChunks, len(chunks))
				}
				if len(c.Data) > k {
					t.Fatalf("k=%d: chunk of %d bytes", k, len(c.Data))
				}
			}
			if !chunks[len(chunks)-1].IsLast() {
				t.Fatalf("k=%d: last chunk not flagged", k)
			}
		}
	}
}

func TestSplitWithoutTerminatorsYieldsCeilChunks(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 1000)
	chunks, err := Split(data, 128, true)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(chunks) != 8 {
		t.Fatalf("want 8 chunks, got %d", len(chunks))
	}
	if len(chunks[7].Data) != 1000-7*128 {
		t.Fatalf("tail size %d", len(chunks[7].Data))
	}
}

func TestSplitLineAlignedBoundaries(t *testing.T) {
	data := []byte("aaaa\nbb\ncccccc\n")
	chunks, err := Split(data, 7, true)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	want := []string{"aaaa\n", "bb\n", "cccccc\n"}
	if len(chunks) != len(want) {
		t.Fatalf("want %d chunks, got %d", len(want), len(chunks))
	}
	for i, w := range want {
		if string(chunks[i].Data) != w {
			t.Fatalf("chunk %d = %q want %q", i, chunks[i].Data, w)
		}
	}
}

func TestSplitFinalPieceNotWalkedBack(t *testing.T) {
	chunks, err := Split([]byte("ab\ncd"), 8, true)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(chunks) != 1 || string(chunks[0].Data) != "ab\ncd" {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
}

func TestSplitEdgeCases(t *testing.T) {
	chunks, err := Split(nil, 4, false)
	if err != nil || len(chunks) != 0 {
		t.Fatalf("empty input: %v %d", err, len(chunks))
	}
	if _, err := Split([]byte("x"), 0, false); !errors.Is(err, ErrInvalidChunkSize) {
		t.Fatalf("want ErrInvalidChunkSize, got %v", err)
	}
	data := []byte("abcd")
	chunks, _ = Split(data, 2, false)
	data[0] = 'z'
	if chunks[0].Data[0] != 'a' {
		t.Fatalf("chunk aliases input buffer")
	}
}
