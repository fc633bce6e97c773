package artifact

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStoreWriteNamesByChannelTimeAndDigest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	a, err := s.Write("mesh", "obj", []byte("v 0 0 0\n"), at)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	base := filepath.Base(a.Path)
	want := "mesh_20260304050607_" + a.Digest[:8] + ".obj"
	if base != want || len(a.Digest) != 64 || a.Bytes != 8 {
		t.Fatalf("stored %+v, want name %s", a, want)
	}
	b, err := os.ReadFile(a.Path)
	if err != nil || string(b) != "v 0 0 0\n" {
		t.Fatalf("contents %q %v", b, err)
	}

	// same second, different payload
	c, err := s.Write("mesh", "obj", []byte("v 1 1 1\n"), at)
	if err != nil || c.Path == a.Path {
		t.Fatalf("collision: %v %s", err, c.Path)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Fatalf("want 2 files, got %d", len(entries))
	}
}
