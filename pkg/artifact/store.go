// Package artifact stores received artifacts on disk under content-derived
// names.
package artifact

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

// MergedOBJHeader opens every merged mesh file.
const MergedOBJHeader = "# Merged OBJ File\n"

// Stored describes one artifact written to disk.
type Stored struct {
	Channel string
	Path    string
	Digest  string // hex blake3-256
	Bytes   int
	Merged  bool
	Parts   int
}

// Store writes artifacts as <channel>_<yyyyMMddHHmmss>_<digest8>.<ext>
// under one directory.
type Store struct {
	dir string
	log *zap.Logger
}

// NewStore creates dir if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: output dir: %w", err)
	}
	return &Store{dir: dir, log: zap.L().With(zap.String("component", "artifact-store"))}, nil
}

func (s *Store) Dir() string { return s.dir }

// Write stores data atomically and returns where it went.
func (s *Store) Write(channel, ext string, data []byte, at time.Time) (Stored, error) {
	sum := blake3.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	name := fmt.Sprintf("%s_%s_%s.%s", channel, at.UTC().Format("20060102150405"), digest[:8], ext)
	path := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, ".incoming-*")
	if err != nil {
		return Stored{}, fmt.Errorf("artifact: create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return Stored{}, fmt.Errorf("artifact: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return Stored{}, fmt.Errorf("artifact: close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return Stored{}, fmt.Errorf("artifact: rename %s: %w", name, err)
	}
	s.log.Info("artifact stored", zap.String("path", path), zap.Int("bytes", len(data)), zap.String("blake3", digest))
	return Stored{Channel: channel, Path: path, Digest: digest, Bytes: len(data)}, nil
}
