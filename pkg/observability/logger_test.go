package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"holobridge/pkg/config"
)

func TestNewLoggerWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "sink.log")
	l, err := NewLogger(config.LogConfig{Level: "debug", Format: "json", Outputs: []string{path}})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	l.Debug("artifact complete")
	_ = l.Sync()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(b), `"msg":"artifact complete"`) {
		t.Fatalf("log line %q", b)
	}
}

func TestNewLoggerRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rot.log")
	l, err := NewLogger(config.LogConfig{
		Level:    "warning",
		Outputs:  []string{"ignored.log"},
		Rotation: config.RotationConfig{Enable: true, Filename: path},
	})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	l.Info("below level")
	l.Warn("kept")
	_ = l.Sync()
	b, _ := os.ReadFile(path)
	if strings.Contains(string(b), "below level") || !strings.Contains(string(b), "kept") {
		t.Fatalf("log contents %q", b)
	}
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	if _, err := NewLogger(config.LogConfig{Level: "loud"}); err == nil {
		t.Fatalf("bad level accepted")
	}
}
