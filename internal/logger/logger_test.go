package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// initFileLogger points the global logger at a fresh file and restores the
// no-op logger when the test ends.
func initFileLogger(t *testing.T, level string, maxSizeMB int) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "logger_test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "terrain.log")
	if err := InitWithFileConfig(level, FileConfig{Path: path, MaxSizeMB: maxSizeMB, MaxBackups: 2}, false); err != nil {
		t.Fatalf("InitWithFileConfig() error = %v", err)
	}
	t.Cleanup(func() {
		Sync()
		Log = zap.NewNop()
		Sugar = Log.Sugar()
	})
	return path
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	Sync()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	return string(content)
}

func TestTileLogRotation(t *testing.T) {
	path := initFileLogger(t, "debug", 1)

	// roughly 4MB of load messages against a 1MB limit
	heights := strings.Repeat("h", 200)
	tiles := Named("group")
	for i := range 15000 {
		tiles.Debug("tile loaded", zap.Int("slot", i), zap.String("heights", heights))
	}
	Sync()

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("failed to read log dir: %v", err)
	}
	rotated := 0
	for _, e := range entries {
		name := e.Name()
		if name == "terrain.log" || !strings.HasPrefix(name, "terrain-") {
			continue
		}
		rotated++
		if !strings.Contains(name, "-20") {
			t.Errorf("rotated file %s has no timestamp", name)
		}
	}
	if rotated == 0 {
		t.Error("expected at least one rotated file")
	}
}

func TestComponentLevels(t *testing.T) {
	// one message per component, from the most to the least verbose level
	emit := func() {
		Named("tasks").Debug("request queued")
		Named("terrain").Info("terrain prepared")
		Named("group").Warn("work queue closed with loads in flight")
		Named("store").Error("tile write failed")
	}
	messages := []string{"request queued", "terrain prepared", "work queue closed", "tile write failed"}

	tests := []struct {
		level string
		first int // index of the first message that gets through
	}{
		{"debug", 0},
		{"info", 1},
		{"", 1},
		{"warn", 2},
		{"error", 3},
	}
	for _, tt := range tests {
		t.Run("level="+tt.level, func(t *testing.T) {
			path := initFileLogger(t, tt.level, 10)
			emit()
			content := readLog(t, path)
			for i, msg := range messages {
				if got, want := strings.Contains(content, msg), i >= tt.first; got != want {
					t.Errorf("%q logged = %v, want %v", msg, got, want)
				}
			}
		})
	}
}

func TestNamedLoggerCarriesFields(t *testing.T) {
	path := initFileLogger(t, "info", 1)

	Named("group").Info("tile loaded", zap.Int64("slot_x", -1), zap.Int64("slot_y", 2))
	content := readLog(t, path)

	for _, want := range []string{"INFO", "group", "tile loaded", `"slot_x"`, `"slot_y"`} {
		if !strings.Contains(content, want) {
			t.Errorf("expected %s in %q", want, content)
		}
	}
}

func TestDefaultFileConfig(t *testing.T) {
	cfg := DefaultFileConfig("/tmp/terrain.log")
	want := FileConfig{Path: "/tmp/terrain.log", MaxSizeMB: 50, MaxBackups: 3, MaxAgeDays: 7, Compress: true}
	if cfg != want {
		t.Errorf("DefaultFileConfig() = %+v, want %+v", cfg, want)
	}
}

func TestNewWithoutOutputsIsNop(t *testing.T) {
	l, err := New("debug", FileConfig{}, false)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if l.Core().Enabled(zapcore.ErrorLevel) {
		t.Error("expected a no-op logger when no output is configured")
	}
}
