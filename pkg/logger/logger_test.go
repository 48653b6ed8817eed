package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestJSONHandler(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler(&buf, Config{Level: "info", Format: "json"}))
	log.Debug("hidden")
	log.Info("order placed", "exchange", "binance")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %s", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["msg"] != "order placed" || entry["exchange"] != "binance" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if ts, _ := entry["time"].(string); !strings.HasSuffix(ts, "Z") {
		t.Fatalf("time must be UTC RFC3339, got %v", entry["time"])
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.Format = "text"
	cfg.FilePath = path

	log, closer, err := New(cfg)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	log.Info("written to disk")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "written to disk") {
		t.Fatalf("log file missing entry: %s", data)
	}
}

func TestFileOutputRequiresPath(t *testing.T) {
	if _, _, err := New(Config{Output: "file"}); err == nil {
		t.Fatal("expected an error without a file path")
	}
}
