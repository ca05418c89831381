package logging

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewMatchLoggerNoOpWhenDirEmpty(t *testing.T) {
	base, baseCloser := NewLogger("info", "json")
	defer baseCloser.Close()

	logger, closer, err := NewMatchLogger(base, "", "match-1")
	if err != nil {
		t.Fatalf("NewMatchLogger: %v", err)
	}
	defer closer.Close()
	if logger != base {
		t.Fatal("expected the base logger unmodified when logDir is empty")
	}
}

func TestNewMatchLoggerWritesCompressedTranscript(t *testing.T) {
	dir := t.TempDir()
	base, baseCloser := NewLogger("info", "json")
	defer baseCloser.Close()

	logger, closer, err := NewMatchLogger(base, dir, "match-42")
	if err != nil {
		t.Fatalf("NewMatchLogger: %v", err)
	}
	logger.Info("shot fired", "coord", "A1", "result", "HIT")
	if err := closer.Close(); err != nil {
		t.Fatalf("closing match logger: %v", err)
	}

	path := filepath.Join(dir, "match-42.jsonl.gz")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening transcript: %v", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("reading transcript: %v", err)
	}
	if !strings.Contains(string(data), "shot fired") || !strings.Contains(string(data), "A1") {
		t.Fatalf("transcript missing expected content, got: %s", data)
	}
}
