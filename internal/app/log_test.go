package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLineHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name    string
		opID    string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "basic info message",
			opID:    "op-123",
			level:   slog.LevelInfo,
			message: "record created",
			want:    "2024-06-15T14:30:45Z\tINFO\top-123\trecord created\n",
		},
		{
			name:    "debug level",
			opID:    "op-456",
			level:   slog.LevelDebug,
			message: "resolving references",
			want:    "2024-06-15T14:30:45Z\tDEBUG\top-456\tresolving references\n",
		},
		{
			name:    "with record attrs",
			opID:    "op-789",
			level:   slog.LevelInfo,
			message: "audit flushed",
			attrs:   []slog.Attr{slog.String("key", "audit/h/1.jsonl.zst.age"), slog.Int("entries", 42)},
			want:    "2024-06-15T14:30:45Z\tINFO\top-789\taudit flushed\tkey=audit/h/1.jsonl.zst.age\tentries=42\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := newLineHandler(&buf, tt.opID, slog.LevelDebug)

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			for _, a := range tt.attrs {
				r.AddAttrs(a)
			}

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestLineHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := newLineHandler(&buf, "op-1", slog.LevelDebug)

	// Add pre-set attrs
	h2 := h.WithAttrs([]slog.Attr{slog.String("component", "server")}).(*lineHandler)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := slog.NewRecord(ts, slog.LevelInfo, "listening", 0)
	r.AddAttrs(slog.String("key", "abc"))

	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "component=server") {
		t.Errorf("expected pre-set attr component=server, got: %q", got)
	}
	if !strings.Contains(got, "key=abc") {
		t.Errorf("expected record attr key=abc, got: %q", got)
	}
}

func TestLineHandler_WithAttrs_doesNotMutateOriginal(t *testing.T) {
	var buf bytes.Buffer
	h := newLineHandler(&buf, "op-1", slog.LevelDebug)
	h.attrs = []slog.Attr{slog.String("a", "1")}

	h2 := h.WithAttrs([]slog.Attr{slog.String("b", "2")}).(*lineHandler)

	if len(h.attrs) != 1 {
		t.Errorf("original handler attrs modified: got %d, want 1", len(h.attrs))
	}
	if len(h2.attrs) != 2 {
		t.Errorf("new handler attrs: got %d, want 2", len(h2.attrs))
	}
}

func TestLineHandler_Enabled(t *testing.T) {
	h := newLineHandler(io.Discard, "op-1", slog.LevelInfo)

	tests := map[slog.Level]bool{
		slog.LevelDebug: false,
		slog.LevelInfo:  true,
		slog.LevelWarn:  true,
		slog.LevelError: true,
	}
	for level, want := range tests {
		if got := h.Enabled(context.Background(), level); got != want {
			t.Errorf("Enabled(%v) = %v, want %v", level, got, want)
		}
	}
}

func TestFanout_RoutesByLevel(t *testing.T) {
	var file, console bytes.Buffer
	logger := slog.New(fanout{
		newLineHandler(&file, "op-1", slog.LevelDebug),
		newLineHandler(&console, "op-1", slog.LevelInfo),
	}).With("component", "registry")

	logger.Debug("resolving references")
	logger.Warn("audit append failed", "entity", "farm")

	if n := strings.Count(file.String(), "\n"); n != 2 {
		t.Errorf("file got %d lines, want 2:\n%s", n, file.String())
	}
	if strings.Contains(console.String(), "resolving references") {
		t.Error("debug record reached the console")
	}
	if !strings.Contains(console.String(), "WARN\top-1\taudit append failed\tcomponent=registry\tentity=farm") {
		t.Errorf("console output = %q", console.String())
	}
}

func TestNewLogger(t *testing.T) {
	dir := t.TempDir()

	logger, f, err := newLogger(dir, "test-op")
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	defer f.Close()

	logger.Debug("hello", "n", 1)
	data, err := os.ReadFile(filepath.Join(dir, "agrireg.log"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "DEBUG\ttest-op\thello\tn=1") {
		t.Errorf("log file = %q", data)
	}

	if logger == nil {
		t.Fatal("newLogger() returned nil logger")
	}
	if f == nil {
		t.Fatal("newLogger() returned nil file")
	}
}
