package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info", "json").Info("hello", "rows", 3)

	out := buf.String()
	if !strings.Contains(out, `"msg":"hello"`) || !strings.Contains(out, `"rows":3`) {
		t.Errorf("unexpected json output: %s", out)
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "warn", "text").Info("quiet")
	if buf.Len() != 0 {
		t.Errorf("info entry written at warn level: %s", buf.String())
	}
}

func TestCategoryAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(New(&buf, "debug", "text"))
	defer slog.SetDefault(prev)

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	Category(ctx, CategoryLoader).Info("phase")

	out := buf.String()
	if !strings.Contains(out, "category=loader") {
		t.Errorf("missing category: %s", out)
	}
	if !strings.Contains(out, "request_id=req-42") {
		t.Errorf("missing request id: %s", out)
	}
}

func TestLevelForStatus(t *testing.T) {
	tests := map[int]slog.Level{
		200: slog.LevelInfo,
		202: slog.LevelInfo,
		304: slog.LevelInfo,
		404: slog.LevelWarn,
		409: slog.LevelWarn,
		500: slog.LevelError,
		503: slog.LevelError,
	}
	for status, want := range tests {
		if got := LevelForStatus(status); got != want {
			t.Errorf("LevelForStatus(%d) = %v, want %v", status, got, want)
		}
	}
}
