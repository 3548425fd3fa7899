package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" Debug ": slog.LevelDebug,
		"warning": slog.LevelWarn,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	} {
		if got := parseLogLevel(in); got != want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", in, got, want)
		}
	}
}

func TestNewHandler_Format(t *testing.T) {
	t.Parallel()

	var js bytes.Buffer
	slog.New(newHandler(&js, "info", "json")).Info("session.created", "session_id", "s1")
	var rec map[string]any
	if err := json.Unmarshal(js.Bytes(), &rec); err != nil {
		t.Fatalf("json output %q: %v", js.String(), err)
	}
	if rec["msg"] != "session.created" || rec["session_id"] != "s1" || rec["source"] == nil {
		t.Fatalf("json record=%v", rec)
	}

	var txt bytes.Buffer
	slog.New(newHandler(&txt, "info", " TEXT ")).Info("reaper.sweep", "expired", 2)
	if out := txt.String(); !strings.Contains(out, "msg=reaper.sweep") || !strings.Contains(out, "expired=2") {
		t.Fatalf("text output=%q", out)
	}
}

func TestNewHandler_Level(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newHandler(&buf, "warn", "json")
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("info enabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelWarn) {
		t.Fatalf("warn disabled at warn level")
	}
}
