package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for raw, want := range cases {
		if got := parseLevel(raw); got != want {
			t.Errorf("parseLevel(%q): got %v, want %v", raw, got, want)
		}
	}
}

func TestNewHandlerJSONDefault(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, "", slog.LevelInfo))
	log.Info("hello", "run_id", "abc")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("default handler must emit JSON: %v (%s)", err, buf.String())
	}
	if record["msg"] != "hello" || record["run_id"] != "abc" {
		t.Errorf("record: %v", record)
	}
}

func TestNewHandlerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, "text", slog.LevelInfo))
	log.Info("hello")

	out := buf.String()
	if strings.HasPrefix(out, "{") {
		t.Errorf("text format must not emit JSON: %s", out)
	}
	if !strings.Contains(out, "msg=hello") {
		t.Errorf("unexpected text output: %s", out)
	}
}

func TestNewHandlerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, "", slog.LevelWarn))
	log.Info("dropped")
	log.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info record must be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("warn record missing: %s", out)
	}
}
