package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	NewComponentLogger(logger, "recorder").Info("saved", Int(FieldSteps, 5))
	logger.Debug("hidden")

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if rec["msg"] != "saved" || rec[FieldComponent] != "recorder" || rec[FieldSteps] != float64(5) {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestNew_UnsupportedFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for xml format")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
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

func TestChannelHandler(t *testing.T) {
	ch := make(chan string, 1)
	logger := slog.New(NewChannelHandler(ch, slog.LevelInfo))
	logger = NewComponentLogger(logger, "loop").With(String(FieldEnv, "LiftCube-v0"))

	logger.Warn("save failed", Error(errors.New("disk full")))
	logger.Info("dropped because channel is full")

	line := <-ch
	for _, want := range []string{"WARN", "save failed", "env=LiftCube-v0", "error=disk full"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
	if strings.Contains(line, "component=") {
		t.Errorf("component attribute should be hidden: %q", line)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected second line %q", extra)
	default:
	}
}

func TestTeeLogger(t *testing.T) {
	var buf bytes.Buffer
	base, err := New(Options{Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	ch := make(chan string, 4)
	logger := TeeLogger(base, NewChannelHandler(ch, slog.LevelInfo))
	logger.Info("episode finished", Int(FieldEpisode, 2))

	if !strings.Contains(buf.String(), "episode finished") {
		t.Errorf("base output missing record: %q", buf.String())
	}
	if got := <-ch; !strings.Contains(got, "episode=2") {
		t.Errorf("channel line = %q", got)
	}
}
