package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]interface{}{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid json log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestSetup(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		format string
	}{
		{"debug level", "debug", "console"},
		{"info level", "info", "console"},
		{"warn level", "warn", "console"},
		{"error level", "error", "console"},
		{"json format", "info", "json"},
		{"uppercase level", "DEBUG", "console"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Setup(tt.level, tt.format)
			if Log == nil {
				t.Error("expected Log to be initialized")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level  string
		expect zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"unknown", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if got := ParseLevel(tt.level); got != tt.expect {
				t.Errorf("level %q: expected %v, got %v", tt.level, tt.expect, got)
			}
		})
	}
}

func TestJSONFields(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter("debug", "json", &buf)
	defer Setup("info", "console")

	Log.Info("decoded", "chars", 12, "stop", "newline", 7, "numeric key", "orphan")
	Log.Error("step failed", "err", errors.New("boom"))

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0]["message"] != "decoded" || lines[0]["chars"] != float64(12) || lines[0]["stop"] != "newline" {
		t.Errorf("unexpected first line: %v", lines[0])
	}
	if lines[0]["7"] != "numeric key" {
		t.Errorf("expected non-string key to be stringified: %v", lines[0])
	}
	if _, ok := lines[0]["orphan"]; ok {
		t.Error("trailing key without value should be dropped")
	}
	if lines[1]["err"] != "boom" {
		t.Errorf("expected error field 'boom', got %v", lines[1]["err"])
	}
}

func TestComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter("info", "json", &buf)
	defer Setup("info", "console")

	Log.Component("engine").With("request", "r1").Info("step")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0]["component"] != "engine" || lines[0]["request"] != "r1" {
		t.Errorf("missing component fields: %v", lines[0])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter("error", "json", &buf)
	defer Setup("info", "console")

	Log.Debug("hidden")
	Log.Info("hidden")
	Log.Warn("hidden")
	Log.Error("shown")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["message"] != "shown" {
		t.Errorf("expected only the error line, got %v", lines)
	}
}
