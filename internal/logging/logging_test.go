package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLoggerTo_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := WithSessionID(WithComponent(NewLoggerTo(&buf, "info"), "session"), "s-1")
	logger.Debug("hidden")
	logger.Info("clip committed", "clip_id", 3)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not a single JSON object: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "clip committed" || entry["component"] != "session" || entry["session_id"] != "s-1" {
		t.Errorf("entry = %v", entry)
	}
	if entry["clip_id"] != float64(3) {
		t.Errorf("clip_id = %v, want 3", entry["clip_id"])
	}
}

func TestSanitizeToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"short", "****"},
		{"12345678", "****"},
		{"abcdefghijkl", "abcd...ijkl"},
	}
	for _, tt := range tests {
		if got := SanitizeToken(tt.in); got != tt.want {
			t.Errorf("SanitizeToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizePath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got := SanitizePath(filepath.Join(home, "Videos", "a.mp4"))
	if got != "~"+string(filepath.Separator)+filepath.Join("Videos", "a.mp4") {
		t.Errorf("SanitizePath() = %q", got)
	}
	if got := SanitizePath("/opt/x.mp4"); home != "/" && got != "/opt/x.mp4" {
		t.Errorf("SanitizePath(outside home) = %q", got)
	}
}
