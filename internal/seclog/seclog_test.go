package seclog

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, slog.LevelWarn)

	log.Debug("should not appear")
	log.Info("should not appear either")
	log.Warn("this one shows", "key", "value")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Errorf("debug/info records leaked through a Warn-level logger: %q", out)
	}
	if !strings.Contains(out, "this one shows") || !strings.Contains(out, "key=value") {
		t.Errorf("expected the warn record with its kv pair, got %q", out)
	}
}

func TestWithAddsPersistentFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, slog.LevelInfo).With("module", "T")

	log.Info("ready")
	if !strings.Contains(buf.String(), "module=T") {
		t.Errorf("expected module=T in every record from the derived logger, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":    slog.LevelDebug,
		"warn":     slog.LevelWarn,
		"warning":  slog.LevelWarn,
		"error":    slog.LevelError,
		"info":     slog.LevelInfo,
		"":         slog.LevelInfo,
		"nonsense": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
