package logger_test

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/goliatone/go-formflow/internal/logger"
)

func TestNew_JSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := logger.New(&logger.Config{Level: "warn", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	log.Info("hidden")
	log.Warn("shown", zap.String("form", "fiscal.config"))
	_ = log.Sync()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected a single entry, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := map[string]any{"level": entry["level"], "msg": entry["msg"], "form": entry["form"]}
	want := map[string]any{"level": "warn", "msg": "shown", "form": "fiscal.config"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("entry mismatch (-want +got):\n%s", diff)
	}
}

func TestNew_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	log, err := logger.New(&logger.Config{Level: "debug", Format: "console", Writer: &buf})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Debug("cache miss")
	_ = log.Sync()
	if !strings.Contains(buf.String(), "DEBUG") || !strings.Contains(buf.String(), "cache miss") {
		t.Fatalf("unexpected console output %q", buf.String())
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := logger.New(&logger.Config{Level: "loud"}); err == nil {
		t.Fatalf("expected unknown level error")
	}
	missing := filepath.Join(t.TempDir(), "missing", "out.log")
	if _, err := logger.New(&logger.Config{Output: missing}); err == nil {
		t.Fatalf("expected open error")
	}
}

func TestNew_NilConfig(t *testing.T) {
	if _, err := logger.New(nil); err != nil {
		t.Fatalf("new: %v", err)
	}
}
