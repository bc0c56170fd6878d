package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestSetup(t *testing.T) {
	logger = nil
	once = *new(sync.Once)

	Setup("DEBUG")
	if Get() == nil {
		t.Fatal("Logger should not be nil")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger = New(Options{Writer: &buf})

	WithComponent("test-comp").Info("hello")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["component"] != "test-comp" {
		t.Errorf("Expected component 'test-comp', got %v", out["component"])
	}
	if out["msg"] != "hello" {
		t.Errorf("Expected msg 'hello', got %v", out["msg"])
	}
}

func TestWithRunAndJob(t *testing.T) {
	var buf bytes.Buffer
	logger = New(Options{Writer: &buf})

	WithRun("run-123").Info("run msg")
	WithJob("svc-job-abc").Info("job msg")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var first, second map[string]any
	_ = json.Unmarshal([]byte(lines[0]), &first)
	_ = json.Unmarshal([]byte(lines[1]), &second)
	if first["run_id"] != "run-123" {
		t.Errorf("Expected run_id 'run-123', got %v", first["run_id"])
	}
	if second["job"] != "svc-job-abc" {
		t.Errorf("Expected job 'svc-job-abc', got %v", second["job"])
	}
}

func TestRedaction(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Writer: &buf})

	l.Info("creds", "oauth_token", "sk-live-123", "github_token", "", "token_fp", "abc", "model", "sonnet")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if out["oauth_token"] != Redacted {
		t.Errorf("oauth_token not redacted: %v", out["oauth_token"])
	}
	if out["github_token"] != "" {
		t.Errorf("empty token should stay empty, got %v", out["github_token"])
	}
	if out["token_fp"] != "abc" {
		t.Errorf("fingerprint should pass through, got %v", out["token_fp"])
	}
	if out["model"] != "sonnet" {
		t.Errorf("model changed: %v", out["model"])
	}
	if strings.Contains(buf.String(), "sk-live-123") {
		t.Error("secret leaked into log output")
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	New(Options{Writer: &buf, Format: "text", Level: "debug"}).Debug("plain")
	if !strings.Contains(buf.String(), "msg=plain") {
		t.Errorf("expected text handler output, got %q", buf.String())
	}
}

func TestFingerprint(t *testing.T) {
	if Fingerprint("") != "" {
		t.Error("empty secret should have empty fingerprint")
	}
	a := Fingerprint("secret-a")
	if len(a) != 12 {
		t.Errorf("expected 12 hex chars, got %q", a)
	}
	if a != Fingerprint("secret-a") {
		t.Error("fingerprint not deterministic")
	}
	if a == Fingerprint("secret-b") {
		t.Error("distinct secrets share a fingerprint")
	}
}
