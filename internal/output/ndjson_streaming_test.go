package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gantry/internal/checks"
)

// NDJSON exists so a consumer can follow a run live. Every write must
// land in the writer immediately, not on Close.
func TestNDJSONStreamsPerWrite(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, "ndjson", nil, false)

	if err := sink.Write(RunStarted("tests", 4)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := strings.Count(buf.String(), "\n"); got != 1 {
		t.Fatalf("lines after first write = %d, want 1", got)
	}

	if err := sink.Write(StepLog("lint", "gofmt", "stdout", "checking")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := strings.Count(buf.String(), "\n"); got != 2 {
		t.Fatalf("lines after second write = %d, want 2", got)
	}

	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := strings.Count(buf.String(), "\n"); got != 2 {
		t.Fatalf("Close added output: %d lines, want 2", got)
	}
}

func TestNDJSONEventShapes(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, "ndjson", nil, false)

	events := []any{
		StepResult("test", "pytest", "failure", 1, 2, 1500*time.Millisecond),
		checks.Result{CheckID: "version-file", Repo: "demo", Status: checks.StatusPass, Message: "Version 0.9.3"},
	}
	for _, e := range events {
		if err := sink.Write(e); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}

	var step map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &step); err != nil {
		t.Fatalf("step line: %v", err)
	}
	if step["type"] != "step.result" || step["exit_code"] != float64(1) || step["duration_ms"] != float64(1500) {
		t.Fatalf("step event = %v", step)
	}

	var check map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &check); err != nil {
		t.Fatalf("check line: %v", err)
	}
	if check["type"] != "check.result" || check["check_id"] != "version-file" {
		t.Fatalf("check event = %v", check)
	}
	if check["status"] != "PASS" {
		t.Fatalf("check status = %v, want PASS", check["status"])
	}
	if check["repo"] != "demo" {
		t.Fatalf("check repo = %v, want demo", check["repo"])
	}
}
