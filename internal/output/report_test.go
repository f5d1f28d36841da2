package output

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gantry/internal/checks"
	"gantry/internal/coverage"
)

func TestReportSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.md")
	sink, err := NewReportSink(path)
	if err != nil {
		t.Fatalf("NewReportSink: %v", err)
	}

	events := []any{
		RunStarted("tests", 3),
		JobStarted("tests", "lint"),
		JobFinished("tests", "lint", "success", "", 2*time.Second),
		JobStarted("tests", "test (ubuntu-latest, 3.10)"),
		StepResult("test (ubuntu-latest, 3.10)", "pytest", "failure", 1, 3, 9*time.Second),
		JobFinished("tests", "test (ubuntu-latest, 3.10)", "failure", "", 12*time.Second),
		JobStarted("tests", "test (windows-latest, 3.10)"),
		JobFinished("tests", "test (windows-latest, 3.10)", "skipped", "platform mismatch: needs windows", 0),
		CoverageFinished(coverage.Summary{Profiles: 2, Files: 4, Mode: "count", Statements: 141, Covered: 123, Percent: 87.2}),
		checks.Result{CheckID: "workflows-parse", Repo: "demo", Status: checks.StatusPass, Message: "2 workflow(s) parsed"},
		RunFinished(3, 1, 1, 15*time.Second),
	}
	for _, e := range events {
		if err := sink.Write(e); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	report := string(data)

	for _, want := range []string{
		"# Gantry Run Report",
		"Workflow: `tests`",
		"3 job(s), 1 failed. Exit code 1.",
		"## Jobs",
		"| lint | success | 2.0s |",
		"| test (ubuntu-latest, 3.10) | failure | 12.0s | 1 failed step(s) |",
		"| test (windows-latest, 3.10) | skipped | 0ms | platform mismatch: needs windows |",
		"## Failed Steps",
		`- test (ubuntu-latest, 3.10): step "pytest" exit 1 after 3 attempt(s)`,
		"## Coverage",
		"87.2% of statements covered (123/141) across 2 profile(s).",
		"## Checks",
		"| workflows-parse | PASS | 2 workflow(s) parsed |",
	} {
		if !strings.Contains(report, want) {
			t.Fatalf("report missing %q:\n%s", want, report)
		}
	}
}

func TestReportSinkEmptyRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.md")
	sink, err := NewReportSink(path)
	if err != nil {
		t.Fatalf("NewReportSink: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "# Gantry Run Report") {
		t.Fatalf("report missing title:\n%s", data)
	}
}

func TestReportSinkRequiresPath(t *testing.T) {
	if _, err := NewReportSink(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
