package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gantry/internal/checks"
	"gantry/internal/config"
	"gantry/internal/output"
	"gantry/internal/runner"
)

func TestExitCodeForRun(t *testing.T) {
	cases := []struct {
		name                     string
		fatal, partial, failures bool
		want                     int
	}{
		{name: "clean", want: 0},
		{name: "failures", failures: true, want: 1},
		{name: "partial", partial: true, want: 2},
		{name: "partial wins over failures", partial: true, failures: true, want: 2},
		{name: "fatal", fatal: true, want: 3},
		{name: "fatal wins over everything", fatal: true, partial: true, failures: true, want: 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCodeForRun(tc.fatal, tc.partial, tc.failures); got != tc.want {
				t.Fatalf("exitCodeForRun(%v, %v, %v) = %d, want %d", tc.fatal, tc.partial, tc.failures, got, tc.want)
			}
		})
	}
}

func writeWorkflowFile(t *testing.T, root, name, src string) {
	t.Helper()
	dir := filepath.Join(root, ".gantry", "workflows")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func matrixWorkflow() string {
	return `
name: ci
on:
  push:
    branches: [main]
jobs:
  test:
    runs-on: ` + hostLabel() + `
    strategy:
      matrix:
        py: ["3.10", "3.11"]
    steps:
      - name: run
        run: pytest --py ${{ matrix.py }}
`
}

func runConfig(t *testing.T, root string) *config.Config {
	t.Helper()
	cfg := config.New()
	cfg.Run.Root = root
	cfg.Output.NoConsole = true
	cfg.Event.Branch = "main"
	cfg.Event.SHA = "abc1234"
	return cfg
}

func mustValidate(t *testing.T, cfg *config.Config) {
	t.Helper()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func readEvents(t *testing.T, path string) []output.Event {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	var events []output.Event
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var ev output.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("bad event line %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func eventTypes(events []output.Event) []string {
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func findEvent(events []output.Event, typ string) (output.Event, bool) {
	for _, ev := range events {
		if ev.Type == typ {
			return ev, true
		}
	}
	return output.Event{}, false
}

func indexOf(events []output.Event, typ, job string) int {
	for i, ev := range events {
		if ev.Type == typ && ev.Job == job {
			return i
		}
	}
	return -1
}

// stubExecute replaces the scheduler with canned results keyed by unit name.
// Units without an entry succeed. prep runs synchronously before any result
// is produced, so tests can inspect the plan or seed artifact files.
func stubExecute(results map[string]runner.Result, prep func(*RunPlan)) func(context.Context, *config.Config, *RunPlan, runner.Sink, func(*JobUnit)) (<-chan UnitResult, <-chan error) {
	return func(_ context.Context, _ *config.Config, plan *RunPlan, sink runner.Sink, started func(*JobUnit)) (<-chan UnitResult, <-chan error) {
		if prep != nil {
			prep(plan)
		}
		resCh := make(chan UnitResult)
		errCh := make(chan error, 1)
		go func() {
			defer close(resCh)
			defer close(errCh)
			for _, u := range plan.Units {
				if started != nil {
					started(u)
				}
				sink.Log(runner.LogLine{JobName: u.Name, Step: "run", Stream: "stdout", Text: "output from " + u.Name})
				res, ok := results[u.Name]
				if !ok {
					res = runner.Result{
						Status:   runner.StatusSuccess,
						Duration: 10 * time.Millisecond,
						Steps: []runner.StepResult{
							{Name: "run", Status: runner.StatusSuccess, Attempts: 1, Duration: 10 * time.Millisecond},
						},
					}
				}
				for _, sr := range res.Steps {
					sink.StepDone(runner.StepEvent{JobName: u.Name, Result: sr})
				}
				resCh <- UnitResult{Unit: u, Result: res}
			}
		}()
		return resCh, errCh
	}
}

func TestEngineRunStreamsEvents(t *testing.T) {
	root := t.TempDir()
	writeWorkflowFile(t, root, "ci.yml", matrixWorkflow())
	outPath := filepath.Join(root, "out.ndjson")

	cfg := runConfig(t, root)
	cfg.Output.Out = outPath
	mustValidate(t, cfg)

	e := NewEngine()
	e.schedulerExecute = stubExecute(nil, nil)

	if code := e.Run(context.Background(), cfg); code != 0 {
		t.Fatalf("Run = %d, want 0", code)
	}

	events := readEvents(t, outPath)
	if len(events) != 10 {
		t.Fatalf("%d events, want 10: %v", len(events), eventTypes(events))
	}
	if first := events[0]; first.Type != "run.started" || first.Workflow != "ci" || first.Jobs != 2 {
		t.Fatalf("first event = %+v", first)
	}
	last := events[len(events)-1]
	if last.Type != "run.finished" || last.Jobs != 2 || last.Failed != 0 || last.ExitCode != 0 {
		t.Fatalf("last event = %+v", last)
	}

	// Units stream concurrently, so only per-unit ordering is guaranteed.
	for _, name := range []string{"test (3.10)", "test (3.11)"} {
		prev := -1
		for _, typ := range []string{"job.started", "step.log", "step.result", "job.finished"} {
			i := indexOf(events, typ, name)
			if i <= prev {
				t.Fatalf("%s for %s missing or out of order: %v", typ, name, eventTypes(events))
			}
			prev = i
		}
	}
}

func TestEngineRunReportsFailures(t *testing.T) {
	root := t.TempDir()
	writeWorkflowFile(t, root, "ci.yml", matrixWorkflow())
	outPath := filepath.Join(root, "out.ndjson")

	cfg := runConfig(t, root)
	cfg.Output.Out = outPath
	mustValidate(t, cfg)

	e := NewEngine()
	e.schedulerExecute = stubExecute(map[string]runner.Result{
		"test (3.11)": {
			Status:   runner.StatusFailure,
			Duration: 20 * time.Millisecond,
			Steps: []runner.StepResult{
				{Name: "run", Status: runner.StatusFailure, ExitCode: 1, Attempts: 1},
			},
		},
	}, nil)

	if code := e.Run(context.Background(), cfg); code != 1 {
		t.Fatalf("Run = %d, want 1", code)
	}

	events := readEvents(t, outPath)
	last := events[len(events)-1]
	if last.Type != "run.finished" || last.Failed != 1 || last.ExitCode != 1 {
		t.Fatalf("run.finished = %+v", last)
	}
}

func TestEngineRunPartialOnInfrastructureError(t *testing.T) {
	root := t.TempDir()
	writeWorkflowFile(t, root, "ci.yml", matrixWorkflow())

	cfg := runConfig(t, root)
	mustValidate(t, cfg)

	e := NewEngine()
	// Exit code -1 with status error means the command never ran.
	e.schedulerExecute = stubExecute(map[string]runner.Result{
		"test (3.10)": {
			Status: runner.StatusFailure,
			Steps: []runner.StepResult{
				{Name: "run", Status: runner.StatusError, ExitCode: -1, Attempts: 1},
			},
		},
	}, nil)

	if code := e.Run(context.Background(), cfg); code != 2 {
		t.Fatalf("Run = %d, want 2 for infrastructure errors", code)
	}
}

func TestEngineRunFatalSchedulerError(t *testing.T) {
	root := t.TempDir()
	writeWorkflowFile(t, root, "ci.yml", matrixWorkflow())

	cfg := runConfig(t, root)
	mustValidate(t, cfg)

	e := NewEngine()
	e.schedulerExecute = func(context.Context, *config.Config, *RunPlan, runner.Sink, func(*JobUnit)) (<-chan UnitResult, <-chan error) {
		resCh := make(chan UnitResult)
		errCh := make(chan error, 1)
		close(resCh)
		errCh <- errors.New("scheduling stuck: 2 unit(s) pending with nothing running")
		close(errCh)
		return resCh, errCh
	}

	if code := e.Run(context.Background(), cfg); code != 3 {
		t.Fatalf("Run = %d, want 3", code)
	}
}

func TestEngineRunDryRun(t *testing.T) {
	root := t.TempDir()
	writeWorkflowFile(t, root, "ci.yml", matrixWorkflow())

	cfg := runConfig(t, root)
	cfg.Run.DryRun = true
	mustValidate(t, cfg)

	executed := false
	e := NewEngine()
	e.schedulerExecute = stubExecute(nil, func(*RunPlan) { executed = true })

	if code := e.Run(context.Background(), cfg); code != 0 {
		t.Fatalf("Run = %d, want 0", code)
	}
	if executed {
		t.Fatal("dry run must not execute units")
	}
}

func TestEngineRunNothingMatches(t *testing.T) {
	root := t.TempDir()
	writeWorkflowFile(t, root, "ci.yml", matrixWorkflow())

	cfg := runConfig(t, root)
	cfg.Event.Branch = "feature/other"
	mustValidate(t, cfg)

	executed := false
	e := NewEngine()
	e.schedulerExecute = stubExecute(nil, func(*RunPlan) { executed = true })

	if code := e.Run(context.Background(), cfg); code != 0 {
		t.Fatalf("Run = %d, want 0 when nothing matches", code)
	}
	if executed {
		t.Fatal("no units should execute when nothing matches")
	}
}

func TestEngineRunParseErrorIsFatal(t *testing.T) {
	root := t.TempDir()
	writeWorkflowFile(t, root, "broken.yml", "jobs: [not: a: mapping\n")

	cfg := runConfig(t, root)
	mustValidate(t, cfg)

	e := NewEngine()
	if code := e.Run(context.Background(), cfg); code != 3 {
		t.Fatalf("Run = %d, want 3 for unparseable workflows", code)
	}
}

func TestEngineRunCoverage(t *testing.T) {
	root := t.TempDir()
	writeWorkflowFile(t, root, "ci.yml", matrixWorkflow())
	outPath := filepath.Join(root, "out.ndjson")

	var mu sync.Mutex
	var uploadBody []byte
	var uploadAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		uploadBody = body
		uploadAuth = r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg := runConfig(t, root)
	cfg.Output.Out = outPath
	cfg.Coverage.Enabled = true
	cfg.Coverage.UploadURL = srv.URL
	cfg.Coverage.Token = "sekret"
	mustValidate(t, cfg)

	profiles := []string{
		"mode: set\napp/a.go:1.1,2.2 2 1\napp/a.go:3.1,4.2 1 0\n",
		"mode: set\napp/a.go:3.1,4.2 1 0\n",
	}
	var runID string
	e := NewEngine()
	e.schedulerExecute = stubExecute(nil, func(plan *RunPlan) {
		runID = plan.RunID
		for i, u := range plan.Units {
			if u.Spec.CoverageFile == "" {
				t.Errorf("unit %d has no coverage file", i)
				continue
			}
			if err := os.WriteFile(u.Spec.CoverageFile, []byte(profiles[i]), 0o644); err != nil {
				t.Errorf("writing profile: %v", err)
			}
		}
	})

	if code := e.Run(context.Background(), cfg); code != 0 {
		t.Fatalf("Run = %d, want 0", code)
	}

	events := readEvents(t, outPath)
	cov, ok := findEvent(events, "coverage.finished")
	if !ok {
		t.Fatalf("no coverage.finished event in %v", eventTypes(events))
	}
	if cov.Profiles != 2 || cov.Statements != 3 || cov.Covered != 2 {
		t.Fatalf("coverage.finished = %+v", cov)
	}

	mergedPath := filepath.Join(cfg.ArtifactsPath(), runID, "coverage.out")
	if _, err := os.Stat(mergedPath); err != nil {
		t.Fatalf("merged profile: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if uploadAuth != "Bearer sekret" {
		t.Fatalf("upload auth = %q", uploadAuth)
	}
	var payload struct {
		RunID   string  `json:"run_id"`
		Percent float64 `json:"percent"`
	}
	if err := json.Unmarshal(uploadBody, &payload); err != nil {
		t.Fatalf("upload body %q: %v", uploadBody, err)
	}
	if payload.RunID != runID {
		t.Fatalf("uploaded run_id = %q, want %q", payload.RunID, runID)
	}
	if payload.Percent < 66 || payload.Percent > 67 {
		t.Fatalf("uploaded percent = %v", payload.Percent)
	}
}

func TestEngineRunCoverageUploadFailureIsPartial(t *testing.T) {
	root := t.TempDir()
	writeWorkflowFile(t, root, "ci.yml", matrixWorkflow())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	cfg := runConfig(t, root)
	cfg.Coverage.Enabled = true
	cfg.Coverage.UploadURL = srv.URL
	mustValidate(t, cfg)

	e := NewEngine()
	e.schedulerExecute = stubExecute(nil, func(plan *RunPlan) {
		for _, u := range plan.Units {
			if err := os.WriteFile(u.Spec.CoverageFile, []byte("mode: set\napp/a.go:1.1,2.2 1 1\n"), 0o644); err != nil {
				t.Errorf("writing profile: %v", err)
			}
		}
	})

	if code := e.Run(context.Background(), cfg); code != 2 {
		t.Fatalf("Run = %d, want 2 when the upload is rejected", code)
	}
}

type stubCheck struct {
	id     string
	status checks.Status
	err    error
}

func (s stubCheck) ID() string          { return s.id }
func (s stubCheck) Title() string       { return "Stub " + s.id }
func (s stubCheck) Description() string { return "test fixture" }

func (s stubCheck) Evaluate(context.Context, *checks.Context) (checks.Result, error) {
	if s.err != nil {
		return checks.Result{}, s.err
	}
	return checks.Result{Status: s.status, Message: "stubbed"}, nil
}

var stubChecksOnce sync.Once

func registerStubChecks() {
	stubChecksOnce.Do(func() {
		checks.Register(stubCheck{id: "stub-pass", status: checks.StatusPass})
		checks.Register(stubCheck{id: "stub-fail", status: checks.StatusFail})
		checks.Register(stubCheck{id: "stub-error", err: errors.New("boom")})
	})
}

func TestEngineRunChecks(t *testing.T) {
	registerStubChecks()

	cases := []struct {
		name     string
		selector string
		want     int
	}{
		{name: "passing", selector: "stub-pass", want: 0},
		{name: "failing", selector: "stub-pass,stub-fail", want: 1},
		{name: "erroring", selector: "stub-error", want: 2},
		{name: "unknown", selector: "no-such-check", want: 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := runConfig(t, t.TempDir())
			cfg.Checks.Selector = tc.selector
			mustValidate(t, cfg)

			e := NewEngine()
			if code := e.RunChecks(context.Background(), cfg); code != tc.want {
				t.Fatalf("RunChecks(%s) = %d, want %d", tc.selector, code, tc.want)
			}
		})
	}
}

func TestEngineRunChecksWritesResults(t *testing.T) {
	registerStubChecks()

	root := t.TempDir()
	outPath := filepath.Join(root, "checks.ndjson")
	cfg := runConfig(t, root)
	cfg.Checks.Selector = "stub-pass"
	cfg.Output.Out = outPath
	mustValidate(t, cfg)

	e := NewEngine()
	if code := e.RunChecks(context.Background(), cfg); code != 0 {
		t.Fatalf("RunChecks = %d, want 0", code)
	}

	events := readEvents(t, outPath)
	if len(events) != 1 || events[0].Type != "check.result" {
		t.Fatalf("events = %v", eventTypes(events))
	}
	ev := events[0]
	if ev.Status != "PASS" {
		t.Fatalf("status = %q", ev.Status)
	}
	if ev.Result == nil || ev.Result.CheckID != "stub-pass" {
		t.Fatalf("check result = %+v", ev.Result)
	}
	if ev.Result.Repo != filepath.Base(root) {
		t.Fatalf("repo = %q, want %q", ev.Result.Repo, filepath.Base(root))
	}
}

func TestEngineRunChecksRejectsBadOptions(t *testing.T) {
	registerStubChecks()

	cfg := runConfig(t, t.TempDir())
	cfg.Checks.Selector = "stub-pass"
	cfg.Checks.Set = []string{"stub-pass.nope=1"}
	mustValidate(t, cfg)

	e := NewEngine()
	if code := e.RunChecks(context.Background(), cfg); code != 3 {
		t.Fatalf("RunChecks = %d, want 3 for options on a plain check", code)
	}
}
