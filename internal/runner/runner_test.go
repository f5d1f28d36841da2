package runner

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"gantry/internal/workflow"
)

type recordingSink struct {
	mu    sync.Mutex
	lines []LogLine
	steps []StepEvent
}

func (s *recordingSink) Log(line LogLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

func (s *recordingSink) StepDone(ev StepEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, ev)
}

func (s *recordingSink) stream(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, l := range s.lines {
		if l.Stream == name {
			out = append(out, l.Text)
		}
	}
	return out
}

func requireUnixShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test drives sh")
	}
}

func TestRunSuccess(t *testing.T) {
	requireUnixShell(t)
	sink := &recordingSink{}
	spec := Spec{
		JobName: "test",
		Dir:     t.TempDir(),
		Steps: []workflow.Step{
			{Name: "greet", Run: "echo hello\necho world >&2"},
			{Run: "true"},
		},
	}
	res := New(sink).Run(context.Background(), spec)
	if res.Status != StatusSuccess {
		t.Fatalf("job status = %s, want success (steps: %+v)", res.Status, res.Steps)
	}
	if len(res.Steps) != 2 {
		t.Fatalf("got %d step results, want 2", len(res.Steps))
	}
	if res.Steps[0].ExitCode != 0 || res.Steps[0].Attempts != 1 {
		t.Errorf("first step = %+v", res.Steps[0])
	}
	if res.Steps[1].Name != "true" {
		t.Errorf("unnamed step name = %q, want the command line", res.Steps[1].Name)
	}
	if got := sink.stream("stdout"); len(got) != 1 || got[0] != "hello" {
		t.Errorf("stdout lines = %v", got)
	}
	if got := sink.stream("stderr"); len(got) != 1 || got[0] != "world" {
		t.Errorf("stderr lines = %v", got)
	}
	if len(sink.steps) != 2 {
		t.Errorf("got %d step events, want 2", len(sink.steps))
	}
}

func TestRunFailureGatesSteps(t *testing.T) {
	requireUnixShell(t)
	sink := &recordingSink{}
	spec := Spec{
		JobName: "test",
		Dir:     t.TempDir(),
		Steps: []workflow.Step{
			{Name: "boom", Run: "exit 3"},
			{Name: "never", Run: "echo never"},
			{Name: "cleanup", Run: "echo cleanup", If: "always()"},
			{Name: "onfail", Run: "echo onfail", If: "failure()"},
		},
	}
	res := New(sink).Run(context.Background(), spec)
	if res.Status != StatusFailure {
		t.Fatalf("job status = %s, want failure", res.Status)
	}
	want := []struct {
		name   string
		status Status
		code   int
	}{
		{"boom", StatusFailure, 3},
		{"never", StatusSkipped, 0},
		{"cleanup", StatusSuccess, 0},
		{"onfail", StatusSuccess, 0},
	}
	for i, w := range want {
		sr := res.Steps[i]
		if sr.Status != w.status || sr.ExitCode != w.code {
			t.Errorf("step %s = %s exit %d, want %s exit %d", w.name, sr.Status, sr.ExitCode, w.status, w.code)
		}
	}
	if got := sink.stream("stdout"); strings.Join(got, ",") != "cleanup,onfail" {
		t.Errorf("stdout lines = %v, want cleanup then onfail", got)
	}
}

func TestRunContinueOnError(t *testing.T) {
	requireUnixShell(t)
	spec := Spec{
		JobName: "test",
		Dir:     t.TempDir(),
		Steps: []workflow.Step{
			{Name: "flaky", Run: "exit 1", ContinueOnError: true},
			{Name: "after", Run: "echo after"},
		},
	}
	res := New(nil).Run(context.Background(), spec)
	if res.Status != StatusSuccess {
		t.Fatalf("job status = %s, want success despite soft failure", res.Status)
	}
	flaky := res.Steps[0]
	if flaky.Status != StatusFailure || !flaky.SoftFailed {
		t.Errorf("flaky step = %+v, want soft-failed failure", flaky)
	}
	if res.Steps[1].Status != StatusSuccess {
		t.Errorf("after step = %+v, want success", res.Steps[1])
	}
}

func TestRunRetries(t *testing.T) {
	requireUnixShell(t)
	spec := Spec{
		JobName: "test",
		Dir:     t.TempDir(),
		Steps: []workflow.Step{
			{
				Name:    "flaky",
				Run:     "if [ -f marker ]; then exit 0; else touch marker; exit 1; fi",
				Retries: 2,
			},
		},
	}
	res := New(nil).Run(context.Background(), spec)
	if res.Status != StatusSuccess {
		t.Fatalf("job status = %s, want success after retry", res.Status)
	}
	if got := res.Steps[0].Attempts; got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestRunRetriesKeepFinalFailure(t *testing.T) {
	requireUnixShell(t)
	spec := Spec{
		JobName: "test",
		Dir:     t.TempDir(),
		Steps:   []workflow.Step{{Name: "boom", Run: "exit 7", Retries: 1}},
	}
	res := New(nil).Run(context.Background(), spec)
	sr := res.Steps[0]
	if sr.Status != StatusFailure || sr.ExitCode != 7 || sr.Attempts != 2 {
		t.Errorf("step = %+v, want failure exit 7 after 2 attempts", sr)
	}
}

func TestRunEnvLayering(t *testing.T) {
	requireUnixShell(t)
	sink := &recordingSink{}
	spec := Spec{
		RunID:   "run-1",
		JobName: "test (3.11)",
		Dir:     t.TempDir(),
		Env:     map[string]string{"FROM_JOB": "job", "OVERRIDE": "job"},
		Matrix: workflow.Combination{
			Keys:   []string{"python-version"},
			Values: map[string]string{"python-version": "3.11"},
		},
		GitHub:       map[string]string{"ref": "refs/heads/main"},
		CoverageFile: "/tmp/cov.out",
		Steps: []workflow.Step{
			{
				Name: "env",
				Run:  `echo "$FROM_JOB|$OVERRIDE|$MATRIX_PYTHON_VERSION|$GITHUB_REF|$GANTRY_RUN_ID|$GANTRY_COVERAGE"`,
				Env:  map[string]string{"OVERRIDE": "step"},
			},
		},
	}
	res := New(sink).Run(context.Background(), spec)
	if res.Status != StatusSuccess {
		t.Fatalf("job status = %s", res.Status)
	}
	got := sink.stream("stdout")
	want := "job|step|3.11|refs/heads/main|run-1|/tmp/cov.out"
	if len(got) != 1 || got[0] != want {
		t.Errorf("env line = %v, want %q", got, want)
	}
}

func TestRunDeadlineSkipsRest(t *testing.T) {
	requireUnixShell(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	spec := Spec{
		JobName: "test",
		Dir:     t.TempDir(),
		Steps: []workflow.Step{
			{Name: "slow", Run: "sleep 10"},
			{Name: "after", Run: "echo after"},
			{Name: "cleanup", Run: "echo cleanup", If: "always()"},
		},
	}
	start := time.Now()
	res := New(nil).Run(ctx, spec)
	if elapsed := time.Since(start); elapsed > 8*time.Second {
		t.Fatalf("run took %v, the sleep was not killed", elapsed)
	}
	if res.Status != StatusFailure {
		t.Fatalf("job status = %s, want failure", res.Status)
	}
	if res.Steps[0].Err == nil {
		t.Error("slow step has no error, want a deadline error")
	}
	if res.Steps[1].Status != StatusSkipped || res.Steps[2].Status != StatusSkipped {
		t.Errorf("steps after deadline = %s, %s, want both skipped", res.Steps[1].Status, res.Steps[2].Status)
	}
}

func TestRunMissingShell(t *testing.T) {
	requireUnixShell(t)
	spec := Spec{
		JobName: "test",
		Dir:     t.TempDir(),
		Steps:   []workflow.Step{{Name: "bad", Run: "true", Shell: "no-such-shell-zz"}},
	}
	res := New(nil).Run(context.Background(), spec)
	if res.Status != StatusFailure {
		t.Fatalf("job status = %s, want failure", res.Status)
	}
	sr := res.Steps[0]
	if sr.Status != StatusError || sr.ExitCode != -1 || sr.Err == nil {
		t.Errorf("step = %+v, want error status with exit -1", sr)
	}
}

func TestEnvName(t *testing.T) {
	tests := []struct{ key, want string }{
		{"os", "MATRIX_OS"},
		{"python-version", "MATRIX_PYTHON_VERSION"},
		{"LLVM.version", "MATRIX_LLVM_VERSION"},
		{"x86_64", "MATRIX_X86_64"},
	}
	for _, tt := range tests {
		if got := EnvName(tt.key); got != tt.want {
			t.Errorf("EnvName(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
