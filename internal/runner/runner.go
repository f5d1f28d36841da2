// Package runner executes one planned job: its steps run as shell commands
// with layered environments, per-step retries and timeouts, and streamed
// output. The runner reports what happened through a Sink and never decides
// run-level policy; that belongs to the engine.
package runner

import (
	"context"
	"strings"
	"time"

	"gantry/internal/workflow"
)

// Status is the outcome of a step or job.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// Spec is one fully expanded unit of work: a job, or a single matrix cell
// of one. All expressions are already interpolated by the planner; the
// runner only layers environments and runs commands.
type Spec struct {
	RunID    string
	Workflow string
	JobID    string
	// JobName is the display name, including the matrix cell when any.
	JobName string
	RunsOn  string
	Matrix  workflow.Combination
	// Env is the merged workflow-plus-job environment.
	Env map[string]string
	// GitHub carries the event context (ref, sha, event_name, repository,
	// workspace); each key becomes a GITHUB_* variable.
	GitHub map[string]string
	Steps  []workflow.Step
	// Dir is the repository root commands run in.
	Dir string
	// CoverageFile, when set, is exported as GANTRY_COVERAGE so steps know
	// where to write their coverage profile.
	CoverageFile    string
	TimeoutMinutes  int
	ContinueOnError bool
}

// Result is the outcome of running a Spec.
type Result struct {
	Status   Status
	Steps    []StepResult
	Duration time.Duration
}

// StepResult is the outcome of one step.
type StepResult struct {
	Name     string
	Status   Status
	ExitCode int
	// Attempts counts command invocations, so 1 without retries.
	Attempts int
	Duration time.Duration
	// SoftFailed marks a failed step whose continue-on-error kept the job
	// going.
	SoftFailed bool
	Err        error
}

// LogLine is one line of live step output.
type LogLine struct {
	JobName string
	Step    string
	Stream  string // "stdout" or "stderr"
	Text    string
}

// StepEvent reports one finished step.
type StepEvent struct {
	JobName string
	Result  StepResult
}

// Sink receives live output from a running job. Implementations must be
// safe for concurrent use; parallel units share one sink.
type Sink interface {
	Log(line LogLine)
	StepDone(ev StepEvent)
}

// Runner executes specs sequentially, one step at a time.
type Runner struct {
	sink Sink
}

// New returns a Runner reporting to sink. A nil sink discards output.
func New(sink Sink) *Runner {
	return &Runner{sink: sink}
}

// Run executes every step of the spec in order. A hard step failure flips
// the job to failure and skips later steps unless their condition says
// otherwise; always() steps still run, failure() steps run only then. Once
// the job deadline expires, everything left is skipped.
func (r *Runner) Run(ctx context.Context, spec Spec) Result {
	start := time.Now()
	if spec.TimeoutMinutes > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(spec.TimeoutMinutes)*time.Minute)
		defer cancel()
	}

	env := buildEnv(spec)
	result := Result{Status: StatusSuccess}
	failed := false

	for _, step := range spec.Steps {
		name := stepName(step)

		cond, err := workflow.ParseCondition(step.If)
		if err != nil {
			// Parse validates conditions, so this only happens for specs
			// built by hand.
			sr := StepResult{Name: name, Status: StatusError, ExitCode: -1, Err: err}
			result.Steps = append(result.Steps, sr)
			r.stepDone(spec, sr)
			failed = true
			continue
		}

		runIt := false
		switch cond {
		case workflow.CondSuccess:
			runIt = !failed
		case workflow.CondAlways:
			runIt = true
		case workflow.CondFailure:
			runIt = failed
		}
		if ctx.Err() != nil {
			runIt = false
		}
		if !runIt {
			sr := StepResult{Name: name, Status: StatusSkipped}
			result.Steps = append(result.Steps, sr)
			r.stepDone(spec, sr)
			continue
		}

		sr := r.runStep(ctx, spec, step, name, env)
		if sr.Status == StatusFailure || sr.Status == StatusError {
			if step.ContinueOnError {
				sr.SoftFailed = true
			} else {
				failed = true
			}
		}
		result.Steps = append(result.Steps, sr)
		r.stepDone(spec, sr)
	}

	if failed {
		result.Status = StatusFailure
	}
	result.Duration = time.Since(start)
	return result
}

// runStep invokes the step's command up to 1+Retries times and keeps the
// final attempt's outcome.
func (r *Runner) runStep(ctx context.Context, spec Spec, step workflow.Step, name string, env []string) StepResult {
	start := time.Now()
	sr := StepResult{Name: name}

	attempts := 1 + step.Retries
	for attempt := 1; attempt <= attempts; attempt++ {
		sr.Attempts = attempt
		sr.ExitCode, sr.Err = r.invoke(ctx, spec, step, name, env)
		if sr.ExitCode == 0 && sr.Err == nil {
			break
		}
		if ctx.Err() != nil {
			break // no point retrying into an expired deadline
		}
	}

	switch {
	case sr.Err != nil && sr.ExitCode < 0:
		sr.Status = StatusError
	case sr.ExitCode != 0 || sr.Err != nil:
		sr.Status = StatusFailure
	default:
		sr.Status = StatusSuccess
	}
	sr.Duration = time.Since(start)
	return sr
}

func (r *Runner) log(line LogLine) {
	if r.sink != nil {
		r.sink.Log(line)
	}
}

func (r *Runner) stepDone(spec Spec, sr StepResult) {
	if r.sink != nil {
		r.sink.StepDone(StepEvent{JobName: spec.JobName, Result: sr})
	}
}

// stepName falls back to the command's first line for unnamed steps.
func stepName(step workflow.Step) string {
	if step.Name != "" {
		return step.Name
	}
	line, _, _ := strings.Cut(strings.TrimSpace(step.Run), "\n")
	if line == "" {
		return "step"
	}
	return line
}
