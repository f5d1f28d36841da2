package output

import (
	"time"

	"gantry/internal/checks"
	"gantry/internal/coverage"
)

// Event types, in roughly the order a run produces them.
const (
	EventRunStarted       = "run.started"
	EventJobStarted       = "job.started"
	EventStepLog          = "step.log"
	EventStepResult       = "step.result"
	EventJobFinished      = "job.finished"
	EventCoverageFinished = "coverage.finished"
	EventCheckResult      = "check.result"
	EventRunFinished      = "run.finished"
)

// Event is one lifecycle record of a run. In NDJSON mode sinks emit
// every event as it happens (one JSON object per line); JSON mode keeps
// only the terminal records (job.finished, check.result,
// coverage.finished, run.finished) and writes them as an array on Close.
//
// For check.result the check's result is embedded; its status is mirrored
// into Status so the promoted field survives marshaling.
type Event struct {
	Type     string `json:"type"`
	Workflow string `json:"workflow,omitempty"`
	Job      string `json:"job,omitempty"`
	Step     string `json:"step,omitempty"`
	Stream   string `json:"stream,omitempty"`
	Text     string `json:"text,omitempty"`
	Status   string `json:"status,omitempty"`
	*checks.Result
	SkipReason string  `json:"skip_reason,omitempty"`
	ExitCode   int     `json:"exit_code,omitempty"`
	Attempts   int     `json:"attempts,omitempty"`
	Jobs       int     `json:"jobs,omitempty"`
	Failed     int     `json:"failed,omitempty"`
	Percent    float64 `json:"percent,omitempty"`
	Statements int     `json:"statements,omitempty"`
	Covered    int     `json:"covered,omitempty"`
	Profiles   int     `json:"profiles,omitempty"`
	DurationMS int64   `json:"duration_ms,omitempty"`
}

func RunStarted(workflow string, jobs int) Event {
	return Event{Type: EventRunStarted, Workflow: workflow, Jobs: jobs}
}

func JobStarted(workflow, job string) Event {
	return Event{Type: EventJobStarted, Workflow: workflow, Job: job}
}

func StepLog(job, step, stream, text string) Event {
	return Event{Type: EventStepLog, Job: job, Step: step, Stream: stream, Text: text}
}

func StepResult(job, step, status string, exitCode, attempts int, d time.Duration) Event {
	return Event{
		Type:       EventStepResult,
		Job:        job,
		Step:       step,
		Status:     status,
		ExitCode:   exitCode,
		Attempts:   attempts,
		DurationMS: d.Milliseconds(),
	}
}

func JobFinished(workflow, job, status, skipReason string, d time.Duration) Event {
	return Event{
		Type:       EventJobFinished,
		Workflow:   workflow,
		Job:        job,
		Status:     status,
		SkipReason: skipReason,
		DurationMS: d.Milliseconds(),
	}
}

func CoverageFinished(sum coverage.Summary) Event {
	return Event{
		Type:       EventCoverageFinished,
		Percent:    sum.Percent,
		Statements: sum.Statements,
		Covered:    sum.Covered,
		Profiles:   sum.Profiles,
	}
}

func RunFinished(jobs, failed, exitCode int, d time.Duration) Event {
	return Event{
		Type:       EventRunFinished,
		Jobs:       jobs,
		Failed:     failed,
		ExitCode:   exitCode,
		DurationMS: d.Milliseconds(),
	}
}

func eventFromCheck(r checks.Result) Event {
	return Event{Type: EventCheckResult, Status: string(r.Status), Result: &r}
}

// terminal reports whether the event belongs in aggregate (JSON) output.
func terminal(e Event) bool {
	switch e.Type {
	case EventJobFinished, EventCheckResult, EventCoverageFinished, EventRunFinished:
		return true
	}
	return false
}
