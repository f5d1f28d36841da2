package output

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// ReportSink accumulates a run's events and writes a Markdown report
// when the run closes.
type ReportSink struct {
	path string
	file *os.File
	mu   sync.Mutex

	run      *Event
	jobOrder []string
	jobs     map[string]*jobReport
	checks   []Event
	coverage *Event
	finished *Event
}

type jobReport struct {
	name        string
	status      string
	skipReason  string
	durationMS  int64
	failedSteps []Event
}

func NewReportSink(path string) (*ReportSink, error) {
	if path == "" {
		return nil, fmt.Errorf("report path required")
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create report file: %w", err)
	}

	return &ReportSink{
		path: path,
		file: f,
		jobs: make(map[string]*jobReport),
	}, nil
}

func (s *ReportSink) job(name string) *jobReport {
	jr, ok := s.jobs[name]
	if !ok {
		jr = &jobReport{name: name}
		s.jobs[name] = jr
		s.jobOrder = append(s.jobOrder, name)
	}
	return jr
}

func (s *ReportSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := coerceEvent(v)
	if !ok {
		return nil
	}

	switch e.Type {
	case EventRunStarted:
		run := e
		s.run = &run
	case EventJobStarted:
		s.job(e.Job)
	case EventStepResult:
		if e.Status == "failure" || e.Status == "error" {
			jr := s.job(e.Job)
			jr.failedSteps = append(jr.failedSteps, e)
		}
	case EventJobFinished:
		jr := s.job(e.Job)
		jr.status = e.Status
		jr.skipReason = e.SkipReason
		jr.durationMS = e.DurationMS
	case EventCheckResult:
		s.checks = append(s.checks, e)
	case EventCoverageFinished:
		cov := e
		s.coverage = &cov
	case EventRunFinished:
		fin := e
		s.finished = &fin
	}
	return nil
}

func (s *ReportSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	b.WriteString("# Gantry Run Report\n\n")

	if s.run != nil && s.run.Workflow != "" {
		fmt.Fprintf(&b, "Workflow: `%s`\n\n", s.run.Workflow)
	}

	if s.finished != nil {
		fmt.Fprintf(&b, "%d job(s), %d failed. Exit code %d. Took %s.\n\n",
			s.finished.Jobs, s.finished.Failed, s.finished.ExitCode, formatMillis(s.finished.DurationMS))
	}

	if len(s.jobOrder) > 0 {
		b.WriteString("## Jobs\n\n")
		b.WriteString("| Job | Status | Duration | Notes |\n")
		b.WriteString("| --- | ------ | -------- | ----- |\n")
		for _, name := range s.jobOrder {
			jr := s.jobs[name]
			notes := jr.skipReason
			if notes == "" && len(jr.failedSteps) > 0 {
				notes = fmt.Sprintf("%d failed step(s)", len(jr.failedSteps))
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
				mdCell(jr.name), jr.status, formatMillis(jr.durationMS), mdCell(notes))
		}
		b.WriteString("\n")
	}

	var failed []Event
	for _, name := range s.jobOrder {
		failed = append(failed, s.jobs[name].failedSteps...)
	}
	if len(failed) > 0 {
		b.WriteString("## Failed Steps\n\n")
		for _, e := range failed {
			fmt.Fprintf(&b, "- %s: step %q exit %d after %d attempt(s)\n",
				e.Job, e.Step, e.ExitCode, e.Attempts)
		}
		b.WriteString("\n")
	}

	if s.coverage != nil {
		b.WriteString("## Coverage\n\n")
		fmt.Fprintf(&b, "%.1f%% of statements covered (%d/%d) across %d profile(s).\n\n",
			s.coverage.Percent, s.coverage.Covered, s.coverage.Statements, s.coverage.Profiles)
	}

	if len(s.checks) > 0 {
		b.WriteString("## Checks\n\n")
		b.WriteString("| Check | Status | Message |\n")
		b.WriteString("| ----- | ------ | ------- |\n")
		for _, e := range s.checks {
			if e.Result == nil {
				continue
			}
			fmt.Fprintf(&b, "| %s | %s | %s |\n",
				mdCell(e.Result.CheckID), e.Status, mdCell(e.Result.Message))
		}
		b.WriteString("\n")
	}

	_, writeErr := s.file.WriteString(b.String())
	if closeErr := s.file.Close(); closeErr != nil && writeErr == nil {
		writeErr = closeErr
	}
	return writeErr
}

// mdCell keeps free text from breaking a Markdown table row.
func mdCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}
