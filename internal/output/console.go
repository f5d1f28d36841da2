package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"gantry/internal/checks"
)

type ConsoleSink struct {
	writer          io.Writer
	format          string // "text", "json", "ndjson"
	verboseSteps    bool
	mu              sync.Mutex
	events          []Event // for JSON array output
	allowedStatuses map[string]bool
}

// NewConsoleSink writes run events for humans. verboseSteps controls whether
// the text format prints live step output; json and ndjson always carry it.
func NewConsoleSink(w io.Writer, format string, filterStatuses []string, verboseSteps bool) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	if format == "" {
		format = "text"
	}

	s := &ConsoleSink{
		writer:       w,
		format:       format,
		verboseSteps: verboseSteps,
	}

	if len(filterStatuses) > 0 {
		s.allowedStatuses = make(map[string]bool)
		for _, st := range filterStatuses {
			s.allowedStatuses[strings.ToUpper(st)] = true
		}
	}

	return s
}

func (s *ConsoleSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(coerceEvent(v))
}

// coerceEvent lets callers hand sinks a bare check result.
func coerceEvent(v any) (Event, bool) {
	switch t := v.(type) {
	case Event:
		return t, true
	case checks.Result:
		return eventFromCheck(t), true
	default:
		return Event{}, false
	}
}

// filtered events carry a status the caller asked to hide. Events
// without a status (logs, lifecycle markers) always pass.
func (s *ConsoleSink) filtered(e Event) bool {
	if len(s.allowedStatuses) == 0 || e.Status == "" {
		return false
	}
	return !s.allowedStatuses[strings.ToUpper(e.Status)]
}

func (s *ConsoleSink) writeLocked(e Event, ok bool) error {
	if !ok {
		return nil
	}
	if s.filtered(e) {
		return nil
	}

	switch s.format {
	case "json":
		if terminal(e) {
			s.events = append(s.events, e)
		}
		return nil
	case "ndjson":
		if err := json.NewEncoder(s.writer).Encode(e); err != nil {
			return err
		}
		return flushIfPossible(s.writer)
	case "text":
		if err := s.writeText(e); err != nil {
			return err
		}
		return flushIfPossible(s.writer)
	default:
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
}

func (s *ConsoleSink) writeText(e Event) error {
	printf := func(format string, args ...any) error {
		_, err := fmt.Fprintf(s.writer, format, args...)
		return err
	}

	switch e.Type {
	case EventRunStarted:
		return printf("run %s: %d job(s)\n", e.Workflow, e.Jobs)
	case EventJobStarted:
		return printf("%s\n", color.New(color.Faint).Sprintf("--- %s", e.Job))
	case EventStepLog:
		if !s.verboseSteps {
			return nil
		}
		text := e.Text
		if e.Stream == "stderr" {
			text = color.New(color.Faint).Sprint(text)
		}
		return printf("%s | %s\n", e.Job, text)
	case EventStepResult:
		// Successful steps stay quiet; their logs already showed.
		if e.Status == "success" {
			return nil
		}
		return printf("%s %s: step %q exit %d after %d attempt(s)\n",
			statusLabel(e.Status), e.Job, e.Step, e.ExitCode, e.Attempts)
	case EventJobFinished:
		line := fmt.Sprintf("%s %s (%s)", statusLabel(e.Status), e.Job, formatMillis(e.DurationMS))
		if e.SkipReason != "" {
			line += " - " + e.SkipReason
		}
		return printf("%s\n", line)
	case EventCoverageFinished:
		return printf("coverage: %.1f%% of statements (%d/%d) across %d profile(s)\n",
			e.Percent, e.Covered, e.Statements, e.Profiles)
	case EventCheckResult:
		if e.Result == nil {
			return nil
		}
		line := fmt.Sprintf("%s %s: %s", statusLabel(e.Status), e.Result.Repo, e.Result.CheckID)
		if e.Result.Message != "" {
			line += " - " + e.Result.Message
		}
		return printf("%s\n", line)
	case EventRunFinished:
		return printf("run finished: %d job(s), %d failed (exit %d, %s)\n",
			e.Jobs, e.Failed, e.ExitCode, formatMillis(e.DurationMS))
	default:
		return nil
	}
}

func statusLabel(status string) string {
	label := "[" + status + "]"
	switch strings.ToUpper(status) {
	case "SUCCESS", "PASS":
		return color.GreenString(label)
	case "FAILURE", "FAIL":
		return color.RedString(label)
	case "ERROR":
		return color.YellowString(label)
	case "SKIPPED":
		return color.New(color.Faint).Sprint(label)
	default:
		return label
	}
}

func formatMillis(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}

func (s *ConsoleSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.format == "json" {
		encoder := json.NewEncoder(s.writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(s.events); err != nil {
			return err
		}
		return flushIfPossible(s.writer)
	}
	if s.format != "text" && s.format != "ndjson" {
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
	return nil
}
