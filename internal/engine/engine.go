package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gantry/internal/config"
	"gantry/internal/coverage"
	"gantry/internal/event"
	"gantry/internal/output"
	"gantry/internal/runner"
	"gantry/internal/workflow"
)

func exitCodeForRun(fatal, partial, failures bool) int {
	// Exit code contract:
	// 0 = clean run
	// 1 = failures detected
	// 2 = partial failure (some units or stages errored)
	// 3 = fatal error (run did not start or did not finish)
	if fatal {
		return 3
	}
	if partial {
		return 2
	}
	if failures {
		return 1
	}
	return 0
}

func setupOutputManager(cfg *config.Config) (*output.Manager, error) {
	outMgr := output.NewManager()

	// Console Sink
	if !cfg.Output.NoConsole {
		if err := outMgr.AddSink(output.NewConsoleSink(nil, cfg.Output.ConsoleFormat, cfg.Output.ConsoleFilterStatus, cfg.Output.VerboseSteps)); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	// Emit Sinks (additional structured streams)
	for _, emit := range cfg.Output.Emit {
		es, err := output.NewEmitSink(os.Stdout, emit)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.AddSink(es); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	// File Sink
	if cfg.Output.Out != "" {
		fs, err := output.NewFileSink(cfg.Output.Out, cfg.Output.OutFormat)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.AddSink(fs); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	// Report Sink
	if cfg.Output.Report != "" {
		rs, err := output.NewReportSink(cfg.Output.Report)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.AddSink(rs); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	return outMgr, nil
}

type Engine struct {
	// schedulerExecute is a test seam for streaming execution.
	// If nil, Engine uses the real runner + scheduler.
	schedulerExecute func(ctx context.Context, cfg *config.Config, plan *RunPlan, sink runner.Sink, started func(*JobUnit)) (<-chan UnitResult, <-chan error)
}

func NewEngine() *Engine {
	return &Engine{}
}

func (e *Engine) executePlanStream(ctx context.Context, cfg *config.Config, plan *RunPlan, sink runner.Sink, started func(*JobUnit)) (<-chan UnitResult, <-chan error) {
	if e.schedulerExecute != nil {
		return e.schedulerExecute(ctx, cfg, plan, sink, started)
	}

	sched, err := NewScheduler(runner.New(sink), cfg.Runtime.Concurrency)
	if err != nil {
		resCh := make(chan UnitResult)
		errCh := make(chan error, 1)
		close(resCh)
		errCh <- err
		close(errCh)
		return resCh, errCh
	}
	sched.OnStart = started
	return sched.Execute(ctx, plan)
}

// sinkAdapter forwards live runner output to the run's sinks as lifecycle
// events. The manager serializes nothing; sinks lock themselves, so this is
// safe for parallel units.
type sinkAdapter struct {
	out *output.Manager
}

func (s sinkAdapter) Log(line runner.LogLine) {
	_ = s.out.Write(output.StepLog(line.JobName, line.Step, line.Stream, line.Text))
}

func (s sinkAdapter) StepDone(ev runner.StepEvent) {
	r := ev.Result
	_ = s.out.Write(output.StepResult(ev.JobName, r.Name, string(r.Status), r.ExitCode, r.Attempts, r.Duration))
}

func (e *Engine) discoverWorkflows(cfg *config.Config) ([]*workflow.Workflow, bool) {
	if !cfg.Output.NoConsole {
		fmt.Fprintln(os.Stderr, "Discovering workflows...")
	}
	workflows, err := workflow.Discover(cfg.Run.Root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing workflows: %v\n", err)
		return nil, false
	}
	return workflows, true
}

// eventFromConfig builds the simulated event a CLI run plans against.
func eventFromConfig(cfg *config.Config) event.Event {
	return event.Event{
		Kind:         event.Kind(cfg.Event.Kind),
		Branch:       cfg.Event.Branch,
		SHA:          cfg.Event.SHA,
		Repository:   cfg.Event.Repository,
		ChangedPaths: cfg.Event.Changed,
	}
}

func maybeDryRun(cfg *config.Config, plan *RunPlan) bool {
	if !cfg.Run.DryRun {
		return false
	}

	fmt.Printf("Planned %d unit(s):\n", len(plan.Units))
	for _, u := range plan.Units {
		line := fmt.Sprintf("%s: %s [%s]", u.Workflow, u.Name, u.RunsOn)
		switch {
		case u.SkipReason != "":
			line += " (skip: " + u.SkipReason + ")"
		case u.FailReason != "":
			line += " (fail: " + u.FailReason + ")"
		}
		if len(u.Needs) > 0 {
			names := make([]string, 0, len(u.Needs))
			for _, key := range u.Needs {
				names = append(names, needName(key))
			}
			line += " needs " + strings.Join(names, ", ")
		}
		fmt.Println(line)
	}
	return true
}

// prepareArtifacts creates the per-run directory unit coverage profiles are
// written into.
func prepareArtifacts(cfg *config.Config, plan *RunPlan) error {
	if !cfg.Coverage.Enabled {
		return nil
	}
	return os.MkdirAll(filepath.Join(cfg.ArtifactsPath(), plan.RunID), 0o755)
}

// collectUnitResults receives streamed unit results, forwards them to the
// sinks, and reports how many units count as failed plus whether any failure
// was infrastructure rather than a failing command.
func collectUnitResults(resCh <-chan UnitResult, outMgr *output.Manager) (failed int, hasErrors bool) {
	for res := range resCh {
		status := res.Result.Status
		if status == "" {
			status = runner.StatusSkipped
		}
		if status == runner.StatusFailure && !res.SoftFailed {
			failed++
			if unitErrored(res) {
				hasErrors = true
			}
		}
		_ = outMgr.Write(output.JobFinished(res.Unit.Workflow, res.Unit.Name, string(status), res.SkipReason, res.Result.Duration))
	}
	return failed, hasErrors
}

// unitErrored reports whether a unit failed on infrastructure: a step whose
// command never ran at all.
func unitErrored(res UnitResult) bool {
	for _, sr := range res.Result.Steps {
		if sr.Status == runner.StatusError && !sr.SoftFailed {
			return true
		}
	}
	return false
}

// finishCoverage aggregates the unit profiles once every unit completed,
// reports the coverage.finished event, writes the merged profile next to the
// unit profiles and uploads the summary when configured. Failures here are
// partial: the job results stand.
func (e *Engine) finishCoverage(ctx context.Context, cfg *config.Config, plan *RunPlan, outMgr *output.Manager) (partial bool) {
	var paths []string
	for _, u := range plan.Units {
		if u.Spec.CoverageFile != "" {
			paths = append(paths, u.Spec.CoverageFile)
		}
	}
	merged, sum, err := coverage.Aggregate(paths, cfg.Coverage.Ignore)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error aggregating coverage: %v\n", err)
		return true
	}
	if merged == nil {
		return false
	}
	_ = outMgr.Write(output.CoverageFinished(sum))

	mergedPath := filepath.Join(cfg.ArtifactsPath(), plan.RunID, "coverage.out")
	if err := writeProfile(mergedPath, merged); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing merged profile: %v\n", err)
		partial = true
	}

	if cfg.Coverage.UploadURL != "" {
		up := &coverage.Uploader{URL: cfg.Coverage.UploadURL, Token: coverageToken(cfg)}
		if err := up.Upload(ctx, plan.RunID, sum); err != nil {
			fmt.Fprintf(os.Stderr, "Error uploading coverage: %v\n", err)
			partial = true
		}
	}
	return partial
}

func writeProfile(path string, p *coverage.Profile) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := p.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func coverageToken(cfg *config.Config) string {
	if cfg.Coverage.Token != "" {
		return cfg.Coverage.Token
	}
	return os.Getenv("GANTRY_COV_TOKEN")
}

// Run plans and executes the workflows the configured event triggers.
func (e *Engine) Run(ctx context.Context, cfg *config.Config) int {
	start := time.Now()

	if cfg.Runtime.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Runtime.Timeout)
		defer cancel()
	}

	workflows, ok := e.discoverWorkflows(cfg)
	if !ok {
		return exitCodeForRun(true, false, false)
	}

	plan, err := Plan(workflows, eventFromConfig(cfg), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error planning run: %v\n", err)
		return exitCodeForRun(true, false, false)
	}
	if !cfg.Output.NoConsole {
		fmt.Fprintf(os.Stderr, "Planned %d unit(s) across %d workflow(s).\n", len(plan.Units), len(plan.Workflows))
	}

	if maybeDryRun(cfg, plan) {
		return 0
	}
	if len(plan.Units) == 0 {
		if !cfg.Output.NoConsole {
			fmt.Fprintln(os.Stderr, "Nothing to run: no workflow matches the event.")
		}
		return 0
	}

	if err := prepareArtifacts(cfg, plan); err != nil {
		fmt.Fprintf(os.Stderr, "Error preparing artifacts directory: %v\n", err)
		return exitCodeForRun(true, false, false)
	}

	outMgr, err := setupOutputManager(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output sinks: %v\n", err)
		return exitCodeForRun(true, false, false)
	}
	defer outMgr.Close()

	_ = outMgr.Write(output.RunStarted(strings.Join(plan.Workflows, ", "), len(plan.Units)))

	started := func(u *JobUnit) {
		_ = outMgr.Write(output.JobStarted(u.Workflow, u.Name))
	}
	resCh, errCh := e.executePlanStream(ctx, cfg, plan, sinkAdapter{out: outMgr}, started)

	failed, hasErrors := collectUnitResults(resCh, outMgr)

	var schedErr error
	// Drain fully; keep one fatal error.
	for err := range errCh {
		if err != nil {
			schedErr = err
		}
	}

	partial := hasErrors
	if cfg.Coverage.Enabled {
		if e.finishCoverage(ctx, cfg, plan, outMgr) {
			partial = true
		}
	}

	fatal := schedErr != nil
	if fatal {
		fmt.Fprintf(os.Stderr, "Run aborted: %v\n", schedErr)
	}
	code := exitCodeForRun(fatal, partial, failed > 0)
	_ = outMgr.Write(output.RunFinished(len(plan.Units), failed, code, time.Since(start)))
	return code
}
