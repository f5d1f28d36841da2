package engine

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"

	"gantry/internal/config"
	"gantry/internal/event"
	"gantry/internal/runner"
	"gantry/internal/workflow"
)

// RunPlan is the fully expanded execution plan for one event: every job of
// every triggered workflow, crossed with its matrix, in file order.
type RunPlan struct {
	RunID string
	Event event.Event
	// Workflows lists the display names of the selected workflows, in
	// discovery order.
	Workflows []string
	Units     []*JobUnit
}

// JobUnit is one schedulable unit: a job, or a single matrix cell of one.
type JobUnit struct {
	// ID is the unit's position in plan order.
	ID       int
	Workflow string
	JobID    string
	// Name is the display name, including the matrix cell when any.
	Name string

	// GroupKey is shared by every cell of the same job. Fail-fast and
	// max-parallel apply per group, and needs references name groups.
	GroupKey string
	// Needs lists the group keys whose every cell must succeed before this
	// unit starts.
	Needs []string

	RunsOn      string
	FailFast    bool
	MaxParallel int
	// ContinueOnError keeps the run green when this unit fails.
	ContinueOnError bool

	// SkipReason marks a unit planned as skipped: its runs-on label needs
	// an OS this host is not.
	SkipReason string
	// FailReason is the same mismatch under --platform-mismatch=fail.
	FailReason string

	Spec runner.Spec
}

// UnitResult is the outcome of one unit.
type UnitResult struct {
	Unit   *JobUnit
	Result runner.Result
	// SkipReason is why the unit never ran: a planned skip or failure,
	// unmet needs, or a fail-fast cancellation.
	SkipReason string
	// SoftFailed marks a failed unit whose job-level continue-on-error
	// keeps the run green.
	SoftFailed bool
}

// Plan expands the workflows the event triggers into concrete units. With
// cfg.Run.Workflow set, that one workflow is planned regardless of its
// triggers; cfg.Run.Job restricts planning to a single job ID and drops its
// needs, since what it needs is not part of the run.
func Plan(workflows []*workflow.Workflow, ev event.Event, cfg *config.Config) (*RunPlan, error) {
	selected, err := selectWorkflows(workflows, ev, cfg)
	if err != nil {
		return nil, err
	}

	p := &RunPlan{
		RunID: uuid.NewString(),
		Event: ev,
	}
	gh := githubContext(ev, cfg.Run.Root)

	var matchedJob bool
	for _, wf := range selected {
		p.Workflows = append(p.Workflows, wf.Name)
		for i := range wf.Jobs {
			job := &wf.Jobs[i]
			if cfg.Run.Job != "" {
				if job.ID != cfg.Run.Job {
					continue
				}
				matchedJob = true
			}
			if err := planJob(p, wf, job, gh, cfg); err != nil {
				return nil, fmt.Errorf("workflow %s: %w", wf.Name, err)
			}
		}
	}
	if cfg.Run.Job != "" && !matchedJob {
		return nil, fmt.Errorf("job %q not found in the selected workflows", cfg.Run.Job)
	}
	return p, nil
}

func selectWorkflows(workflows []*workflow.Workflow, ev event.Event, cfg *config.Config) ([]*workflow.Workflow, error) {
	if cfg.Run.Workflow != "" {
		wf := workflow.Find(workflows, cfg.Run.Workflow)
		if wf == nil {
			return nil, fmt.Errorf("workflow %q not found under %s", cfg.Run.Workflow, workflow.Dir)
		}
		return []*workflow.Workflow{wf}, nil
	}
	return event.Select(ev, workflows), nil
}

// planJob appends one unit per matrix cell, or a single unit for jobs
// without a matrix.
func planJob(p *RunPlan, wf *workflow.Workflow, job *workflow.Job, gh map[string]string, cfg *config.Config) error {
	var combos []workflow.Combination
	failFast := false
	maxParallel := 0
	if job.Strategy != nil {
		var err error
		combos, err = workflow.ExpandMatrix(job.Strategy.Matrix)
		if err != nil {
			return fmt.Errorf("job %s: %w", job.ID, err)
		}
		failFast = job.Strategy.FailFastEnabled()
		maxParallel = job.Strategy.MaxParallel
	}
	if len(combos) == 0 {
		combos = []workflow.Combination{{}}
	}

	var needs []string
	if cfg.Run.Job == "" {
		for _, n := range job.Needs {
			needs = append(needs, groupKey(wf, n))
		}
	}

	for _, combo := range combos {
		unit, err := planUnit(p, wf, job, combo, gh, cfg)
		if err != nil {
			return err
		}
		unit.Needs = needs
		unit.FailFast = failFast
		unit.MaxParallel = maxParallel
		p.Units = append(p.Units, unit)
	}
	return nil
}

func planUnit(p *RunPlan, wf *workflow.Workflow, job *workflow.Job, combo workflow.Combination, gh map[string]string, cfg *config.Config) (*JobUnit, error) {
	raw := mergeEnv(wf.Env, job.Env)
	ectx := workflow.ExprContext{Matrix: combo.Values, Env: raw, GitHub: gh}

	runsOn, err := workflow.Expand(job.RunsOn, ectx)
	if err != nil {
		return nil, fmt.Errorf("job %s: runs-on: %w", job.ID, err)
	}
	name := job.ID
	switch {
	case job.Name != "":
		name, err = workflow.Expand(job.Name, ectx)
		if err != nil {
			return nil, fmt.Errorf("job %s: name: %w", job.ID, err)
		}
	case len(combo.Keys) > 0:
		name = fmt.Sprintf("%s (%s)", job.ID, combo.Name())
	}
	env, err := workflow.ExpandMap(raw, ectx)
	if err != nil {
		return nil, fmt.Errorf("job %s: env: %w", job.ID, err)
	}
	steps, err := expandSteps(job.Steps, ectx)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.ID, err)
	}

	unit := &JobUnit{
		ID:              len(p.Units),
		Workflow:        wf.Name,
		JobID:           job.ID,
		Name:            name,
		GroupKey:        groupKey(wf, job.ID),
		RunsOn:          runsOn,
		ContinueOnError: job.ContinueOnError,
	}

	if !runsOnHost(runsOn) {
		reason := fmt.Sprintf("platform mismatch: needs %s", runsOn)
		switch cfg.Run.Platform {
		case "run":
			// Run it here anyway.
		case "fail":
			unit.FailReason = reason
		default:
			unit.SkipReason = reason
		}
	}

	var coverFile string
	if cfg.Coverage.Enabled {
		coverFile = filepath.Join(cfg.ArtifactsPath(), p.RunID, fmt.Sprintf("unit-%03d.cover.out", unit.ID))
	}

	unit.Spec = runner.Spec{
		RunID:           p.RunID,
		Workflow:        wf.Name,
		JobID:           job.ID,
		JobName:         name,
		RunsOn:          runsOn,
		Matrix:          combo,
		Env:             env,
		GitHub:          gh,
		Steps:           steps,
		Dir:             cfg.Run.Root,
		CoverageFile:    coverFile,
		TimeoutMinutes:  job.TimeoutMinutes,
		ContinueOnError: job.ContinueOnError,
	}
	return unit, nil
}

// expandSteps interpolates every expression a step carries, so the runner
// deals in plain strings only.
func expandSteps(steps []workflow.Step, ectx workflow.ExprContext) ([]workflow.Step, error) {
	out := make([]workflow.Step, len(steps))
	for i, s := range steps {
		var err error
		if s.Name, err = workflow.Expand(s.Name, ectx); err != nil {
			return nil, fmt.Errorf("step %d: name: %w", i+1, err)
		}
		if s.Run, err = workflow.Expand(s.Run, ectx); err != nil {
			return nil, fmt.Errorf("step %d: run: %w", i+1, err)
		}
		if s.WorkingDirectory, err = workflow.Expand(s.WorkingDirectory, ectx); err != nil {
			return nil, fmt.Errorf("step %d: working-directory: %w", i+1, err)
		}
		if s.Env, err = workflow.ExpandMap(s.Env, ectx); err != nil {
			return nil, fmt.Errorf("step %d: env: %w", i+1, err)
		}
		out[i] = s
	}
	return out, nil
}

// groupKey identifies every cell of one job. The workflow file path keeps
// keys unique across workflows sharing a display name.
func groupKey(wf *workflow.Workflow, jobID string) string {
	src := wf.Path
	if src == "" {
		src = wf.Name
	}
	return src + "/" + jobID
}

// needName extracts the job ID from a group key for display.
func needName(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}

func mergeEnv(maps ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// githubContext builds the github.* expression scope and the GITHUB_*
// variables injected into every unit.
func githubContext(ev event.Event, root string) map[string]string {
	ws := root
	if abs, err := filepath.Abs(root); err == nil {
		ws = abs
	}
	return map[string]string{
		"ref":        ev.Ref(),
		"sha":        ev.SHA,
		"event_name": string(ev.Kind),
		"repository": ev.Repository,
		"workspace":  ws,
	}
}

// labelGOOS maps a runs-on label to the GOOS it implies. Unknown labels map
// to "": a custom label says nothing about the OS, so the job runs.
func labelGOOS(label string) string {
	l := strings.ToLower(strings.TrimSpace(label))
	if i := strings.IndexByte(l, '-'); i >= 0 {
		l = l[:i]
	}
	switch l {
	case "ubuntu", "debian", "linux":
		return "linux"
	case "windows":
		return "windows"
	case "macos", "osx", "darwin":
		return "darwin"
	}
	return ""
}

func runsOnHost(label string) bool {
	goos := labelGOOS(label)
	return goos == "" || goos == runtime.GOOS
}
