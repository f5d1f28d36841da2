package engine

import (
	"context"
	"errors"
	"fmt"

	"gantry/internal/runner"
)

// UnitRunner executes one unit spec. *runner.Runner is the production
// implementation.
type UnitRunner interface {
	Run(ctx context.Context, spec runner.Spec) runner.Result
}

type Scheduler struct {
	runner      UnitRunner
	concurrency int

	// OnStart, when set, is called from the scheduling loop right before a
	// unit's worker launches. Units settled without running never see it.
	OnStart func(*JobUnit)
}

func NewScheduler(r UnitRunner, concurrency int) (*Scheduler, error) {
	if r == nil {
		return nil, errors.New("unit runner is nil")
	}
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be >= 1, got %d", concurrency)
	}
	return &Scheduler{runner: r, concurrency: concurrency}, nil
}

type unitState int

const (
	statePending unitState = iota
	stateRunning
	stateDone
)

// groupState tracks one job's cells so needs, fail-fast and max-parallel
// can be decided per group.
type groupState struct {
	jobID   string
	total   int
	done    int
	running int
	// failed is set when a cell finished without success; soft failures
	// under job-level continue-on-error do not count.
	failed bool
	// cancelReason is set once fail-fast cancels the group's pending cells.
	cancelReason string
}

func (g *groupState) settled() bool { return g.done == g.total }

type unitDone struct {
	index  int
	result runner.Result
}

type verdict int

const (
	verdictWait verdict = iota
	verdictRun
	verdictSkip
	verdictFail
)

// Execute streams per-unit results as units finish.
//
// Channel semantics:
//   - In the normal (non-canceled) case, exactly one UnitResult is sent per
//     unit, planned skips included.
//   - On context cancellation, the scheduler stops promptly; it may emit
//     fewer results than units.
//   - The results channel and error channel are both closed reliably.
//   - The error channel carries fatal errors and cancellation; per-unit
//     failures travel inside UnitResult.
func (s *Scheduler) Execute(ctx context.Context, plan *RunPlan) (<-chan UnitResult, <-chan error) {
	resultsCh := make(chan UnitResult)
	errCh := make(chan error, 1)

	go func() {
		defer close(resultsCh)
		defer close(errCh)

		trySendErr := func(err error) {
			if err == nil {
				return
			}
			select {
			case errCh <- err:
			default:
			}
		}

		if ctx == nil {
			trySendErr(errors.New("context is nil"))
			return
		}
		if plan == nil {
			trySendErr(errors.New("run plan is nil"))
			return
		}
		if s == nil || s.runner == nil {
			trySendErr(errors.New("scheduler runner is nil"))
			return
		}
		if s.concurrency <= 0 {
			trySendErr(fmt.Errorf("scheduler concurrency must be >= 1, got %d", s.concurrency))
			return
		}

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		states := make([]unitState, len(plan.Units))
		groups := buildGroups(plan)
		doneCh := make(chan unitDone)
		running := 0
		finished := 0

		emit := func(res UnitResult) {
			select {
			case resultsCh <- res:
			case <-runCtx.Done():
			}
		}

		// settle records a unit that never ran.
		settle := func(i int, status runner.Status, reason string) {
			u := plan.Units[i]
			states[i] = stateDone
			finished++
			g := groups[u.GroupKey]
			g.done++
			if status != runner.StatusSuccess && !u.ContinueOnError {
				g.failed = true
			}
			emit(UnitResult{Unit: u, Result: runner.Result{Status: status}, SkipReason: reason})
		}

		complete := func(msg unitDone) {
			u := plan.Units[msg.index]
			states[msg.index] = stateDone
			finished++
			running--
			g := groups[u.GroupKey]
			g.running--
			g.done++

			soft := msg.result.Status != runner.StatusSuccess && u.ContinueOnError
			if msg.result.Status != runner.StatusSuccess && !u.ContinueOnError {
				g.failed = true
				if u.FailFast && g.cancelReason == "" {
					g.cancelReason = fmt.Sprintf("fail-fast: %s failed", u.Name)
				}
			}
			emit(UnitResult{Unit: u, Result: msg.result, SoftFailed: soft})
		}

	scheduleLoop:
		for finished < len(plan.Units) {
			// Settle and launch whatever can move without waiting: planned
			// skips and failures, needs already missed, fail-fast canceled
			// cells, and ready units while slots allow. One pass can unlock
			// another, so loop until nothing changes.
			progress := true
			for progress && runCtx.Err() == nil {
				progress = false
				for i, u := range plan.Units {
					if states[i] != statePending {
						continue
					}
					switch v, reason := decide(u, groups); v {
					case verdictSkip:
						settle(i, runner.StatusSkipped, reason)
						progress = true
					case verdictFail:
						settle(i, runner.StatusFailure, reason)
						progress = true
					case verdictRun:
						if running >= s.concurrency {
							continue
						}
						states[i] = stateRunning
						running++
						groups[u.GroupKey].running++
						if s.OnStart != nil {
							s.OnStart(u)
						}
						go func(i int, spec runner.Spec) {
							doneCh <- unitDone{index: i, result: s.runner.Run(runCtx, spec)}
						}(i, u.Spec)
						progress = true
					case verdictWait:
					}
				}
			}

			if finished == len(plan.Units) {
				break
			}
			if running == 0 {
				if runCtx.Err() != nil {
					break
				}
				// Parsing validates the needs graph, so pending units with
				// nothing running means a hand-built plan with a cycle.
				trySendErr(fmt.Errorf("scheduling stuck: %d unit(s) pending with nothing running", len(plan.Units)-finished))
				return
			}

			select {
			case msg := <-doneCh:
				complete(msg)
			case <-runCtx.Done():
				break scheduleLoop
			}
		}

		// Canceled workers still report; receive them so none leaks.
		for running > 0 {
			complete(<-doneCh)
		}

		trySendErr(ctx.Err())
	}()

	return resultsCh, errCh
}

// decide reports what can happen to a pending unit right now. The caller
// checks the global concurrency slot for verdictRun.
func decide(u *JobUnit, groups map[string]*groupState) (verdict, string) {
	if u.FailReason != "" {
		return verdictFail, u.FailReason
	}
	if u.SkipReason != "" {
		return verdictSkip, u.SkipReason
	}
	g := groups[u.GroupKey]
	if g.cancelReason != "" {
		return verdictSkip, g.cancelReason
	}
	for _, key := range u.Needs {
		need := groups[key]
		if need == nil {
			return verdictSkip, fmt.Sprintf("needs %s which is not planned", needName(key))
		}
		if !need.settled() {
			return verdictWait, ""
		}
		if need.failed {
			return verdictSkip, fmt.Sprintf("needs %s which did not succeed", need.jobID)
		}
	}
	if u.MaxParallel > 0 && g.running >= u.MaxParallel {
		return verdictWait, ""
	}
	return verdictRun, ""
}

func buildGroups(plan *RunPlan) map[string]*groupState {
	groups := make(map[string]*groupState)
	for _, u := range plan.Units {
		g := groups[u.GroupKey]
		if g == nil {
			g = &groupState{jobID: u.JobID}
			groups[u.GroupKey] = g
		}
		g.total++
	}
	return groups
}
