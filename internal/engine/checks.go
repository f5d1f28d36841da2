package engine

import (
	"context"
	"fmt"
	"os"

	"gantry/internal/checks"
	"gantry/internal/config"
)

// applyCheckOptionsIfAny applies per-check configuration supplied via
// repeated --set flags.
//
// --set values are parsed as "checkID.option=value" and routed to the
// matching check's Configure method (only checks that implement
// checks.ConfigurableCheck).
//
// Example:
//   gantry check --set matrix-covers.values=ubuntu-latest,windows-latest
func applyCheckOptionsIfAny(cfg *config.Config) error {
	if len(cfg.Checks.Set) == 0 {
		return nil
	}

	assignments, err := config.ParseCheckOptionAssignments(cfg.Checks.Set)
	if err != nil {
		return err
	}

	all := checks.List()
	byID := make(map[string]checks.Check, len(all))
	for _, c := range all {
		byID[c.ID()] = c
	}

	for checkID, opts := range assignments {
		c, ok := byID[checkID]
		if !ok {
			return fmt.Errorf("unknown check ID %q", checkID)
		}
		cc, ok := c.(checks.ConfigurableCheck)
		if !ok {
			return fmt.Errorf("check %q does not support options", checkID)
		}

		allowed := make(map[string]struct{})
		for _, opt := range cc.Options() {
			allowed[opt.Name] = struct{}{}
		}
		for name := range opts {
			if _, ok := allowed[name]; !ok {
				return fmt.Errorf("unknown option %q for check %q", name, checkID)
			}
		}

		if err := cc.Configure(opts); err != nil {
			return fmt.Errorf("configure check %q: %w", checkID, err)
		}
	}

	return nil
}

func resolveAndConfigureChecks(cfg *config.Config) ([]checks.Check, bool) {
	if !cfg.Output.NoConsole {
		fmt.Fprintln(os.Stderr, "Resolving checks...")
	}
	selected, err := checks.Resolve(cfg.Checks.Selector)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving checks: %v\n", err)
		return nil, false
	}

	if err := applyCheckOptionsIfAny(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring checks: %v\n", err)
		return nil, false
	}

	if !cfg.Output.NoConsole {
		fmt.Fprintf(os.Stderr, "Selected %d checks.\n", len(selected))
	}
	return selected, true
}

// RunChecks evaluates the selected checks against the repository at the run
// root and reports results through the configured sinks.
func (e *Engine) RunChecks(ctx context.Context, cfg *config.Config) int {
	selected, ok := resolveAndConfigureChecks(cfg)
	if !ok {
		return exitCodeForRun(true, false, false)
	}

	outMgr, err := setupOutputManager(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output sinks: %v\n", err)
		return exitCodeForRun(true, false, false)
	}
	defer outMgr.Close()

	repo := checks.NewContext(cfg.Run.Root)
	hasErrors := false
	hasFailures := false
	for _, c := range selected {
		if ctx.Err() != nil {
			hasErrors = true
			break
		}

		res, err := c.Evaluate(ctx, repo)
		if err != nil {
			res = checks.Result{
				CheckID: c.ID(),
				Status:  checks.StatusError,
				Message: fmt.Sprintf("Evaluation failed: %v", err),
			}
		}

		// Backfill identifiers so output stays consistent and well-formed.
		// Checks usually care about PASS/FAIL + message/evidence; the engine
		// already knows the repo and check ID, so it stamps them here to keep
		// sinks (ndjson/report/etc) happy.
		if res.Repo == "" {
			res.Repo = repo.Name()
		}
		if res.CheckID == "" {
			res.CheckID = c.ID()
		}

		switch res.Status {
		case checks.StatusFail:
			hasFailures = true
		case checks.StatusError:
			hasErrors = true
		}

		_ = outMgr.Write(res)
	}

	return exitCodeForRun(false, hasErrors, hasFailures)
}
