// Package builtin holds the checks that ship with gantry. Importing the
// package registers all of them.
package builtin

import (
	"context"
	"fmt"

	"gantry/internal/checks"
)

type WorkflowsParseCheck struct{}

func (c *WorkflowsParseCheck) ID() string {
	return "workflows-parse"
}

func (c *WorkflowsParseCheck) Title() string {
	return "Workflows Parse"
}

func (c *WorkflowsParseCheck) Description() string {
	return "Verifies that the repository has workflow files under .gantry/workflows and that every one of them parses cleanly. " +
		"A workflow that does not parse never runs, so a broken file silently disables CI for the events it was meant to cover."
}

func (c *WorkflowsParseCheck) Evaluate(ctx context.Context, repo *checks.Context) (checks.Result, error) {
	files, err := repo.WorkflowFiles()
	if err != nil {
		return checks.ErrorResult(repo, c.ID(), fmt.Sprintf("Listing workflow files failed: %v", err)), nil
	}
	if len(files) == 0 {
		return checks.FailResult(repo, c.ID(), "No workflow files found under .gantry/workflows"), nil
	}

	workflows, wfErr := repo.Workflows()
	if wfErr != nil {
		return checks.FailResult(repo, c.ID(), fmt.Sprintf("Workflow files with parse errors: %v", wfErr)), nil
	}
	return checks.PassResultWithMessage(repo, c.ID(), fmt.Sprintf("%d workflow(s) parsed", len(workflows))), nil
}

func init() {
	checks.Register(&WorkflowsParseCheck{})
}
