package builtin

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gantry/internal/checks"
	"gantry/internal/workflow"
)

type MatrixCoversCheck struct {
	axis   string
	values []string
}

func (c *MatrixCoversCheck) ID() string {
	return "matrix-covers"
}

func (c *MatrixCoversCheck) Title() string {
	return "Matrix Covers Required Values"
}

func (c *MatrixCoversCheck) Description() string {
	return "Verifies that at least one workflow job expands a matrix covering every required value along an axis.\n\n" +
		"By default the axis is \"os\" and the required values are ubuntu-latest, windows-latest, and macos-latest, " +
		"so the check fails when a platform silently drops out of the test matrix (for example through an exclude entry). " +
		"Values excluded from a matrix do not count as covered."
}

func (c *MatrixCoversCheck) Options() []checks.Option {
	return []checks.Option{
		{
			Name:        "axis",
			Description: "Matrix axis to inspect.",
			Default:     "os",
		},
		{
			Name:        "values",
			Description: "Comma-separated values the axis must cover across all jobs.",
			Default:     "ubuntu-latest,windows-latest,macos-latest",
		},
	}
}

func (c *MatrixCoversCheck) Configure(opts map[string]string) error {
	c.axis = "os"
	c.values = []string{"ubuntu-latest", "windows-latest", "macos-latest"}

	if v := strings.TrimSpace(opts["axis"]); v != "" {
		c.axis = v
	}
	if v := strings.TrimSpace(opts["values"]); v != "" {
		var values []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				values = append(values, part)
			}
		}
		if len(values) == 0 {
			return fmt.Errorf("values must name at least one required value")
		}
		c.values = values
	}
	return nil
}

func (c *MatrixCoversCheck) Evaluate(ctx context.Context, repo *checks.Context) (checks.Result, error) {
	workflows, wfErr := repo.Workflows()
	if len(workflows) == 0 {
		if wfErr != nil {
			return checks.ErrorResult(repo, c.ID(), fmt.Sprintf("No parsable workflows: %v", wfErr)), nil
		}
		return checks.FailResult(repo, c.ID(), "No workflows found"), nil
	}

	// Union of axis values across every expanded matrix cell of every job.
	covered := map[string]string{} // value -> "workflow/job" that covers it
	sawAxis := false
	for _, wf := range workflows {
		for _, job := range wf.Jobs {
			if job.Strategy == nil || job.Strategy.Matrix == nil {
				continue
			}
			combos, err := workflow.ExpandMatrix(job.Strategy.Matrix)
			if err != nil {
				return checks.ErrorResult(repo, c.ID(), fmt.Sprintf("Expanding matrix for %s/%s: %v", wf.Name, job.ID, err)), nil
			}
			for _, combo := range combos {
				if v, ok := combo.Values[c.axis]; ok {
					sawAxis = true
					if _, seen := covered[v]; !seen {
						covered[v] = wf.Name + "/" + job.ID
					}
				}
			}
		}
	}

	if !sawAxis {
		return checks.FailResult(repo, c.ID(), fmt.Sprintf("No job has a matrix with axis %q", c.axis)), nil
	}

	var missing []string
	for _, want := range c.values {
		if _, ok := covered[want]; !ok {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return checks.FailResultWithMetadata(repo, c.ID(),
			fmt.Sprintf("Axis %q does not cover: %s", c.axis, strings.Join(missing, ", ")),
			map[string]any{"axis": c.axis, "missing": missing},
		), nil
	}
	return checks.PassResultWithMessage(repo, c.ID(), fmt.Sprintf("Axis %q covers all %d required values", c.axis, len(c.values))), nil
}

func init() {
	c := &MatrixCoversCheck{}
	_ = c.Configure(map[string]string{})
	checks.Register(c)
}
