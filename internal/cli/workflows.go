package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gantry/internal/flags"
	"gantry/internal/workflow"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var workflowsListQuiet bool
var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "Inspect workflow definitions",
	Long: `Inspect the workflow files under <root>/.gantry/workflows.

This command group helps you see which workflows exist, what triggers them,
and whether they parse. Workflows are executed by "gantry run"
(see "gantry run --help").

Examples:
  # List all workflow files
  gantry workflows list
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var workflowsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflow files and their parse status",
	Long: `List the workflow files found under <root>/.gantry/workflows.

Files that fail to parse are listed with their error instead of aborting the
listing, so one broken file does not hide the rest.

Examples:
  gantry workflows list
  gantry workflows list --root ../myproject
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := workflow.Files(cfg.Run.Root)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(files) == 0 {
			fmt.Fprintf(out, "No workflow files under %s\n", filepath.Join(cfg.Run.Root, filepath.FromSlash(workflow.Dir)))
			return nil
		}

		for _, f := range files {
			wf, err := workflow.ParseFile(f)
			if err != nil {
				if workflowsListQuiet {
					continue
				}
				printWorkflowError(out, filepath.Base(f), err)
				continue
			}
			if workflowsListQuiet {
				fmt.Fprintln(out, wf.Name)
			} else {
				printWorkflow(out, wf)
			}
		}
		return nil
	},
}

var workflowsShowCmd = &cobra.Command{
	Use:   "show [workflow]",
	Short: "Show details of a specific workflow",
	Long: `Show a workflow's triggers, jobs, matrices, and steps.

The workflow is selected by display name, file name, or file name without
extension.

Examples:
  gantry workflows show tests
  gantry workflows show release.yml
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := workflow.Files(cfg.Run.Root)
		if err != nil {
			return err
		}
		var workflows []*workflow.Workflow
		for _, f := range files {
			// Broken sibling files must not block showing a good one.
			if wf, err := workflow.ParseFile(f); err == nil {
				workflows = append(workflows, wf)
			}
		}
		wf := workflow.Find(workflows, args[0])
		if wf == nil {
			return fmt.Errorf("workflow not found: %s", args[0])
		}
		printWorkflowDetail(cmd.OutOrStdout(), wf)
		return nil
	},
}

func printWorkflowError(w io.Writer, file string, err error) {
	red := color.New(color.FgRed, color.Bold)
	fmt.Fprintln(w, "----------------------------------------")
	red.Fprintf(w, "WORKFLOW: %s (parse error)\n", file)
	fmt.Fprintln(w, "----------------------------------------")
	fmt.Fprintln(w, err.Error())
	fmt.Fprintln(w)
}

func printWorkflow(w io.Writer, wf *workflow.Workflow) {
	bold := color.New(color.Bold)
	fmt.Fprintln(w, "----------------------------------------")
	bold.Fprintf(w, "WORKFLOW: %s\n", wf.Name)
	fmt.Fprintln(w, "----------------------------------------")
	fmt.Fprintf(w, "file:     %s\n", filepath.Base(wf.Path))
	fmt.Fprintf(w, "triggers: %s\n", describeTriggers(wf.On))
	for i := range wf.Jobs {
		j := &wf.Jobs[i]
		fmt.Fprintf(w, "job:      %s [%s] (%d step(s))\n", j.ID, j.RunsOn, len(j.Steps))
	}
	fmt.Fprintln(w)
}

func printWorkflowDetail(w io.Writer, wf *workflow.Workflow) {
	bold := color.New(color.Bold)
	fmt.Fprintln(w, "----------------------------------------")
	bold.Fprintf(w, "WORKFLOW: %s\n", wf.Name)
	fmt.Fprintln(w, "----------------------------------------")
	fmt.Fprintf(w, "file:     %s\n", wf.Path)
	fmt.Fprintf(w, "triggers: %s\n", describeTriggers(wf.On))

	for i := range wf.Jobs {
		j := &wf.Jobs[i]
		fmt.Fprintln(w)
		bold.Fprintf(w, "  %s\n", j.DisplayName())
		fmt.Fprintf(w, "    runs-on: %s\n", j.RunsOn)
		if len(j.Needs) > 0 {
			fmt.Fprintf(w, "    needs:   %s\n", strings.Join(j.Needs, ", "))
		}
		if j.Strategy != nil && j.Strategy.Matrix != nil {
			for _, axis := range j.Strategy.Matrix.Axes {
				fmt.Fprintf(w, "    matrix:  %s = %s\n", axis.Key, strings.Join(axis.Values, ", "))
			}
			if j.Strategy.FailFastEnabled() {
				fmt.Fprintln(w, "    fail-fast: true")
			}
			if j.Strategy.MaxParallel > 0 {
				fmt.Fprintf(w, "    max-parallel: %d\n", j.Strategy.MaxParallel)
			}
		}
		for _, s := range j.Steps {
			name := s.Name
			if name == "" {
				name = s.Run
			}
			fmt.Fprintf(w, "    step: %s\n", name)
		}
	}
	fmt.Fprintln(w)
}

// describeTriggers renders the trigger set on one line, e.g.
// "push (branches: main), pull_request, workflow_dispatch".
func describeTriggers(t workflow.Triggers) string {
	var parts []string
	if t.Push != nil {
		parts = append(parts, "push"+describeFilter(t.Push))
	}
	if t.PullRequest != nil {
		parts = append(parts, "pull_request"+describeFilter(t.PullRequest))
	}
	if t.Dispatch {
		parts = append(parts, "workflow_dispatch")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

func describeFilter(f *workflow.TriggerFilter) string {
	var parts []string
	if len(f.Branches) > 0 {
		parts = append(parts, "branches: "+strings.Join(f.Branches, " "))
	}
	if len(f.BranchesIgnore) > 0 {
		parts = append(parts, "branches-ignore: "+strings.Join(f.BranchesIgnore, " "))
	}
	if len(f.Paths) > 0 {
		parts = append(parts, "paths: "+strings.Join(f.Paths, " "))
	}
	if len(f.PathsIgnore) > 0 {
		parts = append(parts, "paths-ignore: "+strings.Join(f.PathsIgnore, " "))
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, "; ") + ")"
}

func init() {
	rootCmd.AddCommand(workflowsCmd)
	workflowsCmd.AddCommand(workflowsListCmd)
	workflowsListCmd.Flags().BoolVarP(&workflowsListQuiet, "quiet", "q", false, "Only print workflow names")
	workflowsListCmd.Flags().StringVar(&cfg.Run.Root, flags.FlagRoot, cfg.Run.Root, "Repository root containing .gantry/workflows")
	workflowsCmd.AddCommand(workflowsShowCmd)
	workflowsShowCmd.Flags().StringVar(&cfg.Run.Root, flags.FlagRoot, cfg.Run.Root, "Repository root containing .gantry/workflows")
}
