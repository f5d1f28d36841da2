package event

import (
	"gantry/internal/glob"
	"gantry/internal/workflow"
)

// Matches reports whether the event triggers a workflow with the given
// trigger set. workflow_dispatch events ignore filters entirely; push and
// pull_request events pass through the branch and path filters of their
// kind. Unknown branch or change sets match conservatively so a run happens
// rather than silently not.
func Matches(e Event, on workflow.Triggers) bool {
	switch e.Kind {
	case Dispatch:
		return on.Dispatch
	case Push:
		return filterMatches(e, on.Push)
	case PullRequest:
		return filterMatches(e, on.PullRequest)
	}
	return false
}

// Select returns the workflows the event triggers, preserving order.
func Select(e Event, workflows []*workflow.Workflow) []*workflow.Workflow {
	var selected []*workflow.Workflow
	for _, wf := range workflows {
		if Matches(e, wf.On) {
			selected = append(selected, wf)
		}
	}
	return selected
}

func filterMatches(e Event, f *workflow.TriggerFilter) bool {
	if f == nil {
		return false
	}

	// Branches
	if e.Branch != "" {
		if len(f.Branches) > 0 && !glob.MatchAny(f.Branches, e.Branch) {
			return false
		}
		if len(f.BranchesIgnore) > 0 && glob.MatchAny(f.BranchesIgnore, e.Branch) {
			return false
		}
	}

	// Paths. A paths filter needs at least one changed file to match; a
	// paths-ignore filter suppresses the run only when every changed file
	// is ignored.
	if len(e.ChangedPaths) == 0 {
		return true
	}
	if len(f.Paths) > 0 && !anyPathMatches(f.Paths, e.ChangedPaths) {
		return false
	}
	if len(f.PathsIgnore) > 0 && allPathsMatch(f.PathsIgnore, e.ChangedPaths) {
		return false
	}
	return true
}

func anyPathMatches(patterns, paths []string) bool {
	for _, p := range paths {
		if glob.MatchAny(patterns, p) {
			return true
		}
	}
	return false
}

func allPathsMatch(patterns, paths []string) bool {
	for _, p := range paths {
		if !glob.MatchAny(patterns, p) {
			return false
		}
	}
	return true
}
