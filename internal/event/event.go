// Package event models the repository occurrences that trigger workflow
// runs and decides which workflows an occurrence selects.
package event

// Kind is the trigger class of an event.
type Kind string

const (
	Push        Kind = "push"
	PullRequest Kind = "pull_request"
	Dispatch    Kind = "workflow_dispatch"
)

// Event is one repository occurrence a run can be planned for.
type Event struct {
	Kind Kind
	// Branch is the short branch name. For pull_request events it is the
	// target branch. Empty when unknown.
	Branch string
	// SHA is the commit the event points at, when known.
	SHA string
	// Repository is the owner/name slug, when known.
	Repository string
	// ChangedPaths lists the files the event's commits touched,
	// repository-relative with forward slashes. Empty means the change set
	// is unknown and path filters are skipped rather than guessed at.
	ChangedPaths []string
}

// Ref returns the fully qualified git ref for the event's branch, or "".
func (e Event) Ref() string {
	if e.Branch == "" {
		return ""
	}
	return "refs/heads/" + e.Branch
}
