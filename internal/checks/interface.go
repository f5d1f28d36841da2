// Package checks defines repository health checks: small, self-registering
// probes that inspect a repository's workflows and files and report a
// pass/fail result. Builtin checks live in the builtin subpackage and
// register themselves on import.
package checks

import "context"

type Check interface {
	ID() string
	Title() string
	Description() string

	// Evaluate inspects the repository through repo and reports a result.
	// Checks read; they never modify the repository.
	Evaluate(ctx context.Context, repo *Context) (Result, error)
}

type Option struct {
	Name        string
	Description string
	Default     string
}

type ConfigurableCheck interface {
	Check
	Options() []Option
	Configure(opts map[string]string) error
}
