// Package workflow defines the YAML workflow dialect: trigger filters, a
// job graph with needs-dependencies, build matrices, and shell steps. It
// parses workflow files strictly, expands matrix strategies into concrete
// combinations, and interpolates ${{ ... }} expressions.
package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// Dir is the repository-relative directory scanned for workflow files.
const Dir = ".gantry/workflows"

// Workflow is one parsed workflow file.
type Workflow struct {
	// Name is the display name, defaulting to the file base name.
	Name string
	// Path is the file the workflow was loaded from, as given to Parse.
	Path string
	On   Triggers
	Env  map[string]string
	// Jobs preserves declaration order from the file.
	Jobs []Job
}

// Job returns the job with the given ID, or nil.
func (w *Workflow) Job(id string) *Job {
	for i := range w.Jobs {
		if w.Jobs[i].ID == id {
			return &w.Jobs[i]
		}
	}
	return nil
}

// Triggers declares which events run the workflow. A nil filter means the
// event kind does not trigger it at all; a non-nil empty filter matches
// every event of that kind.
type Triggers struct {
	Push        *TriggerFilter
	PullRequest *TriggerFilter
	// Dispatch allows manual runs regardless of filters.
	Dispatch bool
}

// TriggerFilter narrows an event kind by branch and changed-path globs.
type TriggerFilter struct {
	Branches       []string `yaml:"branches"`
	BranchesIgnore []string `yaml:"branches-ignore"`
	Paths          []string `yaml:"paths"`
	PathsIgnore    []string `yaml:"paths-ignore"`
}

// Job is one node of the workflow's execution graph.
type Job struct {
	ID              string
	Name            string
	RunsOn          string
	Needs           []string
	Env             map[string]string
	Strategy        *Strategy
	Steps           []Step
	TimeoutMinutes  int
	ContinueOnError bool
}

// DisplayName returns the job's name, or its ID when no name was set.
func (j *Job) DisplayName() string {
	if j.Name != "" {
		return j.Name
	}
	return j.ID
}

// Strategy controls matrix expansion for a job.
type Strategy struct {
	Matrix *Matrix
	// FailFast cancels the job's remaining matrix cells after one fails.
	// Unset means false.
	FailFast    *bool
	MaxParallel int
}

// FailFastEnabled reports the effective fail-fast setting.
func (s *Strategy) FailFastEnabled() bool {
	return s != nil && s.FailFast != nil && *s.FailFast
}

// Matrix is a set of named axes plus include/exclude adjustments. Axes keep
// file order so expanded combinations come out in a stable, predictable
// sequence.
type Matrix struct {
	Axes    []Axis
	Include []map[string]string
	Exclude []map[string]string
}

// Axis is one matrix dimension.
type Axis struct {
	Key    string
	Values []string
}

// Step is one shell command within a job.
type Step struct {
	Name             string
	Run              string
	Shell            string
	Env              map[string]string
	WorkingDirectory string
	If               string
	ContinueOnError  bool
	TimeoutMinutes   int
	// Retries re-runs the step's command on failure, keeping only the
	// final attempt's outcome.
	Retries int
}

// Combination is one expanded matrix cell. Keys holds the display order:
// axes as declared, then include-only keys sorted.
type Combination struct {
	Keys   []string
	Values map[string]string
}

// Name renders the cell the way job names embed it, e.g. "ubuntu, 3.11".
func (c Combination) Name() string {
	parts := make([]string, 0, len(c.Keys))
	for _, k := range c.Keys {
		parts = append(parts, c.Values[k])
	}
	return strings.Join(parts, ", ")
}

// Get returns the value for key, or "".
func (c Combination) Get(key string) string {
	return c.Values[key]
}

func (c Combination) clone() Combination {
	keys := make([]string, len(c.Keys))
	copy(keys, c.Keys)
	values := make(map[string]string, len(c.Values))
	for k, v := range c.Values {
		values[k] = v
	}
	return Combination{Keys: keys, Values: values}
}

func (c *Combination) set(key, value string) {
	if _, ok := c.Values[key]; !ok {
		c.Keys = append(c.Keys, key)
	}
	c.Values[key] = value
}

func combinationFrom(entry map[string]string) Combination {
	keys := make([]string, 0, len(entry))
	for k := range entry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make(map[string]string, len(entry))
	for _, k := range keys {
		values[k] = entry[k]
	}
	return Combination{Keys: keys, Values: values}
}

// Condition is a parsed step condition.
type Condition int

const (
	// CondSuccess runs the step only while the job has no hard failure.
	CondSuccess Condition = iota
	// CondAlways runs the step regardless of earlier failures.
	CondAlways
	// CondFailure runs the step only after an earlier step hard-failed.
	CondFailure
)

// ParseCondition parses a step's if expression. The empty string means
// success().
func ParseCondition(s string) (Condition, error) {
	switch strings.TrimSpace(s) {
	case "", "success()":
		return CondSuccess, nil
	case "always()":
		return CondAlways, nil
	case "failure()":
		return CondFailure, nil
	default:
		return CondSuccess, fmt.Errorf("unsupported condition %q (want success(), always() or failure())", s)
	}
}
