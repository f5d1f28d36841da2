package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseFile reads and parses one workflow file.
func ParseFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow: %w", err)
	}
	return Parse(path, data)
}

// Parse parses workflow YAML. Unknown keys, malformed trigger filters,
// non-scalar matrix values and uses-style steps are all hard errors; error
// messages carry the path and line of the offending node.
func Parse(path string, data []byte) (*Workflow, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, fmt.Errorf("%s: empty workflow file", path)
	}
	p := &parser{path: path}
	wf, err := p.workflow(doc.Content[0])
	if err != nil {
		return nil, err
	}
	wf.Path = path
	if wf.Name == "" {
		base := filepath.Base(path)
		wf.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if err := validateNeeds(wf); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wf, nil
}

type parser struct {
	path string
}

func (p *parser) errf(n *yaml.Node, format string, args ...any) error {
	return fmt.Errorf("%s:%d: %s", p.path, n.Line, fmt.Sprintf(format, args...))
}

func (p *parser) workflow(root *yaml.Node) (*Workflow, error) {
	if root.Kind != yaml.MappingNode {
		return nil, p.errf(root, "workflow must be a mapping")
	}
	wf := &Workflow{}
	sawOn, sawJobs := false, false
	for i := 0; i < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		switch key.Value {
		case "name":
			s, err := p.scalar(val, "name")
			if err != nil {
				return nil, err
			}
			wf.Name = s
		case "on":
			t, err := p.triggers(val)
			if err != nil {
				return nil, err
			}
			wf.On = t
			sawOn = true
		case "env":
			m, err := p.stringMap(val, "env")
			if err != nil {
				return nil, err
			}
			wf.Env = m
		case "jobs":
			jobs, err := p.jobs(val)
			if err != nil {
				return nil, err
			}
			wf.Jobs = jobs
			sawJobs = true
		default:
			return nil, p.errf(key, "unknown workflow key %q", key.Value)
		}
	}
	if !sawOn {
		return nil, p.errf(root, "workflow has no on section")
	}
	if !sawJobs || len(wf.Jobs) == 0 {
		return nil, p.errf(root, "workflow has no jobs")
	}
	return wf, nil
}

// triggers accepts the three on forms: a single event name, a sequence of
// event names, or a mapping from event name to filter.
func (p *parser) triggers(n *yaml.Node) (Triggers, error) {
	var t Triggers
	switch n.Kind {
	case yaml.ScalarNode:
		if err := p.addEvent(&t, n, nil); err != nil {
			return t, err
		}
	case yaml.SequenceNode:
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode {
				return t, p.errf(item, "on list entries must be event names")
			}
			if err := p.addEvent(&t, item, nil); err != nil {
				return t, err
			}
		}
	case yaml.MappingNode:
		for i := 0; i < len(n.Content); i += 2 {
			key, val := n.Content[i], n.Content[i+1]
			filter, err := p.triggerFilter(key.Value, val)
			if err != nil {
				return t, err
			}
			if err := p.addEvent(&t, key, filter); err != nil {
				return t, err
			}
		}
	default:
		return t, p.errf(n, "on must be an event name, a list or a mapping")
	}
	return t, nil
}

func (p *parser) addEvent(t *Triggers, key *yaml.Node, filter *TriggerFilter) error {
	if filter == nil {
		filter = &TriggerFilter{}
	}
	switch key.Value {
	case "push":
		t.Push = filter
	case "pull_request":
		t.PullRequest = filter
	case "workflow_dispatch":
		t.Dispatch = true
	default:
		return p.errf(key, "unsupported event %q (want push, pull_request or workflow_dispatch)", key.Value)
	}
	return nil
}

func (p *parser) triggerFilter(event string, n *yaml.Node) (*TriggerFilter, error) {
	if n.Kind == yaml.ScalarNode && n.Tag == "!!null" {
		return &TriggerFilter{}, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, p.errf(n, "%s filter must be a mapping", event)
	}
	f := &TriggerFilter{}
	for i := 0; i < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		list, err := p.stringList(val, key.Value)
		if err != nil {
			return nil, err
		}
		switch key.Value {
		case "branches":
			f.Branches = list
		case "branches-ignore":
			f.BranchesIgnore = list
		case "paths":
			f.Paths = list
		case "paths-ignore":
			f.PathsIgnore = list
		default:
			return nil, p.errf(key, "unknown %s filter %q", event, key.Value)
		}
	}
	if len(f.Branches) > 0 && len(f.BranchesIgnore) > 0 {
		return nil, p.errf(n, "%s filter sets both branches and branches-ignore", event)
	}
	if len(f.Paths) > 0 && len(f.PathsIgnore) > 0 {
		return nil, p.errf(n, "%s filter sets both paths and paths-ignore", event)
	}
	return f, nil
}

func (p *parser) jobs(n *yaml.Node) ([]Job, error) {
	if n.Kind != yaml.MappingNode {
		return nil, p.errf(n, "jobs must be a mapping")
	}
	jobs := make([]Job, 0, len(n.Content)/2)
	for i := 0; i < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		if !validJobID(key.Value) {
			return nil, p.errf(key, "invalid job id %q", key.Value)
		}
		job, err := p.job(key.Value, val)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func validJobID(id string) bool {
	if id == "" {
		return false
	}
	for i, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case i > 0 && (r >= '0' && r <= '9' || r == '-'):
		default:
			return false
		}
	}
	return true
}

func (p *parser) job(id string, n *yaml.Node) (Job, error) {
	job := Job{ID: id}
	if n.Kind != yaml.MappingNode {
		return job, p.errf(n, "job %q must be a mapping", id)
	}
	sawRunsOn, sawSteps := false, false
	for i := 0; i < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		var err error
		switch key.Value {
		case "name":
			job.Name, err = p.scalar(val, "name")
		case "runs-on":
			job.RunsOn, err = p.scalar(val, "runs-on")
			sawRunsOn = true
		case "needs":
			job.Needs, err = p.scalarOrList(val, "needs")
		case "env":
			job.Env, err = p.stringMap(val, "env")
		case "strategy":
			job.Strategy, err = p.strategy(val)
		case "steps":
			job.Steps, err = p.steps(val)
			sawSteps = true
		case "timeout-minutes":
			job.TimeoutMinutes, err = p.positiveInt(val, "timeout-minutes")
		case "continue-on-error":
			job.ContinueOnError, err = p.boolean(val, "continue-on-error")
		default:
			return job, p.errf(key, "unknown job key %q", key.Value)
		}
		if err != nil {
			return job, err
		}
	}
	if !sawRunsOn {
		return job, p.errf(n, "job %q has no runs-on", id)
	}
	if !sawSteps || len(job.Steps) == 0 {
		return job, p.errf(n, "job %q has no steps", id)
	}
	return job, nil
}

func (p *parser) strategy(n *yaml.Node) (*Strategy, error) {
	if n.Kind != yaml.MappingNode {
		return nil, p.errf(n, "strategy must be a mapping")
	}
	s := &Strategy{}
	for i := 0; i < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		switch key.Value {
		case "matrix":
			m, err := p.matrix(val)
			if err != nil {
				return nil, err
			}
			s.Matrix = m
		case "fail-fast":
			b, err := p.boolean(val, "fail-fast")
			if err != nil {
				return nil, err
			}
			s.FailFast = &b
		case "max-parallel":
			v, err := p.positiveInt(val, "max-parallel")
			if err != nil {
				return nil, err
			}
			s.MaxParallel = v
		default:
			return nil, p.errf(key, "unknown strategy key %q", key.Value)
		}
	}
	return s, nil
}

func (p *parser) matrix(n *yaml.Node) (*Matrix, error) {
	if n.Kind != yaml.MappingNode {
		return nil, p.errf(n, "matrix must be a mapping")
	}
	m := &Matrix{}
	for i := 0; i < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		switch key.Value {
		case "include":
			entries, err := p.matrixEntries(val, "include")
			if err != nil {
				return nil, err
			}
			m.Include = entries
		case "exclude":
			entries, err := p.matrixEntries(val, "exclude")
			if err != nil {
				return nil, err
			}
			m.Exclude = entries
		default:
			values, err := p.stringList(val, key.Value)
			if err != nil {
				return nil, err
			}
			if len(values) == 0 {
				return nil, p.errf(val, "matrix axis %q is empty", key.Value)
			}
			m.Axes = append(m.Axes, Axis{Key: key.Value, Values: values})
		}
	}
	if len(m.Axes) == 0 && len(m.Include) == 0 {
		return nil, p.errf(n, "matrix has no axes")
	}
	return m, nil
}

func (p *parser) matrixEntries(n *yaml.Node, what string) ([]map[string]string, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, p.errf(n, "matrix %s must be a list", what)
	}
	entries := make([]map[string]string, 0, len(n.Content))
	for _, item := range n.Content {
		if item.Kind != yaml.MappingNode {
			return nil, p.errf(item, "matrix %s entries must be mappings", what)
		}
		entry := make(map[string]string, len(item.Content)/2)
		for i := 0; i < len(item.Content); i += 2 {
			key, val := item.Content[i], item.Content[i+1]
			s, err := p.scalar(val, key.Value)
			if err != nil {
				return nil, err
			}
			entry[key.Value] = s
		}
		if len(entry) == 0 {
			return nil, p.errf(item, "matrix %s entry is empty", what)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (p *parser) steps(n *yaml.Node) ([]Step, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, p.errf(n, "steps must be a list")
	}
	steps := make([]Step, 0, len(n.Content))
	for _, item := range n.Content {
		step, err := p.step(item)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func (p *parser) step(n *yaml.Node) (Step, error) {
	var step Step
	if n.Kind != yaml.MappingNode {
		return step, p.errf(n, "step must be a mapping")
	}
	sawRun := false
	for i := 0; i < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		var err error
		switch key.Value {
		case "name":
			step.Name, err = p.scalar(val, "name")
		case "run":
			step.Run, err = p.scalar(val, "run")
			sawRun = true
		case "shell":
			step.Shell, err = p.scalar(val, "shell")
		case "env":
			step.Env, err = p.stringMap(val, "env")
		case "working-directory":
			step.WorkingDirectory, err = p.scalar(val, "working-directory")
		case "if":
			step.If, err = p.scalar(val, "if")
			if err == nil {
				_, err = ParseCondition(step.If)
				if err != nil {
					err = p.errf(val, "%v", err)
				}
			}
		case "continue-on-error":
			step.ContinueOnError, err = p.boolean(val, "continue-on-error")
		case "timeout-minutes":
			step.TimeoutMinutes, err = p.positiveInt(val, "timeout-minutes")
		case "retries":
			step.Retries, err = p.positiveInt(val, "retries")
		case "uses":
			return step, p.errf(key, "uses steps are not supported, only run steps")
		default:
			return step, p.errf(key, "unknown step key %q", key.Value)
		}
		if err != nil {
			return step, err
		}
	}
	if !sawRun || strings.TrimSpace(step.Run) == "" {
		return step, p.errf(n, "step has no run command")
	}
	return step, nil
}

// scalar returns the node's literal text, so unquoted values like 3.10 keep
// their spelling instead of collapsing to a float.
func (p *parser) scalar(n *yaml.Node, what string) (string, error) {
	if n.Kind != yaml.ScalarNode {
		return "", p.errf(n, "%s must be a scalar", what)
	}
	if n.Tag == "!!null" {
		return "", p.errf(n, "%s must not be null", what)
	}
	return n.Value, nil
}

func (p *parser) boolean(n *yaml.Node, what string) (bool, error) {
	var b bool
	if n.Kind != yaml.ScalarNode || n.Decode(&b) != nil {
		return false, p.errf(n, "%s must be true or false", what)
	}
	return b, nil
}

func (p *parser) positiveInt(n *yaml.Node, what string) (int, error) {
	var v int
	if n.Kind != yaml.ScalarNode || n.Decode(&v) != nil || v <= 0 {
		return 0, p.errf(n, "%s must be a positive integer", what)
	}
	return v, nil
}

func (p *parser) stringList(n *yaml.Node, what string) ([]string, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, p.errf(n, "%s must be a list", what)
	}
	out := make([]string, 0, len(n.Content))
	for _, item := range n.Content {
		s, err := p.scalar(item, what+" entry")
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// scalarOrList accepts either a single scalar or a list of scalars, the two
// spellings needs allows.
func (p *parser) scalarOrList(n *yaml.Node, what string) ([]string, error) {
	if n.Kind == yaml.ScalarNode {
		s, err := p.scalar(n, what)
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	}
	return p.stringList(n, what)
}

func (p *parser) stringMap(n *yaml.Node, what string) (map[string]string, error) {
	if n.Kind != yaml.MappingNode {
		return nil, p.errf(n, "%s must be a mapping", what)
	}
	out := make(map[string]string, len(n.Content)/2)
	for i := 0; i < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		s, err := p.scalar(val, what+" value")
		if err != nil {
			return nil, err
		}
		out[key.Value] = s
	}
	return out, nil
}

// validateNeeds checks that every needs reference names a declared job and
// that the dependency graph is acyclic.
func validateNeeds(wf *Workflow) error {
	ids := make(map[string]bool, len(wf.Jobs))
	for _, j := range wf.Jobs {
		ids[j.ID] = true
	}
	for _, j := range wf.Jobs {
		for _, need := range j.Needs {
			if need == j.ID {
				return fmt.Errorf("job %q needs itself", j.ID)
			}
			if !ids[need] {
				return fmt.Errorf("job %q needs unknown job %q", j.ID, need)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(wf.Jobs))
	var visit func(id string, trail []string) error
	visit = func(id string, trail []string) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf("needs cycle: %s", strings.Join(append(trail, id), " -> "))
		case done:
			return nil
		}
		state[id] = visiting
		for _, need := range wf.Job(id).Needs {
			if err := visit(need, append(trail, id)); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}
	for _, j := range wf.Jobs {
		if err := visit(j.ID, nil); err != nil {
			return err
		}
	}
	return nil
}
