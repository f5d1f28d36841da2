package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"gantry/internal/workflow"
)

// invoke runs the step's command once, streaming output line by line. The
// exit code is -1 when the process could not run at all.
func (r *Runner) invoke(ctx context.Context, spec Spec, step workflow.Step, name string, env []string) (int, error) {
	if step.TimeoutMinutes > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutMinutes)*time.Minute)
		defer cancel()
	}

	shell, args := shellCommand(step.Shell, step.Run)
	cmd := exec.CommandContext(ctx, shell, args...)
	cmd.Dir = stepDir(spec, step)
	cmd.Env = appendStepEnv(env, step.Env)
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("starting step %q: %w", name, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go r.stream(&wg, spec, name, "stdout", stdout)
	go r.stream(&wg, spec, name, "stderr", stderr)
	wg.Wait()

	err = cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code < 0 {
			code = 1 // killed by a signal
		}
		if ctx.Err() != nil {
			return code, ctx.Err()
		}
		return code, nil
	}
	return -1, err
}

func (r *Runner) stream(wg *sync.WaitGroup, spec Spec, step, stream string, rd io.Reader) {
	defer wg.Done()
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		r.log(LogLine{JobName: spec.JobName, Step: step, Stream: stream, Text: sc.Text()})
	}
}

// shellCommand maps the declared shell to an invocation. The default is sh
// on unix and cmd on windows.
func shellCommand(shell, run string) (string, []string) {
	if shell == "" {
		if runtime.GOOS == "windows" {
			shell = "cmd"
		} else {
			shell = "sh"
		}
	}
	switch shell {
	case "cmd":
		return "cmd", []string{"/C", run}
	case "pwsh", "powershell":
		return shell, []string{"-Command", run}
	default:
		return shell, []string{"-c", run}
	}
}

func stepDir(spec Spec, step workflow.Step) string {
	if step.WorkingDirectory == "" {
		return spec.Dir
	}
	wd := filepath.FromSlash(step.WorkingDirectory)
	if filepath.IsAbs(wd) {
		return wd
	}
	return filepath.Join(spec.Dir, wd)
}

// appendStepEnv appends the step's own variables after the job environment;
// exec keeps the last value for duplicate keys, so the step wins.
func appendStepEnv(env []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return env
	}
	out := make([]string, len(env), len(env)+len(extra))
	copy(out, env)
	for _, k := range sortedKeys(extra) {
		out = append(out, k+"="+extra[k])
	}
	return out
}
