package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"
)

// Command is a single external process invocation. Path and Args are passed
// to the OS directly; no shell is involved.
type Command struct {
	Path string
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env is added on top of the inherited process environment.
	Env map[string]string
}

// ExecutionResult is the outcome of a process that started.
type ExecutionResult struct {
	// Output is stdout and stderr interleaved in arrival order.
	Output []byte

	// ExitCode is the process exit code. 0 indicates success.
	ExitCode int

	Duration time.Duration
}

// Executor runs external processes and captures their combined output.
type Executor struct{}

// NewExecutor creates a new Executor.
func NewExecutor() *Executor {
	return &Executor{}
}

// Execute runs cmd to completion.
//
// A non-zero exit code is not an error; the caller classifies it. An error is
// returned only when the process could not be started or ctx was cancelled.
// On cancellation the whole process group is killed.
func (e *Executor) Execute(ctx context.Context, cmd Command) (*ExecutionResult, error) {
	if cmd.Path == "" {
		return nil, fmt.Errorf("command path is empty")
	}

	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = mergeEnv(os.Environ(), cmd.Env)

	// Own process group so the JVM and its children die together.
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out

	start := time.Now()
	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- c.Wait()
	}()

	var err error
	select {
	case <-ctx.Done():
		if c.Process != nil {
			_ = syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
		}
		<-done
		return nil, fmt.Errorf("execution cancelled: %w", ctx.Err())
	case err = <-done:
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute %s: %w", cmd.Path, err)
		}
		exitCode = exitErr.ExitCode()
	}

	return &ExecutionResult{
		Output:   out.Bytes(),
		ExitCode: exitCode,
		Duration: time.Since(start),
	}, nil
}

// mergeEnv overlays extra on base. Keys from extra win; the result order is
// base order followed by new keys sorted.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		key := kv
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				key = kv[:i]
				break
			}
		}
		if _, override := extra[key]; override {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}
