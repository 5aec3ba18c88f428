package utils

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"time"
)

// ProcSpec describes one external process invocation.
type ProcSpec struct {
	Name    string
	Args    []string
	Dir     string
	Env     []string // appended to the current environment
	Timeout time.Duration
	Stdout  io.Writer
	Stderr  io.Writer
}

// ProcResult reports how a process ended.
type ProcResult struct {
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// RunProcess runs one external command in its own process group and enforces
// the timeout by killing the whole group, so descendants spawned by the
// command cannot outlive it. Partial output already written to Stdout/Stderr
// is preserved for post-mortem.
func RunProcess(ctx context.Context, spec ProcSpec) (*ProcResult, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.Command(spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	setProcGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-runCtx.Done():
		killTree(cmd)
		// Reap the process after the kill so no zombie is left behind.
		<-done
		res := &ProcResult{
			ExitCode: -1,
			TimedOut: errors.Is(runCtx.Err(), context.DeadlineExceeded),
			Duration: time.Since(start),
		}
		return res, runCtx.Err()
	case err := <-done:
		res := &ProcResult{Duration: time.Since(start)}
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				res.ExitCode = exitErr.ExitCode()
				return res, nil
			}
			return nil, err
		}
		return res, nil
	}
}
