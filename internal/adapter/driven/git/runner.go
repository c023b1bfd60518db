package git

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes external commands.
type Runner interface {
	// RunDir executes cmd in dir and returns its standard output.
	RunDir(ctx context.Context, dir, cmd string, args ...string) ([]byte, error)
}

// ExecRunner runs real processes.
type ExecRunner struct{}

// RunDir implements Runner. Standard error is kept out of the output so it
// cannot corrupt a diff, and is reported in the error instead.
func (ExecRunner) RunDir(ctx context.Context, dir, cmd string, args ...string) ([]byte, error) {
	c := exec.CommandContext(ctx, cmd, args...)
	c.Dir = dir

	out, err := c.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return out, fmt.Errorf("exec %s in %s: %w: %s", cmd, dir, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return out, fmt.Errorf("exec %s in %s: %w", cmd, dir, err)
	}

	return out, nil
}
