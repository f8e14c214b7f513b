// Package vcs switches participant checkouts between branches.
package vcs

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"harnesseval/internal/core"
	"harnesseval/internal/failure"
)

const (
	// BranchMissingMarker is what git prints when the requested branch does
	// not exist.
	BranchMissingMarker = "did not match any file(s) known to git"

	errorMarker = "error"
)

// Runner runs one external process. *core.Executor satisfies it.
type Runner interface {
	Execute(ctx context.Context, cmd core.Command) (*core.ExecutionResult, error)
}

// Git runs git as an external process.
type Git struct {
	Binary string
	Runner Runner
	Logger *zap.Logger
}

// New returns a Git that uses the git binary on PATH.
func New(runner Runner, logger *zap.Logger) *Git {
	if runner == nil {
		runner = core.NewExecutor()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Git{Binary: "git", Runner: runner, Logger: logger}
}

// Checkout switches the working tree in dir to branch.
//
// A missing branch is reported as failure.BranchNotFound. Any other non-zero
// exit, or output containing an error line, is failure.OtherGitFailure.
func (g *Git) Checkout(ctx context.Context, branch, dir string) error {
	cmd := core.Command{Path: g.Binary, Args: []string{"checkout", branch}, Dir: dir}
	g.Logger.Debug("git checkout", zap.String("branch", branch), zap.String("dir", dir))

	res, err := g.Runner.Execute(ctx, cmd)
	if err != nil {
		return failure.Wrap(failure.OtherGitFailure, branch, err, "run git checkout")
	}
	output := string(res.Output)
	if strings.Contains(output, BranchMissingMarker) {
		return failure.New(failure.BranchNotFound, branch, "branch %q not found in %s", branch, dir)
	}
	if res.ExitCode != 0 {
		return failure.New(failure.OtherGitFailure, branch, "git checkout exited with %d: %s", res.ExitCode, strings.TrimSpace(output))
	}
	if line, ok := core.ContainsMarker(res.Output, errorMarker); ok {
		return failure.New(failure.OtherGitFailure, branch, "git checkout reported: %s", line)
	}
	return nil
}
