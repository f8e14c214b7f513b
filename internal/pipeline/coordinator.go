package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"harnesseval/internal/core"
	"harnesseval/internal/failure"
)

// ProcessRunner runs one external process. *core.Executor satisfies it.
type ProcessRunner interface {
	Execute(ctx context.Context, cmd core.Command) (*core.ExecutionResult, error)
}

// Toolchain describes how targets are compiled and run.
type Toolchain struct {
	// Compiler and Runtime are executable names or paths (javac, java).
	Compiler string
	Runtime  string

	// MainClass is the fully qualified entry point passed to Runtime.
	MainClass string

	// SourceRoot is the directory, relative to the target tree, holding sources.
	SourceRoot string

	// SourceExtensions selects which files under SourceRoot are compiled.
	SourceExtensions []string

	// ResourcesDir, relative to the target tree, is copied into the classes
	// directory after a successful compile. Empty skips the copy; a configured
	// directory missing from the target is a CompileFailure.
	ResourcesDir string

	// DependencyDir holds third-party jars; every *.jar under it is put on
	// the classpath.
	DependencyDir string

	// ClasspathEntries are added ahead of the dependency jars.
	ClasspathEntries []string

	// MaxInlineArgs is the total source-argument length above which sources
	// are passed through an @listfile. Zero means always inline.
	MaxInlineArgs int

	// ErrorMarker is searched case-insensitively in each output line.
	ErrorMarker string

	// AcceptedExitCodes are the runtime exit codes considered a normal stop.
	AcceptedExitCodes []int

	Env map[string]string
}

// Coordinator compiles and runs build targets.
//
// Compilation is serialized process-wide: the compiler is memory-heavy and
// the dependency caches it touches are shared. Runs are not serialized.
type Coordinator struct {
	Toolchain Toolchain
	Runner    ProcessRunner
	Logger    *zap.Logger

	compileMu sync.Mutex
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(tc Toolchain, runner ProcessRunner, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{Toolchain: tc, Runner: runner, Logger: logger}
}

// Compile compiles target into its classes directory and copies resources.
//
// The compile lock is held for the whole step. Captured compiler output is
// written to target.CompileLogPath(). A non-zero exit, an error marker in the
// output or a resource copy failure yields failure.CompileFailure.
func (c *Coordinator) Compile(ctx context.Context, target core.BuildTarget) error {
	c.compileMu.Lock()
	defer c.compileMu.Unlock()

	id := target.ID()
	tc := c.Toolchain
	classes := target.ClassesDir()

	if err := os.RemoveAll(classes); err != nil {
		return failure.Wrap(failure.CompileFailure, id, err, "clear classes dir")
	}
	if err := os.MkdirAll(classes, 0o755); err != nil {
		return failure.Wrap(failure.CompileFailure, id, err, "create classes dir")
	}

	sources, err := core.NewSourceResolver(filepath.Join(target.Dir, filepath.FromSlash(tc.SourceRoot))).Resolve(tc.SourceExtensions...)
	if err != nil {
		return failure.Wrap(failure.CompileFailure, id, err, "enumerate sources")
	}
	if len(sources) == 0 {
		return failure.New(failure.CompileFailure, id, "no sources under %s", tc.SourceRoot)
	}

	cp, err := c.classpath()
	if err != nil {
		return failure.Wrap(failure.CompileFailure, id, err, "build classpath")
	}

	args := []string{"-classpath", cp, "-d", classes}
	if tc.MaxInlineArgs > 0 && argLength(sources) > tc.MaxInlineArgs {
		listfile := filepath.Join(target.OutputDir, "sources.txt")
		if err := writeListfile(listfile, sources); err != nil {
			return failure.Wrap(failure.CompileFailure, id, err, "write source listfile")
		}
		args = append(args, "@"+listfile)
	} else {
		args = append(args, sources...)
	}

	c.Logger.Debug("compiling",
		zap.String("target", id),
		zap.Int("sources", len(sources)))

	res, err := c.Runner.Execute(ctx, core.Command{
		Path: tc.Compiler,
		Args: args,
		Dir:  target.Dir,
		Env:  tc.Env,
	})
	if err != nil {
		return failure.Wrap(failure.CompileFailure, id, err, "invoke compiler")
	}

	logPath := target.CompileLogPath()
	if err := core.WriteFileAtomic(logPath, res.Output, 0o644); err != nil {
		return failure.Wrap(failure.CompileFailure, id, err, "write compile log")
	}
	if res.ExitCode != 0 {
		return failure.New(failure.CompileFailure, id, "compiler exited with %d", res.ExitCode).WithOutput(logPath)
	}
	if line, ok := core.ContainsMarker(res.Output, tc.ErrorMarker); ok {
		return failure.New(failure.CompileFailure, id, "compiler reported %q", strings.TrimSpace(line)).WithOutput(logPath)
	}

	if tc.ResourcesDir != "" {
		src := filepath.Join(target.Dir, filepath.FromSlash(tc.ResourcesDir))
		if info, err := os.Stat(src); err != nil || !info.IsDir() {
			return failure.New(failure.CompileFailure, id, "resources dir %s missing", tc.ResourcesDir).WithOutput(logPath)
		}
		if err := core.CopyTree(src, classes); err != nil {
			return failure.Wrap(failure.CompileFailure, id, err, "copy resources").WithOutput(logPath)
		}
	}
	return nil
}

// Run executes a compiled target from its output directory.
//
// Captured output goes to target.RunLogPath(). An exit code outside
// AcceptedExitCodes or an error marker in the output yields
// failure.RuntimeFailure.
func (c *Coordinator) Run(ctx context.Context, target core.BuildTarget) error {
	id := target.ID()
	tc := c.Toolchain

	if err := os.MkdirAll(target.LogsDir(), 0o755); err != nil {
		return failure.Wrap(failure.RuntimeFailure, id, err, "create logs dir")
	}
	cp, err := c.classpath(target.ClassesDir())
	if err != nil {
		return failure.Wrap(failure.RuntimeFailure, id, err, "build classpath")
	}

	c.Logger.Debug("running", zap.String("target", id))
	res, err := c.Runner.Execute(ctx, core.Command{
		Path: tc.Runtime,
		Args: []string{"-classpath", cp, tc.MainClass},
		Dir:  target.OutputDir,
		Env:  tc.Env,
	})
	if err != nil {
		return failure.Wrap(failure.RuntimeFailure, id, err, "invoke runtime")
	}

	logPath := target.RunLogPath()
	if err := core.WriteFileAtomic(logPath, res.Output, 0o644); err != nil {
		return failure.Wrap(failure.RuntimeFailure, id, err, "write run log")
	}
	if !c.accepted(res.ExitCode) {
		return failure.New(failure.RuntimeFailure, id, "runtime exited with %d", res.ExitCode).WithOutput(logPath)
	}
	if line, ok := core.ContainsMarker(res.Output, tc.ErrorMarker); ok {
		return failure.New(failure.RuntimeFailure, id, "runtime reported %q", strings.TrimSpace(line)).WithOutput(logPath)
	}
	return nil
}

func (c *Coordinator) accepted(code int) bool {
	if len(c.Toolchain.AcceptedExitCodes) == 0 {
		return code == 0
	}
	for _, ok := range c.Toolchain.AcceptedExitCodes {
		if code == ok {
			return true
		}
	}
	return false
}

// classpath joins the fixed entries, every jar under DependencyDir and any
// extra entries with the OS list separator.
func (c *Coordinator) classpath(extra ...string) (string, error) {
	entries := append([]string(nil), c.Toolchain.ClasspathEntries...)
	if c.Toolchain.DependencyDir != "" {
		jars, err := core.NewSourceResolver(c.Toolchain.DependencyDir).Resolve(".jar")
		if err != nil {
			return "", err
		}
		entries = append(entries, jars...)
	}
	entries = append(entries, extra...)
	return strings.Join(entries, string(os.PathListSeparator)), nil
}

func argLength(args []string) int {
	n := 0
	for _, a := range args {
		n += len(a) + 1
	}
	return n
}

// writeListfile writes one quoted path per line in the compiler @file syntax.
func writeListfile(path string, files []string) error {
	var b strings.Builder
	for _, f := range files {
		fmt.Fprintf(&b, "\"%s\"\n", strings.ReplaceAll(filepath.ToSlash(f), `"`, `\"`))
	}
	return core.WriteFileAtomic(path, []byte(b.String()), 0o644)
}
