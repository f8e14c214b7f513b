package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"harnesseval/internal/config"
	"harnesseval/internal/logging"
	"harnesseval/internal/pipeline"
)

// Options are the process-level collaborators of Run. Zero values fall back
// to the real process streams, a zap production logger and os/exec.
type Options struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *zap.Logger
	Runner pipeline.ProcessRunner
}

// Run executes one invocation and returns its semantic exit code. args
// excludes argv[0].
func Run(ctx context.Context, args []string, opts Options) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	var (
		app        *App
		ran        bool
		configPath string
		verbose    bool
		prune      bool
	)

	root := &cobra.Command{
		Use:           "harnesseval",
		Short:         "Assemble, build, run and score participant code variants",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			ran = true
			logger := opts.Logger
			if logger == nil {
				var err error
				if logger, err = logging.New(verbose); err != nil {
					return fmt.Errorf("build logger: %w", err)
				}
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return configErrorf("%v", err)
			}
			app, err = NewApp(cfg, logger, opts.Stdout)
			if err != nil {
				return err
			}
			if opts.Runner != nil {
				app.Runner = opts.Runner
			}
			logger.Debug("configuration loaded", zap.String("command", cmd.Name()), zap.String("config", configPath))
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if app != nil {
				_ = app.Logger.Sync()
			}
		},
	}
	root.SetArgs(args)
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return invalidInvocationf("%v", err)
	})
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file (YAML)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	evaluateCmd := &cobra.Command{
		Use:   "evaluate [target-dir...]",
		Short: "Assemble every participant x variant target, then compile and run it",
		Long: "Without arguments, assembles the full matrix from the ids file and evaluates it.\n" +
			"With target directories, re-executes only those already-assembled targets.",
		RunE: func(cmd *cobra.Command, dirs []string) error {
			_, err := app.Evaluate(cmd.Context(), dirs)
			return err
		},
	}

	collectCmd := &cobra.Command{
		Use:   "collect",
		Short: "Copy the largest run log of each target into the results tree",
		Args:  invocationArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := app.Collect(cmd.Context(), prune)
			return err
		},
	}
	collectCmd.Flags().BoolVar(&prune, "prune", false, "delete the smaller leftover logs after collecting")

	scoreCmd := &cobra.Command{
		Use:   "score",
		Short: "Parse collected logs and write the score report",
		Args:  invocationArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := app.Score(cmd.Context())
			return err
		},
	}

	checkLogCmd := &cobra.Command{
		Use:   "check-log <file>",
		Short: "Validate one run log in strict mode",
		Args:  invocationArgs(cobra.ExactArgs(1)),
		RunE: func(_ *cobra.Command, args []string) error {
			_, err := app.CheckLog(args[0])
			return err
		},
	}

	batchesCmd := &cobra.Command{
		Use:   "batches [batch-id]",
		Short: "List recorded batches, or the failures of one batch",
		Args:  invocationArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return app.Batches(cmd.Context(), id)
		},
	}

	root.AddCommand(evaluateCmd, collectCmd, scoreCmd, checkLogCmd, batchesCmd)

	err := root.ExecuteContext(ctx)
	if err != nil && !ran {
		if ExitCode(err) != ExitInvalidInvocation {
			err = invalidInvocationf("%v", err)
		}
	}
	if err != nil {
		fmt.Fprintf(opts.Stderr, "harnesseval: %v\n", err)
	}
	return ExitCode(err)
}

// invocationArgs classifies positional argument errors as invalid invocations.
func invocationArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return invalidInvocationf("%v", err)
		}
		return nil
	}
}
