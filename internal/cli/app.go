package cli

import (
	"io"

	"go.uber.org/zap"

	"harnesseval/internal/catalog"
	"harnesseval/internal/config"
	"harnesseval/internal/core"
	"harnesseval/internal/pipeline"
	"harnesseval/internal/vcs"
)

// App holds everything a command needs. Commands never read process-global
// state; tests build an App directly.
type App struct {
	Config  *config.Config
	Catalog *catalog.Catalog
	Logger  *zap.Logger

	// Runner executes compiler, runtime and git processes.
	Runner pipeline.ProcessRunner

	// Stdout receives the human-readable summary of each command.
	Stdout io.Writer
}

// NewApp loads the catalog named by cfg and fills defaults.
func NewApp(cfg *config.Config, logger *zap.Logger, stdout io.Writer) (*App, error) {
	cat, err := catalog.Load(cfg.Paths.CatalogFile)
	if err != nil {
		return nil, configErrorf("load catalog: %v", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if stdout == nil {
		stdout = io.Discard
	}
	return &App{
		Config:  cfg,
		Catalog: cat,
		Logger:  logger,
		Runner:  core.NewExecutor(),
		Stdout:  stdout,
	}, nil
}

// checkouter returns the git collaborator, or nil when git is disabled.
func (a *App) checkouter() *vcs.Git {
	if !a.Config.Git.Enabled {
		return nil
	}
	return vcs.New(a.Runner, a.Logger)
}

func (a *App) variantNames() []string {
	vs := a.Catalog.Variants()
	names := make([]string, len(vs))
	for i, v := range vs {
		names[i] = v.Name
	}
	return names
}
