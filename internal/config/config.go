// Package config loads the YAML configuration of an evaluation run.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"harnesseval/internal/logparse"
	"harnesseval/internal/pipeline"
	"harnesseval/internal/score"
)

type Config struct {
	Paths   PathsConfig   `yaml:"paths"`
	Git     GitConfig     `yaml:"git"`
	Build   BuildConfig   `yaml:"build"`
	Scoring ScoringConfig `yaml:"scoring"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type PathsConfig struct {
	// BaseDir is the known-good harness tree every target starts from.
	BaseDir string `yaml:"base_dir"`
	// CheckoutDir is the participants' repository; one branch per submission.
	CheckoutDir string `yaml:"checkout_dir"`
	TargetsDir  string `yaml:"targets_dir"`
	OutputDir   string `yaml:"output_dir"`
	ResultsDir  string `yaml:"results_dir"`
	IDsFile     string `yaml:"ids_file"`
	StateDir    string `yaml:"state_dir"`
	// CatalogFile replaces the embedded variant catalog when set.
	CatalogFile string `yaml:"catalog_file"`
}

type GitConfig struct {
	Enabled bool `yaml:"enabled"`
	// EvaluationBranch is checked out in BaseDir before a batch. Empty skips it.
	EvaluationBranch string `yaml:"evaluation_branch"`
}

type BuildConfig struct {
	Compiler          string            `yaml:"compiler"`
	Runtime           string            `yaml:"runtime"`
	MainClass         string            `yaml:"main_class"`
	SourceRoot        string            `yaml:"source_root"`
	SourceExtensions  []string          `yaml:"source_extensions"`
	ResourcesDir      string            `yaml:"resources_dir"`
	DependencyDir     string            `yaml:"dependency_dir"`
	Classpath         []string          `yaml:"classpath"`
	MaxInlineArgs     int               `yaml:"max_inline_args"`
	ErrorMarker       string            `yaml:"error_marker"`
	AcceptedExitCodes []int             `yaml:"accepted_exit_codes"`
	Workers           int               `yaml:"workers"`
	Env               map[string]string `yaml:"env"`
}

type ScoringConfig struct {
	HeaderLines  int    `yaml:"header_lines"`
	TrainStride  int    `yaml:"train_stride"`
	FirstSegment int    `yaml:"first_segment"`
	CurveMarks   int    `yaml:"curve_marks"`
	Report       string `yaml:"report"`
}

type LedgerConfig struct {
	// Path of the sqlite database. Empty disables the ledger.
	Path string `yaml:"path"`
}

type MetricsConfig struct {
	// Textfile receives the batch metrics in Prometheus text format. Empty
	// disables the export.
	Textfile string `yaml:"textfile"`
}

// Default returns the configuration used when no file is given. Paths are
// relative until Load resolves them.
func Default() Config {
	return Config{
		Paths: PathsConfig{
			BaseDir:     "evaluation_source/evaluation",
			CheckoutDir: "evaluation_source/user",
			TargetsDir:  "work/targets",
			OutputDir:   "work/output",
			ResultsDir:  "results",
			IDsFile:     "ids.txt",
			StateDir:    ".",
		},
		Git: GitConfig{
			Enabled:          true,
			EvaluationBranch: "evaluation_version",
		},
		Build: BuildConfig{
			Compiler:          "javac",
			Runtime:           "java",
			MainClass:         "competition.richmario.SimpleExperiment",
			SourceRoot:        "src/main/java",
			SourceExtensions:  []string{".java"},
			ResourcesDir:      "src/main/resources",
			DependencyDir:     "lib",
			MaxInlineArgs:     8000,
			ErrorMarker:       "error",
			AcceptedExitCodes: []int{0, 130},
			Workers:           pipeline.DefaultWorkers,
		},
		Scoring: ScoringConfig{
			HeaderLines:  logparse.DefaultHeaderLines,
			TrainStride:  100,
			FirstSegment: 10,
			CurveMarks:   10,
			Report:       "scores.csv",
		},
		Ledger: LedgerConfig{Path: "results/ledger.db"},
	}
}

// Load reads path over Default and resolves relative paths against the
// directory of path. An empty path resolves the defaults against the current
// working directory.
func Load(path string) (*Config, error) {
	cfg := Default()
	root, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		root = filepath.Dir(abs)
	}
	cfg.resolve(root)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) resolve(root string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(root, filepath.FromSlash(p))
	}
	c.Paths.BaseDir = abs(c.Paths.BaseDir)
	c.Paths.CheckoutDir = abs(c.Paths.CheckoutDir)
	c.Paths.TargetsDir = abs(c.Paths.TargetsDir)
	c.Paths.OutputDir = abs(c.Paths.OutputDir)
	c.Paths.ResultsDir = abs(c.Paths.ResultsDir)
	c.Paths.IDsFile = abs(c.Paths.IDsFile)
	c.Paths.StateDir = abs(c.Paths.StateDir)
	c.Paths.CatalogFile = abs(c.Paths.CatalogFile)
	c.Build.DependencyDir = abs(c.Build.DependencyDir)
	for i, e := range c.Build.Classpath {
		c.Build.Classpath[i] = abs(e)
	}
	c.Ledger.Path = abs(c.Ledger.Path)
	c.Metrics.Textfile = abs(c.Metrics.Textfile)
	if c.Scoring.Report != "" && !filepath.IsAbs(c.Scoring.Report) {
		c.Scoring.Report = filepath.Join(c.Paths.ResultsDir, filepath.FromSlash(c.Scoring.Report))
	}
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	required := map[string]string{
		"paths.base_dir":    c.Paths.BaseDir,
		"paths.targets_dir": c.Paths.TargetsDir,
		"paths.output_dir":  c.Paths.OutputDir,
		"paths.results_dir": c.Paths.ResultsDir,
		"paths.state_dir":   c.Paths.StateDir,
		"build.compiler":    c.Build.Compiler,
		"build.runtime":     c.Build.Runtime,
		"build.main_class":  c.Build.MainClass,
		"scoring.report":    c.Scoring.Report,
	}
	for _, k := range slices.Sorted(maps.Keys(required)) {
		if strings.TrimSpace(required[k]) == "" {
			errs = append(errs, fmt.Errorf("%s is required", k))
		}
	}
	if c.Git.Enabled && c.Paths.CheckoutDir == "" {
		errs = append(errs, errors.New("paths.checkout_dir is required when git is enabled"))
	}
	if c.Build.Workers < 1 {
		errs = append(errs, fmt.Errorf("build.workers must be >= 1 (got %d)", c.Build.Workers))
	}
	if c.Build.MaxInlineArgs < 0 {
		errs = append(errs, errors.New("build.max_inline_args must be >= 0"))
	}
	if len(c.Build.SourceExtensions) == 0 {
		errs = append(errs, errors.New("build.source_extensions must not be empty"))
	}
	if c.Scoring.HeaderLines < 0 {
		errs = append(errs, errors.New("scoring.header_lines must be >= 0"))
	}
	if c.Scoring.TrainStride < 1 {
		errs = append(errs, errors.New("scoring.train_stride must be >= 1"))
	}
	if c.Scoring.FirstSegment < 1 {
		errs = append(errs, errors.New("scoring.first_segment must be >= 1"))
	}
	if c.Scoring.CurveMarks < 0 {
		errs = append(errs, errors.New("scoring.curve_marks must be >= 0"))
	}
	return errors.Join(errs...)
}

// Toolchain returns the build settings in the form the coordinator takes.
func (c Config) Toolchain() pipeline.Toolchain {
	return pipeline.Toolchain{
		Compiler:          c.Build.Compiler,
		Runtime:           c.Build.Runtime,
		MainClass:         c.Build.MainClass,
		SourceRoot:        c.Build.SourceRoot,
		SourceExtensions:  c.Build.SourceExtensions,
		ResourcesDir:      c.Build.ResourcesDir,
		DependencyDir:     c.Build.DependencyDir,
		ClasspathEntries:  c.Build.Classpath,
		MaxInlineArgs:     c.Build.MaxInlineArgs,
		ErrorMarker:       c.Build.ErrorMarker,
		AcceptedExitCodes: c.Build.AcceptedExitCodes,
		Env:               c.Build.Env,
	}
}

// ParseOptions returns the log parser settings.
func (c Config) ParseOptions() logparse.Options {
	return logparse.Options{HeaderLines: c.Scoring.HeaderLines, TrainStride: c.Scoring.TrainStride}
}

// ScoreOptions returns the aggregation settings.
func (c Config) ScoreOptions() score.Options {
	return score.Options{FirstSegment: c.Scoring.FirstSegment, CurveMarks: c.Scoring.CurveMarks}
}
