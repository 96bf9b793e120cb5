package testrun

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-testrun/flags"
	"github.com/ethereum-optimism/infra/op-testrun/runner"
	"github.com/ethereum/go-ethereum/log"
)

// Config holds the application configuration
type Config struct {
	Specs           []string          // Test specs to run: "Suite" or "Suite#Test"
	FailFast        bool              // Stop scheduling new units after the first failure
	SuppressOutput  bool              // Capture test output to files instead of the console
	XMLReport       bool              // Write one Ant-compatible xml report per suite
	OutDir          string            // Capture and report directory
	PerTestTimer    bool              // Per-suite progress lines instead of the dot listener
	DefaultParallel bool              // Scheduling mode for suites that do not declare one
	Threads         int               // Resolved worker count, always >= 1
	Shard           *runner.ShardSpec // Optional M/N slice of the sorted test functions
	Retries         int               // Per-test-function retry budget
	Monitoring      bool              // Expose healthz and metrics servers during the run
	Log             log.Logger
}

// CaptureEnabled reports whether per-suite stream captures are active for
// this run. Captures are needed to suppress output and to embed streams
// in xml reports.
func (c *Config) CaptureEnabled() bool {
	return c.SuppressOutput || c.XMLReport
}

// fileDefaults mirrors the run flags in a yaml defaults file. Fields are
// pointers so absent keys can be told apart from explicit zero values.
type fileDefaults struct {
	FailFast        *bool   `yaml:"fail-fast"`
	SuppressOutput  *bool   `yaml:"suppress-output"`
	XMLReport       *bool   `yaml:"xml-report"`
	OutDir          *string `yaml:"outdir"`
	PerTestTimer    *bool   `yaml:"per-test-timer"`
	DefaultParallel *bool   `yaml:"default-parallel"`
	ParallelThreads *int    `yaml:"parallel-threads"`
	TestShard       *string `yaml:"test-shard"`
	NumRetries      *int    `yaml:"num-retries"`
	Monitoring      *bool   `yaml:"monitoring"`
}

// loadFileDefaults reads the yaml defaults file when one was given.
func loadFileDefaults(path string) (*fileDefaults, error) {
	defaults := &fileDefaults{}
	if path == "" {
		return defaults, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, defaults); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return defaults, nil
}

// NewConfig creates a new Config from cli context. Explicit flags and
// environment variables win over the yaml defaults file; the file wins
// over built-in flag defaults.
func NewConfig(ctx *cli.Context, log log.Logger, specs []string) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}
	if len(specs) == 0 {
		return nil, errors.New("at least one test spec is required")
	}

	defaults, err := loadFileDefaults(ctx.String(flags.ConfigFile.Name))
	if err != nil {
		return nil, err
	}

	threads := pickInt(ctx, flags.ParallelThreads.Name, defaults.ParallelThreads)
	if threads < 0 {
		return nil, fmt.Errorf("parallel-threads cannot be negative, got %d", threads)
	}
	if threads == 0 {
		threads = runtime.NumCPU()
		fmt.Fprintf(os.Stderr, "Auto-detected %d processors, using -parallel-threads=%d\n", threads, threads)
	}

	retries := pickInt(ctx, flags.NumRetries.Name, defaults.NumRetries)
	if retries < 0 {
		return nil, fmt.Errorf("num-retries cannot be negative, got %d", retries)
	}

	var shard *runner.ShardSpec
	if raw := pickString(ctx, flags.TestShard.Name, defaults.TestShard); raw != "" {
		shard, err = runner.ParseShardSpec(raw)
		if err != nil {
			return nil, err
		}
	}

	suppressOutput := pickBool(ctx, flags.SuppressOutput.Name, defaults.SuppressOutput)
	xmlReport := pickBool(ctx, flags.XMLReport.Name, defaults.XMLReport)

	outDir := pickString(ctx, flags.OutDir.Name, defaults.OutDir)
	if suppressOutput || xmlReport {
		if outDir == "" {
			return nil, errors.New("outdir is required when suppress-output or xml-report is set")
		}
		outDir, err = filepath.Abs(outDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for outdir '%s': %w", outDir, err)
		}
	}

	return &Config{
		Specs:           specs,
		FailFast:        pickBool(ctx, flags.FailFast.Name, defaults.FailFast),
		SuppressOutput:  suppressOutput,
		XMLReport:       xmlReport,
		OutDir:          outDir,
		PerTestTimer:    pickBool(ctx, flags.PerTestTimer.Name, defaults.PerTestTimer),
		DefaultParallel: pickBool(ctx, flags.DefaultParallel.Name, defaults.DefaultParallel),
		Threads:         threads,
		Shard:           shard,
		Retries:         retries,
		Monitoring:      pickBool(ctx, flags.Monitoring.Name, defaults.Monitoring),
		Log:             log,
	}, nil
}

// pickBool resolves one bool setting: an explicit flag or env var wins,
// then the defaults file, then the flag's built-in default.
func pickBool(ctx *cli.Context, name string, fileVal *bool) bool {
	if ctx.IsSet(name) || fileVal == nil {
		return ctx.Bool(name)
	}
	return *fileVal
}

func pickInt(ctx *cli.Context, name string, fileVal *int) int {
	if ctx.IsSet(name) || fileVal == nil {
		return ctx.Int(name)
	}
	return *fileVal
}

func pickString(ctx *cli.Context, name string, fileVal *string) string {
	if ctx.IsSet(name) || fileVal == nil {
		return ctx.String(name)
	}
	return *fileVal
}
