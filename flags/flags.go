package flags

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

const EnvVarPrefix = "OP_TESTRUN"

var (
	FailFast = &cli.BoolFlag{
		Name:    "fail-fast",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FAIL_FAST"),
		Usage:   "Causes the test run to stop scheduling new units after the first failure",
	}
	SuppressOutput = &cli.BoolFlag{
		Name:    "suppress-output",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SUPPRESS_OUTPUT"),
		Usage:   "Suppresses test output; captured streams are written under --outdir instead",
	}
	XMLReport = &cli.BoolFlag{
		Name:    "xml-report",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "XML_REPORT"),
		Usage:   "Create ant compatible junit xml report files in --outdir",
	}
	OutDir = &cli.StringFlag{
		Name:    "outdir",
		Value:   os.TempDir(),
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "OUTDIR"),
		Usage:   "Directory to output test captures to. Only used if --suppress-output or --xml-report is set",
	}
	PerTestTimer = &cli.BoolFlag{
		Name:    "per-test-timer",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PER_TEST_TIMER"),
		Usage:   "Show progress and timer for each test suite",
	}
	DefaultParallel = &cli.BoolFlag{
		Name:    "default-parallel",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DEFAULT_PARALLEL"),
		Usage:   "Whether to run suites without an explicit serial or parallel setting in parallel",
	}
	ParallelThreads = &cli.IntFlag{
		Name:    "parallel-threads",
		Value:   1,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PARALLEL_THREADS"),
		Usage:   "Number of workers to execute tests in parallel. Must be positive, or 0 to set automatically",
	}
	TestShard = &cli.StringFlag{
		Name:    "test-shard",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TEST_SHARD"),
		Usage:   "Subset of tests to run, in the form M/N, 0 <= M < N. For example, 1/3 means run tests number 2, 5, 8, 11, ...",
	}
	NumRetries = &cli.IntFlag{
		Name:    "num-retries",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "NUM_RETRIES"),
		Usage:   "Number of attempts to retry each failing test, 0 by default",
	}
	ConfigFile = &cli.StringFlag{
		Name:    "config",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONFIG"),
		Usage:   "Path to a yaml file with default values for the run flags (eg. 'testrun.yaml')",
	}
	Monitoring = &cli.BoolFlag{
		Name:    "monitoring",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MONITORING"),
		Usage:   "Expose healthz and metrics servers while the run executes",
	}
)

var requiredFlags = []cli.Flag{}

var optionalFlags = []cli.Flag{
	FailFast,
	SuppressOutput,
	XMLReport,
	OutDir,
	PerTestTimer,
	DefaultParallel,
	ParallelThreads,
	TestShard,
	NumRetries,
	ConfigFile,
	Monitoring,
}

var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
