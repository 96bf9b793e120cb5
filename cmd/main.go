package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	testrun "github.com/ethereum-optimism/infra/op-testrun"
	"github.com/ethereum-optimism/infra/op-testrun/exitcodes"
	"github.com/ethereum-optimism/infra/op-testrun/flags"
	"github.com/ethereum-optimism/infra/op-testrun/testlist"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-testrun"
	app.Usage = "Test Execution Console Runner"
	app.Description = "op-testrun resolves test specs against the suite registry, runs them " +
		"on a bounded worker pool and exits with the total failure count"
	app.ArgsUsage = "TESTS"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run)
	app.ExitErrHandler = exitErrHandler

	// Start telemetry
	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	// Start CLI
	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

// exitCodeForError resolves the process exit status for a run error:
// ExitCoders keep their code, runtime errors use the fixed usage-error
// code, completed runs with failing tests exit with the failure count.
func exitCodeForError(err error) int {
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if testrun.IsRuntimeError(err) {
		return exitcodes.RuntimeErr
	}
	if count := testrun.FailureCount(err); count > 0 {
		return count
	}
	return 1
}

func exitErrHandler(c *cli.Context, err error) {
	if err == nil {
		return
	}
	cli.HandleExitCoder(cli.Exit(err.Error(), exitCodeForError(err)))
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(log.Handler())
	oplog.SetupDefaults()

	// Expand @argfile references before anything else sees the spec list.
	specs, err := testlist.Expand(ctx.Args().Slice())
	if err != nil {
		return nil, testrun.NewRuntimeError(err)
	}

	cfg, err := testrun.NewConfig(ctx, log, specs)
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return nil, testrun.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	cfg.Log.Debug("Config", "config", cfg)

	testrunService, err := testrun.New(ctx.Context, cfg, Version, closeApp)
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return nil, testrun.NewRuntimeError(fmt.Errorf("failed to create testrun: %w", err))
	}

	return testrunService, nil
}
