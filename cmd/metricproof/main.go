// Command metricproof proves on-chain metrics against committed state roots
// and submits or verifies the resulting artifacts.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/eth2030/metricproof/config"
	"github.com/eth2030/metricproof/log"
	"github.com/eth2030/metricproof/metrics"
)

var (
	version = "v0.1.0"
	commit  = "unknown"
)

// errUsage marks errors caused by the command line or the configuration.
var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:]))
}

func newApp() *cli.App {
	app := &cli.App{
		Name:    "metricproof",
		Usage:   "prove and verify on-chain metrics",
		Version: fmt.Sprintf("%s (commit %s)", version, commit),
		Commands: []*cli.Command{
			proveCommand,
			publishCommand,
			verifyCommand,
			setupCommand,
			serveCommand,
		},
		Before: func(*cli.Context) error {
			metrics.Enable()
			return nil
		},
		OnUsageError:   onUsageError,
		ExitErrHandler: func(*cli.Context, error) {},
	}
	for _, cmd := range app.Commands {
		cmd.OnUsageError = onUsageError
	}
	return app
}

func onUsageError(_ *cli.Context, err error, _ bool) error {
	return fmt.Errorf("%w: %v", errUsage, err)
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newApp()
	if err := app.RunContext(ctx, append([]string{app.Name}, args...)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errUsage) || errors.Is(err, config.ErrInvalidConfig) {
			return 2
		}
		return 1
	}
	return 0
}

// setupLogging installs the default logger at the given verbosity.
func setupLogging(verbosity int) {
	log.SetDefault(log.NewTerminal(os.Stderr, log.VerbosityToLevel(verbosity), true))
}
