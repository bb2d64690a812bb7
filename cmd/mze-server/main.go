// Command mze-server runs the mze storage server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/medvied/mze/internal/bootstrap"
	"github.com/medvied/mze/internal/cli"
	"github.com/medvied/mze/internal/config"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("mze-server", pflag.ContinueOnError)
	cfgPath := fs.String("config", os.Getenv("MZE_CONFIG"), "Config file (default "+config.DefaultPath()+")")
	flags := config.NewServerFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(cli.ExitOK)
		}
		fmt.Fprintf(os.Stderr, "mze-server: %v\n", err)
		os.Exit(cli.ExitUsage)
	}

	// Precedence: flags, then MZE_* variables, then the config file.
	cfg, err := config.Load(*cfgPath)
	if err == nil {
		err = cfg.ApplyEnv(os.Getenv)
	}
	if err == nil {
		flags.Apply(&cfg.Server)
		// Refuse to start before binding the port.
		err = cfg.Server.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "mze-server: %v\n", err)
		os.Exit(cli.ExitCode(err))
	}

	logger := bootstrap.NewLogger(cfg.Server.LogLevel, cfg.Server.LogFormat, os.Stdout)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bootstrap.Run(ctx, &cfg.Server, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server error", "error", err)
		stop()
		os.Exit(cli.ExitCode(err))
	}
}
