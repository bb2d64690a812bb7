package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/medvied/mze/internal/bootstrap"
	"github.com/medvied/mze/internal/config"
	"github.com/spf13/cobra"
)

func newServerCmd(a *app) *cobra.Command {
	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Run the mze storage server",
	}

	var flags *config.ServerFlags
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the mze storage server",
		Long: `Start the mze storage server.

In blob mode the server exposes a storage engine (file:<storage-dir> unless
--storage-url names another) through put, get, head, catalog, delete and the
management routes. In record mode it serves versioned records kept under
--storage-dir. All routes are mounted under --web-location.

Settings not given as flags come from MZE_* variables and the config file.

Examples:
  mze server start --instance-id $(uuidgen | tr A-Z a-z) --storage-dir /srv/mze
  mze server start --mode record --listen 127.0.0.1:8080 --web-location /records`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg.Server
			flags.Apply(&cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := bootstrap.NewLogger(cfg.LogLevel, cfg.LogFormat, a.stdout)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return bootstrap.Run(ctx, &cfg, logger)
		},
	}

	flags = config.NewServerFlags(startCmd.Flags())

	serverCmd.AddCommand(startCmd)
	return serverCmd
}
