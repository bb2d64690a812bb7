// Package cli implements the command-line interface for mze.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/medvied/mze/internal/config"
	"github.com/spf13/cobra"
)

// app holds the streams and settings shared by all commands of one
// invocation.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	getenv func(string) string

	cfgPath     string
	serverURL   string
	blobID      string
	filenameIn  string
	filenameOut string
	initCfg     string
	createCfg   string

	cfg *config.Config
	// started is set once argument parsing succeeded and a command runs.
	started bool
}

func newApp(stdin io.Reader, stdout, stderr io.Writer, getenv func(string) string) *app {
	return &app{stdin: stdin, stdout: stdout, stderr: stderr, getenv: getenv}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mze",
		Short: "Pluggable blob storage",
		Long: `mze stores opaque blobs addressed by UUID in a pluggable engine: a flat
directory, a bbolt or SQLite database, an S3 bucket, or a remote mze server.
It also stores versioned records through a record server.

The engine is selected by --server-url:
  file:<dir>            flat directory
  bolt:<file>           bbolt database
  sqlite:<file>         SQLite database
  s3://bucket/prefix    S3 bucket
  http(s)://host/loc    mze server`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.loadConfig,
	}
	rootCmd.SetIn(a.stdin)
	rootCmd.SetOut(a.stdout)
	rootCmd.SetErr(a.stderr)
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageErrorf(err.Error())
	})

	f := rootCmd.PersistentFlags()
	f.StringVar(&a.cfgPath, "config", "", "Config file (default "+config.DefaultPath()+")")
	f.StringVar(&a.serverURL, "server-url", a.env("MZE_SERVER_URL", ""), "Storage URL (env: MZE_SERVER_URL)")
	f.StringVar(&a.blobID, "blob-id", a.env("MZE_BLOB_ID", ""), "Blob id (env: MZE_BLOB_ID)")
	f.StringVar(&a.filenameIn, "filename-in", a.env("MZE_FILENAME_IN", "-"), "Input file, - for stdin (env: MZE_FILENAME_IN)")
	f.StringVar(&a.filenameOut, "filename-out", a.env("MZE_FILENAME_OUT", "-"), "Output file, - for stdout (env: MZE_FILENAME_OUT)")
	f.StringVar(&a.initCfg, "init-cfg", a.env("MZE_INIT_CFG", ""), "Engine config for init, JSON (env: MZE_INIT_CFG)")
	f.StringVar(&a.createCfg, "create-cfg", a.env("MZE_CREATE_CFG", ""), "Engine config for create, JSON (env: MZE_CREATE_CFG)")

	for _, name := range storageCommands {
		rootCmd.AddCommand(newStorageCmd(a, name))
	}
	rootCmd.AddCommand(newRunCmd(a))
	rootCmd.AddCommand(newRecordCmd(a))
	rootCmd.AddCommand(newServerCmd(a))
	rootCmd.AddCommand(newVersionCmd(a))
	return rootCmd
}

// loadConfig reads the config file and fills flags that neither the command
// line nor the environment set.
func (a *app) loadConfig(_ *cobra.Command, _ []string) error {
	a.started = true
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(a.getenv); err != nil {
		return err
	}
	a.cfg = cfg
	if a.serverURL == "" {
		a.serverURL = cfg.Client.ServerURL
	}
	if a.initCfg == "" {
		a.initCfg = cfg.Client.InitCfg
	}
	if a.createCfg == "" {
		a.createCfg = cfg.Client.CreateCfg
	}
	return nil
}

func (a *app) env(key, defaultVal string) string {
	if v := a.getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// execute runs the command line and returns the process exit code.
func (a *app) execute(args []string) int {
	rootCmd := newRootCmd(a)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	if err == nil {
		return ExitOK
	}
	if !a.started {
		err = usageErrorf(err.Error())
	}
	red := color.New(color.FgRed)
	red.Fprint(a.stderr, "error: ")
	fmt.Fprintln(a.stderr, err)
	return ExitCode(err)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	return newApp(os.Stdin, os.Stdout, os.Stderr, os.Getenv).execute(os.Args[1:])
}
