// Command threemeal runs the ThreeMeal local backend and its maintenance
// tasks against one data directory.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/threemeal/backend/internal/app"
	"github.com/kimhsiao/threemeal/backend/internal/config"
	"github.com/kimhsiao/threemeal/backend/internal/logging"
)

// Version is set at build time.
var Version = "0.1.0"

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	dataDir    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "threemeal",
		Short:         "Local meal log backend",
		Long:          `threemeal stores food cards and meal records in SQLite, serves them to the desktop frontend and manages backups.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", os.Getenv("THREEMEAL_CONFIG"), "path to config.yaml")
	flags.StringVar(&opts.dataDir, "data-dir", "", "data directory (overrides config)")
	flags.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newExportCmd(opts),
		newImportCmd(opts),
		newBackupsCmd(opts),
		newCardsCmd(opts),
		newMealsCmd(opts),
		newImagesCmd(opts),
	)
	return root
}

// load reads the config file and applies flag overrides. Logs go to stderr
// so command output on stdout stays machine readable.
func (o *globalOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.dataDir != "" {
		cfg.Database.DataDir = o.dataDir
		cfg.Database.Path = ""
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logging.Init(os.Stderr, logging.ParseLevel(cfg.Logging.Level))
	return cfg, nil
}

// open loads the config and opens a migrated App. Callers must Close it.
func (o *globalOptions) open(ctx context.Context) (*app.App, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}
	return app.Open(ctx, cfg)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
