// Command feedcache serves cached RSS, Atom and JSON feeds for upstream item
// collections and offers maintenance commands for the cache store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/feedcache/internal/config"
	"github.com/Sternrassler/feedcache/pkg/logging"
)

// Version is set at build time.
var Version = "dev"

type rootOptions struct {
	configPath string
	envFiles   []string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "feedcache",
		Short:         "Feed cache and sync layer for upstream item collections",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to configuration file")
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "dotenv files to load before reading configuration (default .env)")

	root.AddCommand(
		newServeCmd(opts),
		newCacheCmd(opts),
		newVersionCmd(),
	)
	return root
}

// load reads dotenv files and the configuration, then sets up logging.
func (o *rootOptions) load() (*config.Config, error) {
	if err := config.LoadDotEnv(o.envFiles...); err != nil {
		return nil, err
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.LoggingConfig())
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "feedcache %s\n", Version)
		},
	}
}
