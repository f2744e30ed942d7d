// Package cmd defines the CLI commands for the menu-harvester executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/menu-harvester/internal/config"
	"github.com/JakeFAU/menu-harvester/internal/logging"
	"github.com/JakeFAU/menu-harvester/internal/server"
)

type rootOptions struct {
	configPath string
}

// newRootCmd creates the root command and registers subcommands.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "menu-harvester",
		Short: "Crawls restaurant websites and harvests their menus as text chunks.",
		Long: `menu-harvester crawls a restaurant website from a start URL, keeps the
pages and PDF documents that carry menu content, and splits the harvested
text into overlapping chunks ready for indexing.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newHarvestCmd(opts))
	return cmd
}

// load reads configuration and builds the logger shared by subcommands.
func (o *rootOptions) load() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		Service:     cfg.Tracing.ServiceName,
		Version:     server.Version,
	})
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
