// Package cli provides the command-line interface for tradecouncil
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dyike/tradecouncil/config"
	"github.com/dyike/tradecouncil/internal/storage/sqlite"
	"github.com/dyike/tradecouncil/internal/tools"
	"github.com/dyike/tradecouncil/pkg/app"
)

// Set by the linker.
var (
	Version   = "dev"
	BuildDate = ""
)

type rootOptions struct {
	configPath string
	debug      bool

	// test hooks, nil in production
	models app.ModelFactory
	data   tools.DataSource
}

// Run starts the CLI application
func Run() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	return newRootCmd(&rootOptions{})
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "council",
		Short: "tradecouncil - multi-agent trading deliberation",
		Long: `tradecouncil runs a council of LLM agents over a ticker and a trade date:
analysts write reports, researchers and risk analysts debate, and judges
commit to a BUY, SELL or HOLD decision.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug mode")

	rootCmd.AddCommand(
		newAnalyzeCmd(opts),
		newServeCmd(opts),
		newHistoryCmd(opts),
		newConfigCmd(opts),
		newMemoryCmd(opts),
		newReflectCmd(opts),
		newToolsCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tradecouncil %s", Version)
			if BuildDate != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " (%s)", BuildDate)
			}
			fmt.Fprintln(cmd.OutOrStdout())
		},
	}
}

// openApp starts the full application, engine included.
func (o *rootOptions) openApp(ctx context.Context, watch bool, extra app.Options) (*app.App, error) {
	extra.ConfigPath = o.configPath
	extra.Debug = o.debug
	extra.Watch = watch
	if extra.Models == nil {
		extra.Models = o.models
	}
	if extra.Data == nil {
		extra.Data = o.data
	}
	return app.Open(ctx, extra)
}

// loadConfig reads the config file with the environment overlay applied. It
// never builds models, so it works without API keys.
func (o *rootOptions) loadConfig() (*config.Manager, config.Config, error) {
	mgr, err := config.NewManager(config.WithConfigPath(o.configPath))
	if err != nil {
		return nil, config.Config{}, err
	}
	cfg := mgr.Get()
	cfg.ApplyEnv()
	return mgr, cfg, nil
}

func (o *rootOptions) openStore() (*sqlite.Store, error) {
	_, cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return sqlite.Open(cfg.DBPath)
}
