package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dyike/tradecouncil/config"
	"github.com/dyike/tradecouncil/internal/debug"
)

// newConfigCmd creates the config command
func newConfigCmd(opts *rootOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			masked := maskSecrets(cfg)
			data, err := yaml.Marshal(&masked)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s\n%s", mgr.Path(), data)
			if url := debug.URL(&cfg); url != "" {
				fmt.Fprintf(out, "# eino debug: %s\n", url)
			}
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and report missing credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if err := cfg.Validate(); err != nil {
				displayError(out, err)
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("directory validation failed: %w", err)
			}
			for _, w := range credentialWarnings(cfg) {
				fmt.Fprintln(out, mutedStyle.Render("⚠️  "+w))
			}
			displaySuccess(out, "configuration is valid")
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file if none exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			displaySuccess(cmd.OutOrStdout(), "config at "+mgr.Path())
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set one config key, e.g. max_debate_rounds 2",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if err := mgr.Set(args[0], args[1]); err != nil {
				return err
			}
			displaySuccess(cmd.OutOrStdout(), fmt.Sprintf("%s updated", args[0]))
			return nil
		},
	})

	return configCmd
}

func maskSecrets(cfg config.Config) config.Config {
	for _, s := range []*string{
		&cfg.DeepSeekAPIKey, &cfg.OpenAIAPIKey, &cfg.FinnhubAPIKey,
		&cfg.LongportAppKey, &cfg.LongportAppSecret, &cfg.LongportAccessToken,
	} {
		*s = mask(*s)
	}
	return cfg
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

func credentialWarnings(cfg config.Config) []string {
	var warnings []string
	if cfg.APIKey() == "" {
		warnings = append(warnings, fmt.Sprintf("%s API key not configured", cfg.LLMProvider))
	}
	if cfg.OnlineTools && cfg.FinnhubAPIKey == "" {
		warnings = append(warnings, "Finnhub API key not configured, news falls back to Google News and insider data is unavailable")
	}
	if cfg.OnlineTools && !cfg.HasLongport() {
		warnings = append(warnings, "Longport credentials not configured, prices come from Yahoo Finance")
	}
	return warnings
}
