package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dyike/tradecouncil/internal/graph"
	"github.com/dyike/tradecouncil/models"
	"github.com/dyike/tradecouncil/pkg/app"
)

type analyzeFlags struct {
	date     string
	analysts []string
	rounds   int
	json     bool
	verbose  bool
}

// newAnalyzeCmd creates the analyze command
func newAnalyzeCmd(opts *rootOptions) *cobra.Command {
	f := &analyzeFlags{}
	cmd := &cobra.Command{
		Use:   "analyze [TICKER]",
		Short: "Run a deliberation for a ticker",
		Long: `Run the full council for one ticker and trade date and print the final decision.
Without a ticker the command asks for its inputs interactively.
Example: council analyze NVDA --date=2025-03-14 --analysts=market,news`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, opts, f, args)
		},
	}

	cmd.Flags().StringVar(&f.date, "date", "", "Trade date in YYYY-MM-DD format (today if not provided)")
	cmd.Flags().StringSliceVar(&f.analysts, "analysts", nil, "Analysts to run: market,social,news,fundamentals")
	cmd.Flags().IntVar(&f.rounds, "rounds", 0, "Debate rounds per loop (config default if 0)")
	cmd.Flags().BoolVar(&f.json, "json", false, "Print the final snapshot as JSON")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Print report and turn excerpts while running")
	return cmd
}

func runAnalyze(cmd *cobra.Command, opts *rootOptions, f *analyzeFlags, args []string) error {
	params := models.AnalysisParams{
		TradeDate:       f.date,
		Analysts:        f.analysts,
		MaxDebateRounds: f.rounds,
	}
	if len(args) == 1 {
		params.Ticker = args[0]
	} else {
		if f.json {
			return fmt.Errorf("ticker is required with --json")
		}
		if err := askAnalyzeParams(opts, &params); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	var observers []graph.Observer
	if !f.json {
		observers = append(observers, newProgress(out, f.verbose))
	}
	a, err := opts.openApp(ctx, false, app.Options{Observers: observers})
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.Registry.NewSession(params)
	if err != nil {
		return err
	}
	if err := a.Registry.Start(s, a.Run); err != nil {
		return err
	}

	snap, err := a.Registry.Wait(ctx, s.ID())
	if err != nil {
		// interrupted: stop between turns and report what we have
		_ = a.Registry.Cancel(s.ID())
		if snap, err = a.Registry.Wait(context.Background(), s.ID()); err != nil {
			return err
		}
	}

	if f.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return err
		}
	} else {
		renderDecision(out, snap)
		if u := a.Runtime.Engine().Usage; u.Calls.Load() > 0 {
			fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("%d model calls, %d prompt and %d completion tokens",
				u.Calls.Load(), u.Prompt.Load(), u.Completion.Load())))
		}
	}
	if snap.Status != models.StatusCompleted {
		return fmt.Errorf("analysis %s", snap.Status)
	}
	return nil
}

func askAnalyzeParams(opts *rootOptions, params *models.AnalysisParams) error {
	_, cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if params.Ticker, err = promptForTicker(); err != nil {
		return err
	}
	if params.TradeDate == "" {
		if params.TradeDate, err = promptForDate(); err != nil {
			return err
		}
	}
	if len(params.Analysts) == 0 {
		if params.Analysts, err = promptForAnalysts(cfg.SelectedAnalysts); err != nil {
			return err
		}
	}
	if params.MaxDebateRounds == 0 {
		if params.MaxDebateRounds, err = promptForRounds(cfg.MaxDebateRounds); err != nil {
			return err
		}
	}
	return nil
}
