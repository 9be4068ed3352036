package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyike/tradecouncil/internal/memory"
	"github.com/dyike/tradecouncil/pkg/app"
)

func newMemoryCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and seed the reflection memory",
	}

	var situation, recommendation string
	add := &cobra.Command{
		Use:   "add",
		Short: "Store a recommendation for a situation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			mem, err := memory.Open(cmd.Context(), store)
			if err != nil {
				return err
			}
			r, err := mem.Add(cmd.Context(), situation, recommendation)
			if err != nil {
				return err
			}
			displaySuccess(cmd.OutOrStdout(), "stored "+r.Id)
			return nil
		},
	}
	add.Flags().StringVar(&situation, "situation", "", "Market situation text")
	add.Flags().StringVar(&recommendation, "recommendation", "", "Lesson to recall in similar situations")
	_ = add.MarkFlagRequired("situation")
	_ = add.MarkFlagRequired("recommendation")

	var k int
	search := &cobra.Command{
		Use:   "search TEXT",
		Short: "Show the stored recommendations closest to TEXT",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			mem, err := memory.Open(cmd.Context(), store)
			if err != nil {
				return err
			}
			matches, err := mem.Search(cmd.Context(), strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(matches) == 0 {
				fmt.Fprintln(out, mutedStyle.Render("no memories"))
				return nil
			}
			for i, m := range matches {
				fmt.Fprintf(out, "%d. %s %s\n   %s\n", i+1,
					turnStyle.Render(fmt.Sprintf("[%.3f]", m.Score)),
					m.Reflection.Id,
					truncateString(m.Reflection.Recommendation, 300))
			}
			return nil
		},
	}
	search.Flags().IntVarP(&k, "k", "k", 2, "Number of matches")

	cmd.AddCommand(add, search)
	return cmd
}

func newReflectCmd(opts *rootOptions) *cobra.Command {
	var returns string
	cmd := &cobra.Command{
		Use:   "reflect SESSION_ID",
		Short: "Learn from the realized outcome of an archived session",
		Long: `Ask the deep model to review an archived session against its realized
returns and store the lesson in memory, where later sessions recall it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp(cmd.Context(), false, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			snap, err := a.Store.GetSnapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if snap == nil {
				return fmt.Errorf("session %s has no final snapshot", args[0])
			}
			r, err := a.Runtime.Engine().Reflector.Reflect(cmd.Context(), *snap, returns)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			displaySuccess(out, "stored reflection "+r.Id)
			fmt.Fprintln(out, truncateString(r.Recommendation, 1200))
			return nil
		},
	}
	cmd.Flags().StringVar(&returns, "returns", "", "Realized returns or losses, e.g. \"+4.2% over 5 days\"")
	_ = cmd.MarkFlagRequired("returns")
	return cmd
}
