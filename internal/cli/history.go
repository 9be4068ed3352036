package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dyike/tradecouncil/internal/service"
	"github.com/dyike/tradecouncil/models"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse archived sessions",
	}

	var params models.HistoryParams
	list := &cobra.Command{
		Use:   "list",
		Short: "List archived sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			page, err := service.NewHistory(store).List(cmd.Context(), params)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTICKER\tDATE\tSTATUS\tSIGNAL\tCREATED")
			for _, r := range page.Items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.Id, r.Symbol, r.TradeDate, r.Status, r.Signal, r.CreatedAt.Local().Format("2006-01-02 15:04"))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if page.NextCursor != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "\nmore: --cursor=%s\n", page.NextCursor)
			}
			return nil
		},
	}
	list.Flags().StringVar(&params.Cursor, "cursor", "", "Cursor from a previous page")
	list.Flags().IntVar(&params.Limit, "limit", 20, "Page size")

	var asJSON bool
	show := &cobra.Command{
		Use:   "show SESSION_ID",
		Short: "Show one archived session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			detail, err := service.NewHistory(store).Detail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(detail)
			}
			fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%s %s  [%s]", detail.Session.Symbol, detail.Session.TradeDate, detail.Session.Status)))
			for _, m := range detail.Messages {
				label := m.Agent
				if label == "" {
					label = m.Role
				}
				if m.Round > 0 {
					label = fmt.Sprintf("%s, round %d", label, m.Round)
				}
				fmt.Fprintf(out, "\n%s\n%s\n", turnStyle.Render(fmt.Sprintf("#%d %s (%s)", m.Seq, label, m.Kind)), truncateString(m.Content, 800))
			}
			if detail.Snapshot != nil {
				renderDecision(out, *detail.Snapshot)
			}
			return nil
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")

	cmd.AddCommand(list, show)
	return cmd
}
