package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dyike/tradecouncil/internal/dataflows"
	"github.com/dyike/tradecouncil/internal/llm"
	"github.com/dyike/tradecouncil/internal/tools"
)

// newToolsCmd runs the data tools by hand, the same way an analyst would.
func newToolsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List and run the analyst data tools",
	}

	openCatalog := func(cmd *cobra.Command) (*tools.Catalog, func(), error) {
		_, cfg, err := opts.loadConfig()
		if err != nil {
			return nil, nil, err
		}
		var src tools.DataSource = opts.data
		cleanup := func() {}
		if src == nil {
			p, err := dataflows.NewProvider(&cfg, zap.NewNop())
			if err != nil {
				return nil, nil, err
			}
			src, cleanup = p, p.Close
		}
		catalog, err := tools.NewCatalog(cmd.Context(), src)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		return catalog, cleanup, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tool names and descriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, cleanup, err := openCatalog(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			infos, err := catalog.ToolInfos(catalog.Names())
			if err != nil {
				return err
			}
			for _, info := range infos {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n  %s\n", turnStyle.Render(info.Name), info.Desc)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "run NAME [JSON_ARGS]",
		Short: `Run one tool, e.g. get_stock_data '{"symbol":"NVDA","start_date":"2025-03-01","end_date":"2025-03-14"}'`,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, cleanup, err := openCatalog(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			call := llm.ToolCall{ID: "cli", Name: args[0], Arguments: "{}"}
			if len(args) == 2 && strings.TrimSpace(args[1]) != "" {
				call.Arguments = args[1]
			}
			out, err := catalog.Execute(cmd.Context(), call)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	})
	return cmd
}
