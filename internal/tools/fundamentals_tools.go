package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	t_utils "github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/dyike/tradecouncil/internal/agents"
	"github.com/dyike/tradecouncil/internal/dataflows"
	"github.com/dyike/tradecouncil/models"
)

// insiderLookBack is the window insider tools cover before curr_date.
const insiderLookBack = 90

type FundamentalsInput struct {
	Ticker   string `json:"ticker"`
	CurrDate string `json:"curr_date"`
}

func newFundamentalsTool(src DataSource) tool.InvokableTool {
	return t_utils.NewTool(
		&schema.ToolInfo{
			Name: agents.ToolFundamentals,
			Desc: "Retrieve the company profile and headline valuation metrics",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"ticker":    {Type: schema.String, Desc: "Ticker symbol", Required: true},
				"curr_date": {Type: schema.String, Desc: "Current date in yyyy-mm-dd"},
			}),
		},
		func(ctx context.Context, in FundamentalsInput) (*Output, error) {
			if in.Ticker == "" {
				return nil, fmt.Errorf("ticker parameter is required")
			}
			p, err := src.Profile(ctx, in.Ticker)
			if err != nil {
				return nil, err
			}
			var b strings.Builder
			fmt.Fprintf(&b, "## Fundamentals for %s\n\n", p.Symbol)
			fmt.Fprintf(&b, "Name: %s\nExchange: %s\nCurrency: %s\nPrice: %s\n", p.Name, p.Exchange, p.Currency, p.Price.StringFixed(2))
			keys := make([]string, 0, len(p.Metrics))
			for k := range p.Metrics {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&b, "%s: %s\n", k, p.Metrics[k].StringFixed(4))
			}
			return &Output{Result: b.String()}, nil
		},
	)
}

type StatementInput struct {
	Ticker   string `json:"ticker"`
	Freq     string `json:"freq"`
	CurrDate string `json:"curr_date"`
}

func newStatementTool(src DataSource, name string, kind dataflows.StatementKind) tool.InvokableTool {
	return t_utils.NewTool(
		&schema.ToolInfo{
			Name: name,
			Desc: fmt.Sprintf("Retrieve reported %s data filed on or before curr_date", strings.ToLower(kind.Title())),
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"ticker":    {Type: schema.String, Desc: "Ticker symbol", Required: true},
				"freq":      {Type: schema.String, Desc: "annual or quarterly, default quarterly", Enum: []string{"annual", "quarterly"}},
				"curr_date": {Type: schema.String, Desc: "Current date in yyyy-mm-dd"},
			}),
		},
		func(ctx context.Context, in StatementInput) (*Output, error) {
			if in.Ticker == "" {
				return nil, fmt.Errorf("ticker parameter is required")
			}
			asOf, err := parseDay(in.CurrDate, time.Time{})
			if err != nil {
				return nil, err
			}
			stmts, err := src.Statements(ctx, in.Ticker, kind, in.Freq, asOf)
			if err != nil {
				return nil, err
			}
			var b strings.Builder
			fmt.Fprintf(&b, "## %s for %s\n\n", kind.Title(), strings.ToUpper(in.Ticker))
			if len(stmts) == 0 {
				b.WriteString("No filings found.\n")
			}
			// 只展示最近的四期
			for i, st := range stmts {
				if i == 4 {
					break
				}
				fmt.Fprintf(&b, "### %s %d Q%d (filed %s)\n", st.Form, st.Year, st.Quarter, st.Filed)
				for _, item := range st.Items {
					fmt.Fprintf(&b, "- %s: %s %s\n", item.Label, item.Value.String(), item.Unit)
				}
				b.WriteString("\n")
			}
			return &Output{Result: b.String()}, nil
		},
	)
}

type InsiderInput struct {
	Ticker   string `json:"ticker"`
	CurrDate string `json:"curr_date"`
}

var insiderParams = schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
	"ticker":    {Type: schema.String, Desc: "Ticker symbol", Required: true},
	"curr_date": {Type: schema.String, Desc: "Current date in yyyy-mm-dd", Required: true},
})

func insiderWindow(in InsiderInput) (time.Time, time.Time, error) {
	if in.Ticker == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("ticker parameter is required")
	}
	curr, err := parseDay(in.CurrDate, time.Now().UTC())
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return curr.AddDate(0, 0, -insiderLookBack), curr, nil
}

func newInsiderSentimentTool(src DataSource) tool.InvokableTool {
	return t_utils.NewTool(
		&schema.ToolInfo{
			Name:        agents.ToolInsiderSentiment,
			Desc:        "Retrieve monthly insider sentiment (MSPR) for the 90 days before curr_date",
			ParamsOneOf: insiderParams,
		},
		func(ctx context.Context, in InsiderInput) (*Output, error) {
			from, to, err := insiderWindow(in)
			if err != nil {
				return nil, err
			}
			rows, err := src.InsiderSentiment(ctx, in.Ticker, from, to)
			if err != nil {
				return nil, err
			}
			var b strings.Builder
			fmt.Fprintf(&b, "## %s insider sentiment from %s to %s\n\n", strings.ToUpper(in.Ticker),
				from.Format(models.DateLayout), to.Format(models.DateLayout))
			if len(rows) == 0 {
				b.WriteString("No insider sentiment data.\n")
			}
			for _, r := range rows {
				fmt.Fprintf(&b, "%d-%02d: change %d, MSPR %s\n", r.Year, r.Month, r.Change, r.MSPR.StringFixed(2))
			}
			b.WriteString("\nMSPR ranges from -100 (heavy selling) to 100 (heavy buying).\n")
			return &Output{Result: b.String()}, nil
		},
	)
}

func newInsiderTransactionsTool(src DataSource) tool.InvokableTool {
	return t_utils.NewTool(
		&schema.ToolInfo{
			Name:        agents.ToolInsiderTransactions,
			Desc:        "Retrieve insider transactions for the 90 days before curr_date",
			ParamsOneOf: insiderParams,
		},
		func(ctx context.Context, in InsiderInput) (*Output, error) {
			from, to, err := insiderWindow(in)
			if err != nil {
				return nil, err
			}
			rows, err := src.InsiderTransactions(ctx, in.Ticker, from, to)
			if err != nil {
				return nil, err
			}
			var b strings.Builder
			fmt.Fprintf(&b, "## %s insider transactions from %s to %s\n\n", strings.ToUpper(in.Ticker),
				from.Format(models.DateLayout), to.Format(models.DateLayout))
			if len(rows) == 0 {
				b.WriteString("No insider transactions.\n")
			}
			for _, r := range rows {
				fmt.Fprintf(&b, "%s %s: %s change %d shares at %s (holding %d)\n",
					r.TransactionDate, r.PersonName, r.TransactionCode, r.Change, r.TransactionPrice.StringFixed(2), r.Share)
			}
			return &Output{Result: b.String()}, nil
		},
	)
}
