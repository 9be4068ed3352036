package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	t_utils "github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/dyike/tradecouncil/internal/agents"
	"github.com/dyike/tradecouncil/internal/dataflows"
	"github.com/dyike/tradecouncil/models"
)

type StockDataInput struct {
	Symbol    string `json:"symbol"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// newStockDataTool returns daily OHLCV rows as a CSV table.
func newStockDataTool(src DataSource) tool.InvokableTool {
	return t_utils.NewTool(
		&schema.ToolInfo{
			Name: agents.ToolStockData,
			Desc: "Retrieve daily OHLCV price data for a ticker between two dates",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"symbol":     {Type: schema.String, Desc: "Ticker symbol, e.g. AAPL", Required: true},
				"start_date": {Type: schema.String, Desc: "Start date in yyyy-mm-dd", Required: true},
				"end_date":   {Type: schema.String, Desc: "End date in yyyy-mm-dd", Required: true},
			}),
		},
		func(ctx context.Context, in StockDataInput) (*Output, error) {
			if in.Symbol == "" {
				return nil, fmt.Errorf("symbol parameter is required")
			}
			end, err := parseDay(in.EndDate, time.Now().UTC())
			if err != nil {
				return nil, err
			}
			start, err := parseDay(in.StartDate, end.AddDate(0, 0, -30))
			if err != nil {
				return nil, err
			}
			if start.After(end) {
				return nil, fmt.Errorf("start_date %s is after end_date %s", in.StartDate, in.EndDate)
			}
			bars, err := src.Bars(ctx, in.Symbol, start, end)
			if err != nil {
				return nil, err
			}
			return &Output{Result: formatBars(strings.ToUpper(in.Symbol), start, end, bars)}, nil
		},
	)
}

func formatBars(symbol string, start, end time.Time, bars []*dataflows.Bar) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Stock data for %s from %s to %s\n", symbol,
		start.Format(models.DateLayout), end.Format(models.DateLayout))
	if len(bars) == 0 {
		b.WriteString("No data found for this period.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "# Total records: %d\n\n", len(bars))
	b.WriteString("Date,Open,High,Low,Close,Volume\n")
	for _, bar := range bars {
		fmt.Fprintf(&b, "%s,%.2f,%.2f,%.2f,%.2f,%d\n", bar.Date, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
	}
	return b.String()
}

type IndicatorInput struct {
	Symbol       string `json:"symbol"`
	Indicator    string `json:"indicator"`
	CurrDate     string `json:"curr_date"`
	LookBackDays int    `json:"look_back_days"`
}

// warmup is the extra history fetched so long averages are defined inside
// the requested window.
const warmup = 300

func newIndicatorTool(src DataSource) tool.InvokableTool {
	var desc strings.Builder
	desc.WriteString("Compute one technical indicator for a ticker over a look-back window. Supported indicators:\n")
	for _, n := range dataflows.IndicatorNames() {
		fmt.Fprintf(&desc, "- %s: %s\n", n, dataflows.IndicatorDescriptions[n])
	}
	return t_utils.NewTool(
		&schema.ToolInfo{
			Name: agents.ToolIndicators,
			Desc: desc.String(),
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"symbol":         {Type: schema.String, Desc: "Ticker symbol", Required: true},
				"indicator":      {Type: schema.String, Desc: "Indicator name, one of the supported list", Required: true},
				"curr_date":      {Type: schema.String, Desc: "Current trading date in yyyy-mm-dd", Required: true},
				"look_back_days": {Type: schema.Integer, Desc: "How many days to look back, default 30"},
			}),
		},
		func(ctx context.Context, in IndicatorInput) (*Output, error) {
			if in.Symbol == "" || in.Indicator == "" {
				return nil, fmt.Errorf("symbol and indicator parameters are required")
			}
			name := strings.ToLower(strings.TrimSpace(in.Indicator))
			if _, ok := dataflows.IndicatorDescriptions[name]; !ok {
				return nil, fmt.Errorf("indicator %s is not supported, choose from: %s",
					in.Indicator, strings.Join(dataflows.IndicatorNames(), ", "))
			}
			curr, err := parseDay(in.CurrDate, time.Now().UTC())
			if err != nil {
				return nil, err
			}
			if in.LookBackDays <= 0 {
				in.LookBackDays = 30
			}
			from := curr.AddDate(0, 0, -in.LookBackDays)
			bars, err := src.Bars(ctx, in.Symbol, from.AddDate(0, 0, -warmup), curr)
			if err != nil {
				return nil, err
			}
			values, err := dataflows.CalculateIndicator(name, bars, from, curr)
			if err != nil {
				return nil, err
			}

			var b strings.Builder
			fmt.Fprintf(&b, "## %s values from %s to %s:\n\n", name,
				from.Format(models.DateLayout), curr.Format(models.DateLayout))
			if len(values) == 0 {
				b.WriteString("N/A: not enough trading data in this window\n")
			}
			for _, v := range values {
				fmt.Fprintf(&b, "%s: %.4f\n", v.Date, v.Value)
			}
			fmt.Fprintf(&b, "\n%s\n", dataflows.IndicatorDescriptions[name])
			return &Output{Result: b.String()}, nil
		},
	)
}
