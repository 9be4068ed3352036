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

type NewsInput struct {
	Ticker    string `json:"ticker"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func newNewsTool(src DataSource) tool.InvokableTool {
	return t_utils.NewTool(
		&schema.ToolInfo{
			Name: agents.ToolNews,
			Desc: "Retrieve company news and discussion for a ticker between two dates",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"ticker":     {Type: schema.String, Desc: "Ticker symbol", Required: true},
				"start_date": {Type: schema.String, Desc: "Start date in yyyy-mm-dd", Required: true},
				"end_date":   {Type: schema.String, Desc: "End date in yyyy-mm-dd", Required: true},
			}),
		},
		func(ctx context.Context, in NewsInput) (*Output, error) {
			if in.Ticker == "" {
				return nil, fmt.Errorf("ticker parameter is required")
			}
			end, err := parseDay(in.EndDate, time.Now().UTC())
			if err != nil {
				return nil, err
			}
			start, err := parseDay(in.StartDate, end.AddDate(0, 0, -7))
			if err != nil {
				return nil, err
			}
			articles, err := src.CompanyNews(ctx, in.Ticker, start, end)
			if err != nil {
				return nil, err
			}
			title := fmt.Sprintf("%s News, from %s to %s", strings.ToUpper(in.Ticker),
				start.Format(models.DateLayout), end.Format(models.DateLayout))
			return &Output{Result: formatArticles(title, articles)}, nil
		},
	)
}

type GlobalNewsInput struct {
	CurrDate     string `json:"curr_date"`
	LookBackDays int    `json:"look_back_days"`
	Limit        int    `json:"limit"`
}

func newGlobalNewsTool(src DataSource) tool.InvokableTool {
	return t_utils.NewTool(
		&schema.ToolInfo{
			Name: agents.ToolGlobalNews,
			Desc: "Retrieve global macroeconomic and market news before a date",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"curr_date":      {Type: schema.String, Desc: "Current date in yyyy-mm-dd", Required: true},
				"look_back_days": {Type: schema.Integer, Desc: "Days to look back, default 7"},
				"limit":          {Type: schema.Integer, Desc: "Maximum number of articles, default 5"},
			}),
		},
		func(ctx context.Context, in GlobalNewsInput) (*Output, error) {
			curr, err := parseDay(in.CurrDate, time.Now().UTC())
			if err != nil {
				return nil, err
			}
			if in.LookBackDays <= 0 {
				in.LookBackDays = 7
			}
			if in.Limit <= 0 {
				in.Limit = 5
			}
			from := curr.AddDate(0, 0, -in.LookBackDays)
			articles, err := src.GlobalNews(ctx, from, curr, in.Limit)
			if err != nil {
				return nil, err
			}
			title := fmt.Sprintf("Global Market News, from %s to %s",
				from.Format(models.DateLayout), curr.Format(models.DateLayout))
			return &Output{Result: formatArticles(title, articles)}, nil
		},
	)
}

func formatArticles(title string, articles []*dataflows.NewsArticle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s:\n\n", title)
	if len(articles) == 0 {
		b.WriteString("No news found.\n")
		return b.String()
	}
	for _, a := range articles {
		fmt.Fprintf(&b, "### %s (source: %s, %s)\n", a.Title, a.Source, a.PublishedAt.Format(models.DateLayout))
		if a.Summary != "" {
			b.WriteString(a.Summary)
			b.WriteString("\n")
		}
		if a.URL != "" {
			fmt.Fprintf(&b, "Link: %s\n", a.URL)
		}
		b.WriteString("\n")
	}
	return b.String()
}
