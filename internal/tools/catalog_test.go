package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/tradecouncil/consts"
	"github.com/dyike/tradecouncil/internal/agents"
	"github.com/dyike/tradecouncil/internal/dataflows"
	"github.com/dyike/tradecouncil/internal/llm"
	"github.com/dyike/tradecouncil/models"
)

type fakeSource struct {
	bars      []*dataflows.Bar
	barsStart time.Time
	barsEnd   time.Time
	asOf      time.Time
	kind      dataflows.StatementKind
	err       error
}

func (f *fakeSource) Bars(_ context.Context, _ string, start, end time.Time) ([]*dataflows.Bar, error) {
	f.barsStart, f.barsEnd = start, end
	return f.bars, f.err
}

func (f *fakeSource) Profile(_ context.Context, symbol string) (*dataflows.CompanyProfile, error) {
	return &dataflows.CompanyProfile{
		Symbol:  symbol,
		Name:    "NVIDIA Corp",
		Price:   decimal.RequireFromString("121.5"),
		Metrics: map[string]decimal.Decimal{"peTTM": decimal.RequireFromString("40.1")},
	}, f.err
}

func (f *fakeSource) CompanyNews(_ context.Context, _ string, from, _ time.Time) ([]*dataflows.NewsArticle, error) {
	return []*dataflows.NewsArticle{{Title: "Blackwell ramps", Source: "Reuters", PublishedAt: from}}, f.err
}

func (f *fakeSource) GlobalNews(context.Context, time.Time, time.Time, int) ([]*dataflows.NewsArticle, error) {
	return nil, f.err
}

func (f *fakeSource) InsiderTransactions(context.Context, string, time.Time, time.Time) ([]*dataflows.InsiderTransaction, error) {
	return []*dataflows.InsiderTransaction{{PersonName: "J. Doe", TransactionCode: "S", Change: -10, TransactionPrice: decimal.NewFromInt(100)}}, f.err
}

func (f *fakeSource) InsiderSentiment(context.Context, string, time.Time, time.Time) ([]*dataflows.InsiderSentiment, error) {
	return []*dataflows.InsiderSentiment{{Year: 2025, Month: 2, Change: 300, MSPR: decimal.NewFromFloat(12.5)}}, f.err
}

func (f *fakeSource) Statements(_ context.Context, _ string, kind dataflows.StatementKind, _ string, asOf time.Time) ([]*dataflows.Statement, error) {
	f.kind, f.asOf = kind, asOf
	return []*dataflows.Statement{{Form: "10-K", Year: 2024, Quarter: 4, Items: []dataflows.LineItem{
		{Label: "Revenue", Unit: "usd", Value: decimal.NewFromInt(39)},
	}}}, f.err
}

func newCatalog(t *testing.T, src DataSource) *Catalog {
	t.Helper()
	c, err := NewCatalog(context.Background(), src)
	require.NoError(t, err)
	return c
}

func TestCatalogCoversAnalystAllowLists(t *testing.T) {
	c := newCatalog(t, &fakeSource{})
	assert.Len(t, c.Names(), 10)
	roster, err := agents.NewRoster(context.Background())
	require.NoError(t, err)
	for _, role := range consts.Analysts {
		a, err := roster.Get(role)
		require.NoError(t, err)
		infos, err := c.ToolInfos(a.Tools)
		require.NoError(t, err, role.String())
		assert.Len(t, infos, len(a.Tools))
	}
}

func TestToolInfosRejectsUnknown(t *testing.T) {
	_, err := newCatalog(t, &fakeSource{}).ToolInfos([]string{agents.ToolNews, "get_weather"})
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestExecuteStockData(t *testing.T) {
	src := &fakeSource{bars: []*dataflows.Bar{
		{Date: "2025-03-13", Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
	}}
	out, err := newCatalog(t, src).Execute(context.Background(), llm.ToolCall{
		Name:      agents.ToolStockData,
		Arguments: `{"symbol":"nvda","start_date":"2025-03-01","end_date":"2025-03-14"}`,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "# Stock data for NVDA from 2025-03-01 to 2025-03-14")
	assert.Contains(t, out, "2025-03-13,1.00,2.00,0.50,1.50,10")
}

func TestExecuteStockDataBadRange(t *testing.T) {
	_, err := newCatalog(t, &fakeSource{}).Execute(context.Background(), llm.ToolCall{
		Name:      agents.ToolStockData,
		Arguments: `{"symbol":"nvda","start_date":"2025-03-20","end_date":"2025-03-14"}`,
	})
	assert.Error(t, err)
}

func TestExecuteIndicatorFetchesWarmup(t *testing.T) {
	var bars []*dataflows.Bar
	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 80; i++ {
		bars = append(bars, &dataflows.Bar{Date: day.AddDate(0, 0, i).Format(models.DateLayout), Close: float64(i + 1)})
	}
	src := &fakeSource{bars: bars}
	out, err := newCatalog(t, src).Execute(context.Background(), llm.ToolCall{
		Name:      agents.ToolIndicators,
		Arguments: `{"symbol":"NVDA","indicator":"close_10_ema","curr_date":"2025-03-14","look_back_days":5}`,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "## close_10_ema values from 2025-03-09 to 2025-03-14")
	assert.Contains(t, out, "2025-03-14:")
	assert.True(t, src.barsStart.Before(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))
}

func TestExecuteIndicatorUnsupported(t *testing.T) {
	_, err := newCatalog(t, &fakeSource{}).Execute(context.Background(), llm.ToolCall{
		Name:      agents.ToolIndicators,
		Arguments: `{"symbol":"NVDA","indicator":"kdj","curr_date":"2025-03-14"}`,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
}

func TestExecuteStatementsPassKindAndDate(t *testing.T) {
	src := &fakeSource{}
	out, err := newCatalog(t, src).Execute(context.Background(), llm.ToolCall{
		Name:      agents.ToolCashflow,
		Arguments: `{"ticker":"NVDA","curr_date":"2025-03-14"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, dataflows.CashFlow, src.kind)
	assert.Equal(t, "2025-03-14", src.asOf.Format(models.DateLayout))
	assert.Contains(t, out, "## Cash Flow for NVDA")
	assert.Contains(t, out, "- Revenue: 39 usd")
}

func TestExecuteFundamentalsAndInsiders(t *testing.T) {
	c := newCatalog(t, &fakeSource{})
	ctx := context.Background()

	out, err := c.Execute(ctx, llm.ToolCall{Name: agents.ToolFundamentals, Arguments: `{"ticker":"NVDA"}`})
	require.NoError(t, err)
	assert.Contains(t, out, "Price: 121.50")
	assert.Contains(t, out, "peTTM: 40.1000")

	out, err = c.Execute(ctx, llm.ToolCall{Name: agents.ToolInsiderSentiment, Arguments: `{"ticker":"NVDA","curr_date":"2025-03-14"}`})
	require.NoError(t, err)
	assert.Contains(t, out, "2025-02: change 300, MSPR 12.50")

	out, err = c.Execute(ctx, llm.ToolCall{Name: agents.ToolInsiderTransactions, Arguments: `{"ticker":"NVDA","curr_date":"2025-03-14"}`})
	require.NoError(t, err)
	assert.Contains(t, out, "J. Doe: S change -10 shares at 100.00")
}

func TestExecuteNews(t *testing.T) {
	c := newCatalog(t, &fakeSource{})
	out, err := c.Execute(context.Background(), llm.ToolCall{
		Name:      agents.ToolNews,
		Arguments: `{"ticker":"nvda","start_date":"2025-03-07","end_date":"2025-03-14"}`,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "NVDA News, from 2025-03-07 to 2025-03-14")
	assert.Contains(t, out, "### Blackwell ramps (source: Reuters, 2025-03-07)")

	out, err = c.Execute(context.Background(), llm.ToolCall{Name: agents.ToolGlobalNews, Arguments: `{"curr_date":"2025-03-14"}`})
	require.NoError(t, err)
	assert.Contains(t, out, "No news found.")
}

func TestExecuteSourceErrorAndUnknown(t *testing.T) {
	boom := errors.New("upstream down")
	c := newCatalog(t, &fakeSource{err: boom})
	_, err := c.Execute(context.Background(), llm.ToolCall{Name: agents.ToolNews, Arguments: `{"ticker":"NVDA"}`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), boom.Error())

	_, err = c.Execute(context.Background(), llm.ToolCall{Name: "rm_rf"})
	assert.ErrorIs(t, err, ErrUnknownTool)
}
