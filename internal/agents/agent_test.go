package agents

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/tradecouncil/consts"
	"github.com/dyike/tradecouncil/models"
)

func joined(msgs []*schema.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func sampleView() View {
	var reports models.Reports
	_ = reports.Market.Set("MARKET-REPORT")
	_ = reports.Sentiment.Set("SENTIMENT-REPORT")
	_ = reports.News.Set("NEWS-REPORT")
	_ = reports.Fundamentals.Set("FUNDAMENTALS-REPORT")
	return View{
		Ticker:         "NVDA",
		TradeDate:      "2025-01-10",
		Reports:        reports,
		InvestmentPlan: models.SomeText("PLAN"),
		TraderPlan:     models.SomeText("TRADER-PLAN"),
		Memories:       "LESSON",
	}
}

func TestRosterCoversEveryRole(t *testing.T) {
	roster, err := NewRoster(context.Background())
	require.NoError(t, err)
	for _, role := range consts.Roles {
		a, err := roster.Get(role)
		require.NoError(t, err, role.String())
		assert.Equal(t, role, a.Role)
	}
	_, err = For(context.Background(), consts.RoleUnknown)
	assert.Error(t, err)
	_, err = For(context.Background(), consts.Role(99))
	assert.Error(t, err)
}

func TestAnalystPromptListsTools(t *testing.T) {
	a, err := For(context.Background(), consts.NewsAnalyst)
	require.NoError(t, err)
	assert.Equal(t, []string{ToolNews, ToolGlobalNews}, a.Tools)
	assert.False(t, a.UsesMemory)

	v := sampleView()
	v.Conversation = []*schema.Message{Seed(v.Ticker, v.TradeDate)}
	msgs, err := a.Messages(context.Background(), v)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "get_news, get_global_news")
	assert.Contains(t, msgs[0].Content, "get_global_news for broader macroeconomic news")
	assert.Contains(t, msgs[0].Content, "NVDA")
	assert.Equal(t, schema.User, msgs[1].Role)
}

func TestOfflineAnalystPromptOffersNoTools(t *testing.T) {
	a, err := For(context.Background(), consts.NewsAnalyst)
	require.NoError(t, err)

	v := sampleView()
	v.Conversation = []*schema.Message{Seed(v.Ticker, v.TradeDate)}
	v.Offline = true
	assert.Empty(t, a.Offered(v))

	msgs, err := a.Messages(context.Background(), v)
	require.NoError(t, err)
	assert.Contains(t, msgs[0].Content, "You have access to the following tools: "+NoTools)
	assert.NotContains(t, msgs[0].Content, "get_news, get_global_news")
}

func TestBullOpeningUsesNoResponsePlaceholder(t *testing.T) {
	a, err := For(context.Background(), consts.Bull)
	require.NoError(t, err)
	v := sampleView()
	v.Debate = models.NewDebateState(consts.LoopResearch)

	msgs, err := a.Messages(context.Background(), v)
	require.NoError(t, err)
	text := joined(msgs)
	assert.Contains(t, text, "Last bear argument: "+consts.NoResponseYet)
	assert.Contains(t, text, "LESSON")
	assert.Contains(t, text, "FUNDAMENTALS-REPORT")
}

func TestBearSeesBullResponse(t *testing.T) {
	a, err := For(context.Background(), consts.Bear)
	require.NoError(t, err)
	v := sampleView()
	v.Debate = models.NewDebateState(consts.LoopResearch)
	_, err = v.Debate.Append(consts.Bull, "growth is strong", time.Now())
	require.NoError(t, err)

	text := joined(mustMessages(t, a, v))
	assert.Contains(t, text, "Last bull argument: Bull Analyst: growth is strong")
}

func TestRiskDebatersDefaultOtherResponses(t *testing.T) {
	a, err := For(context.Background(), consts.Risky)
	require.NoError(t, err)
	assert.False(t, a.UsesMemory)
	v := sampleView()
	v.Memories = ""
	v.Debate = models.NewDebateState(consts.LoopRisk)

	text := joined(mustMessages(t, a, v))
	assert.Contains(t, text, "conservative analyst: "+consts.NoResponseYet)
	assert.Contains(t, text, "neutral analyst: "+consts.NoResponseYet)
	assert.Contains(t, text, "do not hallucinate")
	assert.Contains(t, text, "TRADER-PLAN")
	assert.NotContains(t, text, consts.NoPastMemories)
}

func TestRiskJudgeSeesDistinctFundamentals(t *testing.T) {
	a, err := For(context.Background(), consts.RiskJudge)
	require.NoError(t, err)
	text := joined(mustMessages(t, a, sampleView()))
	assert.Contains(t, text, "Company Fundamentals Report: FUNDAMENTALS-REPORT")
	assert.Contains(t, text, "Latest World Affairs Report: NEWS-REPORT")
}

func TestMissingInputsUseMarkers(t *testing.T) {
	a, err := For(context.Background(), consts.Trader)
	require.NoError(t, err)
	v := View{Ticker: "AAPL", TradeDate: "2025-01-10", InvestmentPlan: models.SomeText("PLAN")}

	text := joined(mustMessages(t, a, v))
	assert.Contains(t, text, consts.NoPastMemories)
	assert.Contains(t, text, "Market research report: "+consts.NoReport)
	assert.Contains(t, text, "FINAL TRANSACTION PROPOSAL")
}

func mustMessages(t *testing.T, a *Agent, v View) []*schema.Message {
	t.Helper()
	msgs, err := a.Messages(context.Background(), v)
	require.NoError(t, err)
	return msgs
}
