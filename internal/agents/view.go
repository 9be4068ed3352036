package agents

import (
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/dyike/tradecouncil/consts"
	"github.com/dyike/tradecouncil/models"
)

// View is the read-only slice of session state a role sees for one call.
type View struct {
	Ticker         string
	TradeDate      string
	Reports        models.Reports
	Debate         *models.DebateState
	InvestmentPlan models.Text
	TraderPlan     models.Text
	// Memories is the formatted recall block, already defaulted to the
	// no-memories marker by the caller.
	Memories string
	// Conversation carries the analyst tool loop so far.
	Conversation []*schema.Message
	// Offline means no tool executor is wired; analysts are told they have
	// no tools and the gateway is offered none.
	Offline bool
}

// NoTools replaces the tool list in analyst prompts when nothing is offered.
const NoTools = "none, work from your own knowledge of the company"

func report(t models.Text) string {
	if v, ok := t.Get(); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return consts.NoReport
}

func (v View) vars(tools []string) map[string]any {
	vars := map[string]any{
		"ticker":              v.Ticker,
		"trade_date":          v.TradeDate,
		"market_report":       report(v.Reports.Market),
		"sentiment_report":    report(v.Reports.Sentiment),
		"news_report":         report(v.Reports.News),
		"fundamentals_report": report(v.Reports.Fundamentals),
		"investment_plan":     v.InvestmentPlan.Or(""),
		"trader_plan":         v.TraderPlan.Or(""),
		"past_memories":       v.Memories,
		"tool_names":          NoTools,
		"history":             "",
	}
	if len(tools) > 0 {
		vars["tool_names"] = strings.Join(tools, ", ")
	}
	if vars["past_memories"] == "" {
		vars["past_memories"] = consts.NoPastMemories
	}
	for _, role := range []consts.Role{consts.Bull, consts.Bear, consts.Risky, consts.Safe, consts.Neutral} {
		vars[responseKey(role)] = consts.NoResponseYet
	}
	if v.Debate != nil {
		vars["history"] = v.Debate.History
		for _, role := range v.Debate.Loop.Order() {
			vars[responseKey(role)] = v.Debate.Response(role)
		}
	}
	conversation := v.Conversation
	if conversation == nil {
		conversation = []*schema.Message{}
	}
	vars["conversation"] = conversation
	return vars
}

func responseKey(role consts.Role) string {
	switch role {
	case consts.Bull:
		return "bull_response"
	case consts.Bear:
		return "bear_response"
	case consts.Risky:
		return "risky_response"
	case consts.Safe:
		return "safe_response"
	case consts.Neutral:
		return "neutral_response"
	default:
		return role.String() + "_response"
	}
}

// Seed opens an analyst conversation.
func Seed(ticker, tradeDate string) *schema.Message {
	return schema.UserMessage(ticker + " " + tradeDate)
}
