package agents

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/dyike/tradecouncil/consts"
)

// Tool names offered to the analysts.
const (
	ToolStockData           = "get_stock_data"
	ToolIndicators          = "get_indicators"
	ToolNews                = "get_news"
	ToolGlobalNews          = "get_global_news"
	ToolFundamentals        = "get_fundamentals"
	ToolBalanceSheet        = "get_balance_sheet"
	ToolCashflow            = "get_cashflow"
	ToolIncomeStatement     = "get_income_statement"
	ToolInsiderSentiment    = "get_insider_sentiment"
	ToolInsiderTransactions = "get_insider_transactions"
)

// Agent renders the prompt for one role.
type Agent struct {
	Role consts.Role
	// Tools is the allow-list passed to the gateway; only analysts have one.
	Tools []string
	// UsesMemory tells the caller to recall past reflections for this role.
	UsesMemory bool

	chain compose.Runnable[map[string]any, []*schema.Message]
}

type roleSpec struct {
	prompt     string
	user       string
	tools      []string
	usesMemory bool
	analyst    bool
}

func specFor(role consts.Role) (roleSpec, error) {
	switch role {
	case consts.MarketAnalyst:
		return roleSpec{prompt: "analysts/market", analyst: true,
			tools: []string{ToolStockData, ToolIndicators}}, nil
	case consts.SentimentAnalyst:
		return roleSpec{prompt: "analysts/social", analyst: true,
			tools: []string{ToolNews}}, nil
	case consts.NewsAnalyst:
		return roleSpec{prompt: "analysts/news", analyst: true,
			tools: []string{ToolNews, ToolGlobalNews}}, nil
	case consts.FundamentalsAnalyst:
		return roleSpec{prompt: "analysts/fundamentals", analyst: true,
			tools: []string{ToolFundamentals, ToolBalanceSheet, ToolCashflow, ToolIncomeStatement,
				ToolInsiderSentiment, ToolInsiderTransactions}}, nil
	case consts.Bull:
		return roleSpec{prompt: "researchers/bull", usesMemory: true}, nil
	case consts.Bear:
		return roleSpec{prompt: "researchers/bear", usesMemory: true}, nil
	case consts.ResearchJudge:
		return roleSpec{prompt: "managers/research_manager", usesMemory: true}, nil
	case consts.Trader:
		return roleSpec{prompt: "trader/trader", user: "trader/user", usesMemory: true}, nil
	case consts.Risky:
		return roleSpec{prompt: "risk_mgmt/risky"}, nil
	case consts.Safe:
		return roleSpec{prompt: "risk_mgmt/safe"}, nil
	case consts.Neutral:
		return roleSpec{prompt: "risk_mgmt/neutral"}, nil
	case consts.RiskJudge:
		return roleSpec{prompt: "managers/risk_manager", usesMemory: true}, nil
	case consts.RoleUnknown:
		return roleSpec{}, fmt.Errorf("no handler for role %s", role)
	default:
		return roleSpec{}, fmt.Errorf("no handler for role %d", int(role))
	}
}

// For builds the agent for role.
func For(ctx context.Context, role consts.Role) (*Agent, error) {
	spec, err := specFor(role)
	if err != nil {
		return nil, err
	}
	tpl, err := buildTemplate(spec)
	if err != nil {
		return nil, fmt.Errorf("%s prompt: %w", role, err)
	}
	chain := compose.NewChain[map[string]any, []*schema.Message]()
	chain.AppendChatTemplate(tpl)
	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s compile: %w", role, err)
	}
	return &Agent{
		Role:       role,
		Tools:      spec.tools,
		UsesMemory: spec.usesMemory,
		chain:      runnable,
	}, nil
}

func buildTemplate(spec roleSpec) (prompt.ChatTemplate, error) {
	if spec.analyst {
		system, err := LoadPrompt("analysts/system")
		if err != nil {
			return nil, err
		}
		instructions, err := LoadPrompt(spec.prompt)
		if err != nil {
			return nil, err
		}
		// The role instructions are bound as a value so they are not parsed as a template.
		return &boundTemplate{
			vars: map[string]any{"role_instructions": instructions},
			inner: prompt.FromMessages(schema.FString,
				schema.SystemMessage(system),
				schema.MessagesPlaceholder("conversation", false),
			),
		}, nil
	}

	system, err := LoadPrompt(spec.prompt)
	if err != nil {
		return nil, err
	}
	user := "Continue."
	if spec.user != "" {
		if user, err = LoadPrompt(spec.user); err != nil {
			return nil, err
		}
	}
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage(system),
		schema.UserMessage(user),
	), nil
}

// Offered is the tool list actually available for v: the allow-list, or
// nothing when v is offline.
func (a *Agent) Offered(v View) []string {
	if v.Offline {
		return nil
	}
	return a.Tools
}

// Messages renders the role prompt for v.
func (a *Agent) Messages(ctx context.Context, v View) ([]*schema.Message, error) {
	msgs, err := a.chain.Invoke(ctx, v.vars(a.Offered(v)))
	if err != nil {
		return nil, fmt.Errorf("%s prompt: %w", a.Role, err)
	}
	return msgs, nil
}

// Roster holds one agent per role.
type Roster map[consts.Role]*Agent

func NewRoster(ctx context.Context) (Roster, error) {
	r := make(Roster, len(consts.Roles))
	for _, role := range consts.Roles {
		a, err := For(ctx, role)
		if err != nil {
			return nil, err
		}
		r[role] = a
	}
	return r, nil
}

func (r Roster) Get(role consts.Role) (*Agent, error) {
	if a, ok := r[role]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("no agent for role %s", role)
}
