package agents

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// Outcome is what a reflection looks back on.
type Outcome struct {
	Ticker        string
	TradeDate     string
	Situation     string
	FinalDecision string
	Returns       string
}

// ReflectionMessages renders the post-trade review prompt.
func ReflectionMessages(ctx context.Context, o Outcome) ([]*schema.Message, error) {
	system, err := LoadPrompt("reflection/reflect")
	if err != nil {
		return nil, err
	}
	tpl := prompt.FromMessages(schema.FString,
		schema.SystemMessage(system),
		schema.UserMessage("Write the reflection."),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"ticker":         o.Ticker,
		"trade_date":     o.TradeDate,
		"final_decision": o.FinalDecision,
		"returns":        o.Returns,
		"situation":      o.Situation,
	})
	if err != nil {
		return nil, fmt.Errorf("reflection prompt: %w", err)
	}
	return msgs, nil
}
