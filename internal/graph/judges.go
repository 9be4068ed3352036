package graph

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/dyike/tradecouncil/consts"
	"github.com/dyike/tradecouncil/internal/llm"
	"github.com/dyike/tradecouncil/models"
)

var errEmptyDecision = errors.New("empty response")

// decide renders role's prompt against the current session state and returns
// the non-empty model answer.
func (o *Orchestrator) decide(ctx context.Context, r *run, role consts.Role, loop consts.Loop, gw llm.Gateway) (string, error) {
	agent, err := o.roster.Get(role)
	if err != nil {
		return "", err
	}
	view := r.view()
	if loop != "" {
		view.Debate = r.session.Debate(loop)
	}
	if agent.UsesMemory {
		view.Memories = o.recall(ctx, r, role)
	}
	msgs, err := agent.Messages(ctx, view)
	if err != nil {
		return "", err
	}
	resp, err := o.call(ctx, role, gw, msgs, nil)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", errEmptyDecision
	}
	return text, nil
}

func (o *Orchestrator) runResearchJudge(ctx context.Context, r *run) error {
	text, err := o.decide(ctx, r, consts.ResearchJudge, consts.LoopResearch, o.deep)
	if err != nil {
		return &JudgeFailed{Judge: consts.ResearchJudge, Cause: err}
	}
	if err := r.session.SetResearchDecision(text); err != nil {
		return err
	}
	o.decided(r, consts.ResearchJudge, text)
	return nil
}

func (o *Orchestrator) runTrader(ctx context.Context, r *run) error {
	text, err := o.decide(ctx, r, consts.Trader, "", o.quick)
	if err != nil {
		return &TraderFailed{Cause: err}
	}
	if err := r.session.SetTraderPlan(text); err != nil {
		return err
	}
	o.decided(r, consts.Trader, text)
	return nil
}

func (o *Orchestrator) runRiskJudge(ctx context.Context, r *run) error {
	text, err := o.decide(ctx, r, consts.RiskJudge, consts.LoopRisk, o.deep)
	if err != nil {
		return &JudgeFailed{Judge: consts.RiskJudge, Cause: err}
	}
	if err := r.session.SetFinalDecision(text); err != nil {
		return err
	}
	o.decided(r, consts.RiskJudge, text)
	return nil
}

func (o *Orchestrator) decided(r *run, role consts.Role, text string) {
	r.logger.Info("decision", zap.Stringer("role", role), zap.String("signal", string(models.ExtractSignal(text))))
	o.emit(r.event(EventDecision, func(e *Event) {
		e.Role = role
		e.Content = text
	}))
}
