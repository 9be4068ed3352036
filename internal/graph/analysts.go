package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dyike/tradecouncil/consts"
	"github.com/dyike/tradecouncil/internal/agents"
	"github.com/dyike/tradecouncil/internal/llm"
)

var errEmptyReport = errors.New("empty report")

// runAnalysts runs every selected analyst concurrently. Reports are written to
// the session only after all analysts succeed, in report order.
func (o *Orchestrator) runAnalysts(ctx context.Context, r *run) error {
	roles := r.session.Analysts()
	reports := make([]string, len(roles))

	g, gctx := errgroup.WithContext(ctx)
	for i, role := range roles {
		g.Go(func() error {
			text, err := o.analyze(gctx, r, role)
			if err != nil {
				return &AnalysisStageFailed{Role: role, Cause: err}
			}
			reports[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, role := range roles {
		if err := r.session.SetReport(role, reports[i]); err != nil {
			return err
		}
		r.logger.Info("analyst report", zap.Stringer("role", role), zap.Int("chars", len(reports[i])))
		o.emit(r.event(EventReport, func(e *Event) {
			e.Role = role
			e.Content = reports[i]
		}))
	}
	r.situation = r.session.Reports().Situation()
	return nil
}

// analyze runs one analyst's tool loop until the model answers without
// requesting tools.
func (o *Orchestrator) analyze(ctx context.Context, r *run, role consts.Role) (string, error) {
	agent, err := o.roster.Get(role)
	if err != nil {
		return "", err
	}
	view := r.view()
	view.Conversation = []*schema.Message{agents.Seed(view.Ticker, view.TradeDate)}
	view.Offline = o.tools == nil
	tools := agent.Offered(view)

	for step := 0; ; step++ {
		msgs, err := agent.Messages(ctx, view)
		if err != nil {
			return "", err
		}
		resp, err := o.call(ctx, role, o.quick, msgs, tools)
		if err != nil {
			return "", err
		}
		if !resp.HasToolCalls() {
			text := strings.TrimSpace(resp.Text)
			if text == "" {
				return "", errEmptyReport
			}
			return text, nil
		}
		if o.tools == nil || step >= o.policy.MaxToolSteps {
			return "", ErrToolLoopExhausted
		}

		view.Conversation = append(view.Conversation, llm.AssistantMessage(resp))
		for _, call := range resp.ToolCalls {
			if !slices.Contains(tools, call.Name) {
				r.logger.Warn("tool not allowed",
					zap.Stringer("role", role), zap.String("tool", call.Name))
				out := fmt.Sprintf("error: tool %s is not available to %s", call.Name, role)
				view.Conversation = append(view.Conversation, schema.ToolMessage(out, call.ID))
				continue
			}
			out, err := o.tools.Execute(ctx, call)
			if err != nil {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				r.logger.Warn("tool failed",
					zap.Stringer("role", role), zap.String("tool", call.Name), zap.Error(err))
				out = fmt.Sprintf("error: %v", err)
			}
			r.logger.Debug("tool call",
				zap.Stringer("role", role), zap.String("tool", call.Name), zap.Int("step", step))
			view.Conversation = append(view.Conversation, schema.ToolMessage(out, call.ID))
		}
	}
}
