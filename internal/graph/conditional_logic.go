package graph

import (
	"context"
	"strings"

	"github.com/dyike/tradecouncil/consts"
	"github.com/dyike/tradecouncil/models"
)

// debateLoop decides who speaks next. A loop with n speakers ends after
// n*maxRounds turns; the speaker order never changes.
type debateLoop struct {
	loop      consts.Loop
	order     []consts.Role
	maxRounds int
}

func newDebateLoop(loop consts.Loop, maxRounds int) debateLoop {
	return debateLoop{loop: loop, order: loop.Order(), maxRounds: maxRounds}
}

func (d debateLoop) totalTurns() int {
	return len(d.order) * d.maxRounds
}

// next returns the role whose turn it is, or false once the loop is done.
func (d debateLoop) next(state *models.DebateState) (consts.Role, bool) {
	if len(d.order) == 0 || state.Count >= d.totalTurns() {
		return consts.RoleUnknown, false
	}
	return d.order[state.Count%len(d.order)], true
}

func (o *Orchestrator) runResearchDebate(ctx context.Context, r *run) error {
	return o.runDebate(ctx, r, consts.LoopResearch)
}

func (o *Orchestrator) runRiskDebate(ctx context.Context, r *run) error {
	return o.runDebate(ctx, r, consts.LoopRisk)
}

func (o *Orchestrator) runDebate(ctx context.Context, r *run, loop consts.Loop) error {
	d := newDebateLoop(loop, r.session.DebateDepth())
	for {
		state := r.session.Debate(loop)
		role, ok := d.next(state)
		if !ok {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		round := state.Round()
		text, err := o.debateTurn(ctx, r, role, state)
		if err != nil {
			return &DebateTurnFailed{Loop: loop, Role: role, Round: round, Cause: err}
		}
		turn, err := r.session.AppendTurn(loop, role, text)
		if err != nil {
			return err
		}
		o.metrics.DebateTurn(loop, role)
		r.logger.Info("debate turn",
			debugFields(loop, role, turn.Round, state.Count+1)...)
		o.emit(r.event(EventTurn, func(e *Event) {
			e.Loop = loop
			e.Role = role
			e.Round = turn.Round
			e.Content = turn.Content
		}))
	}
}

func (o *Orchestrator) debateTurn(ctx context.Context, r *run, role consts.Role, state *models.DebateState) (string, error) {
	agent, err := o.roster.Get(role)
	if err != nil {
		return "", err
	}
	view := r.view()
	view.Debate = state
	if agent.UsesMemory {
		view.Memories = o.recall(ctx, r, role)
	}
	msgs, err := agent.Messages(ctx, view)
	if err != nil {
		return "", err
	}
	resp, err := o.call(ctx, role, o.quick, msgs, nil)
	if err != nil {
		return "", err
	}
	argument := strings.TrimSpace(resp.Text)
	if argument == "" {
		argument = "(no argument provided)"
	}
	return argument, nil
}
