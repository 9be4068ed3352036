package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dyike/tradecouncil/consts"
	"github.com/dyike/tradecouncil/internal/agents"
	"github.com/dyike/tradecouncil/internal/llm"
	"github.com/dyike/tradecouncil/internal/memory"
	"github.com/dyike/tradecouncil/models"
)

// ToolExecutor runs a tool the model asked for and returns its output.
type ToolExecutor interface {
	Execute(ctx context.Context, call llm.ToolCall) (string, error)
}

// Orchestrator drives sessions through the six pipeline stages. It holds no
// per-session state and may run many sessions concurrently.
type Orchestrator struct {
	roster    agents.Roster
	quick     llm.Gateway
	deep      llm.Gateway
	memory    memory.Store
	tools     ToolExecutor
	policy    Policy
	logger    *zap.Logger
	metrics   Metrics
	observers []Observer
	now       func() time.Time
}

type Option func(*Orchestrator)

// WithDeepGateway sets the gateway used by the two judges.
func WithDeepGateway(gw llm.Gateway) Option {
	return func(o *Orchestrator) { o.deep = gw }
}

func WithMemory(m memory.Store) Option {
	return func(o *Orchestrator) { o.memory = m }
}

func WithTools(t ToolExecutor) Option {
	return func(o *Orchestrator) { o.tools = t }
}

func WithPolicy(p Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

func New(ctx context.Context, gw llm.Gateway, opts ...Option) (*Orchestrator, error) {
	if gw == nil {
		return nil, errors.New("gateway is required")
	}
	roster, err := agents.NewRoster(ctx)
	if err != nil {
		return nil, err
	}
	o := &Orchestrator{
		roster:  roster,
		quick:   gw,
		policy:  DefaultPolicy(),
		logger:  zap.NewNop(),
		metrics: nopMetrics{},
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.deep == nil {
		o.deep = o.quick
	}
	return o, nil
}

// run carries the per-session values shared by the stages.
type run struct {
	session   *models.Session
	situation string
	logger    *zap.Logger
	now       func() time.Time
}

func (r *run) view() agents.View {
	return agents.View{
		Ticker:         r.session.Ticker(),
		TradeDate:      r.session.TradeDateString(),
		Reports:        r.session.Reports(),
		InvestmentPlan: r.session.InvestmentPlan(),
		TraderPlan:     r.session.TraderPlan(),
	}
}

func (r *run) event(kind EventKind, fill func(*Event)) Event {
	e := Event{
		Kind:      kind,
		SessionID: r.session.ID(),
		Ticker:    r.session.Ticker(),
		TradeDate: r.session.TradeDateString(),
		Stage:     r.session.Stage(),
		At:        r.now(),
	}
	if fill != nil {
		fill(&e)
	}
	return e
}

type stageStep struct {
	stage consts.Stage
	run   func(context.Context, *run) error
}

// Run executes every stage of s in order. It returns the first fatal error;
// the session then holds all state produced up to that point and is marked
// failed, or cancelled when ctx ended.
func (o *Orchestrator) Run(ctx context.Context, s *models.Session) (err error) {
	if err := s.Start(); err != nil {
		return err
	}
	r := &run{
		session: s,
		logger: o.logger.With(
			zap.String("session", s.ID()),
			zap.String("ticker", s.Ticker()),
			zap.String("trade_date", s.TradeDateString())),
		now: o.now,
	}
	r.logger.Info("session started", zap.Int("rounds", s.DebateDepth()), zap.Int("analysts", len(s.Analysts())))
	o.emit(r.event(EventStarted, func(e *Event) {
		snap := s.Snapshot()
		e.Snapshot = &snap
	}))
	defer func() { o.finish(ctx, r, err) }()

	steps := []stageStep{
		{consts.StageAnalysts, o.runAnalysts},
		{consts.StageResearchDebate, o.runResearchDebate},
		{consts.StageResearchJudge, o.runResearchJudge},
		{consts.StageTrader, o.runTrader},
		{consts.StageRiskDebate, o.runRiskDebate},
		{consts.StageRiskJudge, o.runRiskJudge},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Advance(step.stage); err != nil {
			return err
		}
		r.logger.Debug("stage entered", zap.Stringer("stage", step.stage))
		o.emit(r.event(EventStage, nil))
		if err := step.run(ctx, r); err != nil {
			return err
		}
	}
	return s.Complete()
}

func (o *Orchestrator) finish(ctx context.Context, r *run, err error) {
	s := r.session
	switch {
	case err == nil:
		r.logger.Info("session completed", zap.String("signal", string(s.Snapshot().Signal)))
	case ctx.Err() != nil:
		s.Cancel(failureOf(err, s.Stage()))
		r.logger.Warn("session cancelled", zap.Stringer("stage", s.Stage()), zap.Error(err))
	default:
		s.Fail(failureOf(err, s.Stage()))
		r.logger.Error("session failed", zap.Stringer("stage", s.Stage()), zap.Error(err))
	}
	snap := s.Snapshot()
	o.metrics.SessionFinished(snap.Status)
	o.emit(r.event(EventFinished, func(e *Event) {
		e.Err = err
		e.Snapshot = &snap
	}))
}

func (o *Orchestrator) emit(e Event) {
	for _, obs := range o.observers {
		obs.Observe(e)
	}
}

// recall fetches past reflections for role. Failures degrade to the
// no-memories marker.
func (o *Orchestrator) recall(ctx context.Context, r *run, role consts.Role) string {
	if o.memory == nil {
		return consts.NoPastMemories
	}
	recs, err := bounded(ctx, o.policy.MemoryTimeout, func(c context.Context) ([]string, error) {
		return o.memory.Retrieve(c, r.situation, o.policy.MemoryMatches)
	})
	if err != nil {
		unavailable := &MemoryUnavailable{Cause: err}
		o.metrics.MemoryFallback()
		r.logger.Warn("memory recall failed", zap.Stringer("role", role), zap.Error(unavailable))
		o.emit(r.event(EventMemoryFallback, func(e *Event) {
			e.Role = role
			e.Err = unavailable
		}))
		return consts.NoPastMemories
	}
	return memory.Format(recs)
}

func debugFields(loop consts.Loop, role consts.Role, round, count int) []zap.Field {
	return []zap.Field{
		zap.String("loop", string(loop)),
		zap.Stringer("role", role),
		zap.Int("round", round),
		zap.Int("turn", count),
	}
}

func (o *Orchestrator) String() string {
	return fmt.Sprintf("orchestrator(retries=%d, timeout=%s)", o.policy.MaxRetries, o.policy.CallTimeout)
}
