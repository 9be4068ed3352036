package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/tradecouncil/consts"
	"github.com/dyike/tradecouncil/internal/agents"
	"github.com/dyike/tradecouncil/internal/llm"
	"github.com/dyike/tradecouncil/models"
)

type replyFunc func(ctx context.Context, role consts.Role, n int) (*llm.Response, error)

// fakeGateway answers by role and records every call in order.
type fakeGateway struct {
	mu      sync.Mutex
	calls   []consts.Role
	prompts map[consts.Role][]string
	tools   map[consts.Role][]string
	reply   replyFunc
}

func newFakeGateway(reply replyFunc) *fakeGateway {
	return &fakeGateway{
		prompts: map[consts.Role][]string{},
		tools:   map[consts.Role][]string{},
		reply:   reply,
	}
}

func (f *fakeGateway) Invoke(ctx context.Context, msgs []*schema.Message, tools []string) (*llm.Response, error) {
	role := llm.RoleFromContext(ctx)
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}

	f.mu.Lock()
	f.calls = append(f.calls, role)
	f.prompts[role] = append(f.prompts[role], b.String())
	f.tools[role] = tools
	n := len(f.prompts[role])
	f.mu.Unlock()

	if f.reply != nil {
		if resp, err := f.reply(ctx, role, n); resp != nil || err != nil {
			return resp, err
		}
	}
	return &llm.Response{Text: cannedReply(role, n)}, nil
}

func (f *fakeGateway) Calls() []consts.Role {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]consts.Role(nil), f.calls...)
}

func (f *fakeGateway) Prompts(role consts.Role) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts[role]...)
}

func cannedReply(role consts.Role, n int) string {
	switch role {
	case consts.Trader:
		return "Buy on strength. FINAL TRANSACTION PROPOSAL: **BUY**"
	case consts.RiskJudge:
		return "Recommendation: BUY with a tight stop."
	case consts.ResearchJudge:
		return "The bull case is stronger. Plan: accumulate."
	default:
		return fmt.Sprintf("%s says %d", role, n)
	}
}

type failingMemory struct{}

func (failingMemory) Retrieve(context.Context, string, int) ([]string, error) {
	return nil, errors.New("index offline")
}

type fixedMemory []string

func (m fixedMemory) Retrieve(context.Context, string, int) ([]string, error) {
	return m, nil
}

type recordingTools struct {
	mu    sync.Mutex
	calls []llm.ToolCall
}

func (t *recordingTools) Execute(_ context.Context, call llm.ToolCall) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, call)
	return "close=123.45 on " + call.Arguments, nil
}

func fastPolicy() Policy {
	p := DefaultPolicy()
	p.CallTimeout = time.Second
	p.Backoff = time.Millisecond
	p.MaxRetries = 0
	return p
}

func newSession(t *testing.T, depth int, analysts ...consts.Role) *models.Session {
	t.Helper()
	if len(analysts) == 0 {
		analysts = consts.Analysts
	}
	s, err := models.NewSession("s-1", "nvda", time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), analysts, depth)
	require.NoError(t, err)
	return s
}

func newOrchestrator(t *testing.T, gw llm.Gateway, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(context.Background(), gw, append([]Option{WithPolicy(fastPolicy())}, opts...)...)
	require.NoError(t, err)
	return o
}

func TestRunCompletesPipeline(t *testing.T) {
	gw := newFakeGateway(nil)
	o := newOrchestrator(t, gw)
	s := newSession(t, 1, consts.MarketAnalyst, consts.NewsAnalyst)

	require.NoError(t, o.Run(context.Background(), s))

	calls := gw.Calls()
	// 2 analysts, 2 research turns, judge, trader, 3 risk turns, judge.
	require.Len(t, calls, 10)
	assert.ElementsMatch(t, []consts.Role{consts.MarketAnalyst, consts.NewsAnalyst}, calls[:2])
	assert.Equal(t, []consts.Role{
		consts.Bull, consts.Bear, consts.ResearchJudge, consts.Trader,
		consts.Risky, consts.Safe, consts.Neutral, consts.RiskJudge,
	}, calls[2:])

	snap := s.Snapshot()
	assert.Equal(t, models.StatusCompleted, snap.Status)
	assert.Equal(t, consts.StageDone, snap.Stage)
	assert.True(t, snap.Reports.Market.IsSet())
	assert.True(t, snap.Reports.News.IsSet())
	assert.False(t, snap.Reports.Sentiment.IsSet())
	assert.False(t, snap.Reports.Fundamentals.IsSet())
	assert.True(t, snap.InvestmentPlan.IsSet())
	assert.True(t, snap.TraderPlan.IsSet())
	assert.Equal(t, models.SignalBuy, snap.Signal)
	assert.Equal(t, consts.RiskJudge, snap.RiskDebate.LatestSpeaker)
	assert.Nil(t, snap.Failure)
}

func TestDebateLengthFollowsDepth(t *testing.T) {
	for depth := 1; depth <= 4; depth++ {
		t.Run(fmt.Sprintf("depth=%d", depth), func(t *testing.T) {
			o := newOrchestrator(t, newFakeGateway(nil))
			s := newSession(t, depth, consts.MarketAnalyst)
			require.NoError(t, o.Run(context.Background(), s))

			research := s.Debate(consts.LoopResearch)
			require.Equal(t, 2*depth, research.Count)
			for i, turn := range research.Turns {
				assert.Equal(t, []consts.Role{consts.Bull, consts.Bear}[i%2], turn.Speaker)
				assert.Equal(t, i/2+1, turn.Round)
			}
			assert.Equal(t, depth, research.TurnsBy(consts.Bull))
			assert.Equal(t, depth, research.TurnsBy(consts.Bear))
			assert.Equal(t, len(research.History),
				len(research.RoleHistory[consts.Bull])+len(research.RoleHistory[consts.Bear]))

			risk := s.Debate(consts.LoopRisk)
			require.Equal(t, 3*depth, risk.Count)
			for i, turn := range risk.Turns {
				assert.Equal(t, []consts.Role{consts.Risky, consts.Safe, consts.Neutral}[i%3], turn.Speaker)
			}
			assert.Equal(t, len(risk.History),
				len(risk.RoleHistory[consts.Risky])+len(risk.RoleHistory[consts.Safe])+len(risk.RoleHistory[consts.Neutral]))
		})
	}
}

func TestBearTimeoutFailsTurnWithRound(t *testing.T) {
	for _, depth := range []int{2, 3} {
		t.Run(fmt.Sprintf("rounds=%d", depth), func(t *testing.T) {
			gw := newFakeGateway(func(_ context.Context, role consts.Role, n int) (*llm.Response, error) {
				if role == consts.Bear && n == 2 {
					return nil, llm.ErrTimeout
				}
				return nil, nil
			})
			o := newOrchestrator(t, gw)
			s := newSession(t, depth, consts.MarketAnalyst)

			err := o.Run(context.Background(), s)
			var turnErr *DebateTurnFailed
			require.ErrorAs(t, err, &turnErr)
			assert.Equal(t, consts.LoopResearch, turnErr.Loop)
			assert.Equal(t, consts.Bear, turnErr.Role)
			assert.Equal(t, 2, turnErr.Round)
			assert.ErrorIs(t, err, llm.ErrTimeout)

			snap := s.Snapshot()
			assert.Equal(t, models.StatusFailed, snap.Status)
			assert.Equal(t, 3, snap.ResearchDebate.Count)
			assert.False(t, snap.InvestmentPlan.IsSet())
			require.NotNil(t, snap.Failure)
			assert.Equal(t, consts.Bear, snap.Failure.Role)
			assert.Equal(t, 2, snap.Failure.Round)
			assert.Equal(t, consts.StageResearchDebate, snap.Failure.Stage)
		})
	}
}

func TestSlowGatewayTimesOut(t *testing.T) {
	gw := newFakeGateway(func(ctx context.Context, role consts.Role, _ int) (*llm.Response, error) {
		if role == consts.Bull {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return nil, nil
	})
	p := fastPolicy()
	p.CallTimeout = 20 * time.Millisecond
	o := newOrchestrator(t, gw, WithPolicy(p))
	s := newSession(t, 1, consts.MarketAnalyst)

	err := o.Run(context.Background(), s)
	var turnErr *DebateTurnFailed
	require.ErrorAs(t, err, &turnErr)
	assert.Equal(t, 1, turnErr.Round)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, models.StatusFailed, s.Status())
}

func TestTimeoutIsRetried(t *testing.T) {
	gw := newFakeGateway(func(_ context.Context, role consts.Role, n int) (*llm.Response, error) {
		if role == consts.Bull && n == 1 {
			return nil, llm.ErrTimeout
		}
		return nil, nil
	})
	p := fastPolicy()
	p.MaxRetries = 1
	o := newOrchestrator(t, gw, WithPolicy(p))
	s := newSession(t, 1, consts.MarketAnalyst)

	require.NoError(t, o.Run(context.Background(), s))
	assert.Len(t, gw.Prompts(consts.Bull), 2)
	assert.Equal(t, 2, s.Debate(consts.LoopResearch).Count)
}

func TestNonTimeoutErrorIsNotRetried(t *testing.T) {
	gw := newFakeGateway(func(_ context.Context, role consts.Role, _ int) (*llm.Response, error) {
		if role == consts.ResearchJudge {
			return nil, errors.New("quota exceeded")
		}
		return nil, nil
	})
	p := fastPolicy()
	p.MaxRetries = 3
	o := newOrchestrator(t, gw, WithPolicy(p))
	s := newSession(t, 1, consts.MarketAnalyst)

	err := o.Run(context.Background(), s)
	var judgeErr *JudgeFailed
	require.ErrorAs(t, err, &judgeErr)
	assert.Equal(t, consts.ResearchJudge, judgeErr.Judge)
	assert.Len(t, gw.Prompts(consts.ResearchJudge), 1)

	snap := s.Snapshot()
	assert.Equal(t, models.StatusFailed, snap.Status)
	assert.Equal(t, 2, snap.ResearchDebate.Count)
	assert.False(t, snap.InvestmentPlan.IsSet())
}

func TestAnalystFailureStopsBeforeDebate(t *testing.T) {
	gw := newFakeGateway(func(_ context.Context, role consts.Role, _ int) (*llm.Response, error) {
		if role == consts.NewsAnalyst {
			return nil, errors.New("provider down")
		}
		return nil, nil
	})
	o := newOrchestrator(t, gw)
	s := newSession(t, 1, consts.MarketAnalyst, consts.NewsAnalyst)

	err := o.Run(context.Background(), s)
	var stageErr *AnalysisStageFailed
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, consts.NewsAnalyst, stageErr.Role)

	snap := s.Snapshot()
	assert.Equal(t, models.StatusFailed, snap.Status)
	assert.Equal(t, consts.StageAnalysts, snap.Stage)
	assert.Equal(t, 0, snap.ResearchDebate.Count)
	assert.NotContains(t, gw.Calls(), consts.Bull)
}

func TestMemoryFailureFallsBackToMarker(t *testing.T) {
	gw := newFakeGateway(nil)
	var fallbacks int
	o := newOrchestrator(t, gw,
		WithMemory(failingMemory{}),
		WithObserver(ObserverFunc(func(e Event) {
			if e.Kind == EventMemoryFallback {
				fallbacks++
			}
		})))
	s := newSession(t, 1, consts.MarketAnalyst)

	require.NoError(t, o.Run(context.Background(), s))
	assert.Equal(t, models.StatusCompleted, s.Status())
	for _, role := range []consts.Role{consts.Bull, consts.Bear, consts.ResearchJudge, consts.Trader, consts.RiskJudge} {
		prompts := gw.Prompts(role)
		require.NotEmpty(t, prompts, role.String())
		assert.Contains(t, prompts[0], consts.NoPastMemories, role.String())
	}
	assert.Equal(t, 5, fallbacks)
}

func TestRecalledMemoriesReachPrompts(t *testing.T) {
	gw := newFakeGateway(nil)
	o := newOrchestrator(t, gw, WithMemory(fixedMemory{"Cut losers early.", "Respect the trend."}))
	s := newSession(t, 1, consts.MarketAnalyst)

	require.NoError(t, o.Run(context.Background(), s))
	bull := gw.Prompts(consts.Bull)[0]
	assert.Contains(t, bull, "Cut losers early.\n\nRespect the trend.")
	assert.NotContains(t, bull, consts.NoPastMemories)
	assert.NotContains(t, gw.Prompts(consts.Risky)[0], "Cut losers early.")
}

func TestOpeningTurnsUsePlaceholder(t *testing.T) {
	gw := newFakeGateway(nil)
	o := newOrchestrator(t, gw)
	s := newSession(t, 2, consts.MarketAnalyst)

	require.NoError(t, o.Run(context.Background(), s))

	bull := gw.Prompts(consts.Bull)
	assert.Contains(t, bull[0], consts.NoResponseYet)
	assert.Contains(t, bull[1], "bear_researcher says 1")

	risky := gw.Prompts(consts.Risky)
	assert.Equal(t, 2, strings.Count(risky[0], consts.NoResponseYet))
	assert.Contains(t, gw.Prompts(consts.Safe)[0], "risky_analyst says 1")
	assert.Contains(t, risky[1], "neutral_analyst says 1")
}

func TestRiskJudgeSeesFundamentals(t *testing.T) {
	gw := newFakeGateway(func(_ context.Context, role consts.Role, _ int) (*llm.Response, error) {
		switch role {
		case consts.FundamentalsAnalyst:
			return &llm.Response{Text: "P/E of 42 and rising margins"}, nil
		case consts.NewsAnalyst:
			return &llm.Response{Text: "Export rules tightened"}, nil
		}
		return nil, nil
	})
	o := newOrchestrator(t, gw)
	s := newSession(t, 1)

	require.NoError(t, o.Run(context.Background(), s))
	judge := gw.Prompts(consts.RiskJudge)[0]
	assert.Contains(t, judge, "P/E of 42 and rising margins")
	assert.Contains(t, judge, "Export rules tightened")
}

func TestCancellationBetweenTurns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var finished *models.Snapshot
	o := newOrchestrator(t, newFakeGateway(nil),
		WithObserver(ObserverFunc(func(e Event) {
			switch {
			case e.Kind == EventTurn && e.Loop == consts.LoopResearch && e.Role == consts.Bull:
				cancel()
			case e.Kind == EventFinished:
				finished = e.Snapshot
			}
		})))
	s := newSession(t, 2, consts.MarketAnalyst)

	err := o.Run(ctx, s)
	require.ErrorIs(t, err, context.Canceled)

	snap := s.Snapshot()
	assert.Equal(t, models.StatusCancelled, snap.Status)
	assert.Equal(t, 1, snap.ResearchDebate.Count)
	assert.Equal(t, consts.Bull, snap.ResearchDebate.LatestSpeaker)
	assert.False(t, snap.InvestmentPlan.IsSet())
	require.NotNil(t, finished)
	assert.Equal(t, models.StatusCancelled, finished.Status)
}

func TestAnalystToolLoop(t *testing.T) {
	gw := newFakeGateway(func(_ context.Context, role consts.Role, n int) (*llm.Response, error) {
		if role == consts.MarketAnalyst && n == 1 {
			return &llm.Response{ToolCalls: []llm.ToolCall{
				{ID: "call-1", Name: "get_stock_data", Arguments: `{"symbol":"NVDA"}`},
			}}, nil
		}
		return nil, nil
	})
	tools := &recordingTools{}
	o := newOrchestrator(t, gw, WithTools(tools))
	s := newSession(t, 1, consts.MarketAnalyst)

	require.NoError(t, o.Run(context.Background(), s))
	require.Len(t, tools.calls, 1)
	assert.Equal(t, "get_stock_data", tools.calls[0].Name)

	prompts := gw.Prompts(consts.MarketAnalyst)
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], `close=123.45 on {"symbol":"NVDA"}`)
	assert.Contains(t, gw.tools[consts.MarketAnalyst], "get_stock_data")
	assert.Equal(t, "market_analyst says 2", s.Reports().Market.String())
}

func TestAnalystToolOutsideAllowListIsRefused(t *testing.T) {
	gw := newFakeGateway(func(_ context.Context, role consts.Role, n int) (*llm.Response, error) {
		if role == consts.MarketAnalyst && n == 1 {
			return &llm.Response{ToolCalls: []llm.ToolCall{
				{ID: "c1", Name: "get_insider_transactions", Arguments: `{"ticker":"NVDA"}`},
				{ID: "c2", Name: "get_stock_data", Arguments: `{"symbol":"NVDA"}`},
			}}, nil
		}
		return nil, nil
	})
	tools := &recordingTools{}
	o := newOrchestrator(t, gw, WithTools(tools))
	s := newSession(t, 1, consts.MarketAnalyst)

	require.NoError(t, o.Run(context.Background(), s))
	require.Len(t, tools.calls, 1)
	assert.Equal(t, "get_stock_data", tools.calls[0].Name)

	prompts := gw.Prompts(consts.MarketAnalyst)
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], "error: tool get_insider_transactions is not available to market_analyst")
}

func TestEmptyAnalystReportFailsStage(t *testing.T) {
	gw := newFakeGateway(func(_ context.Context, role consts.Role, _ int) (*llm.Response, error) {
		if role == consts.NewsAnalyst {
			return &llm.Response{Text: "  \n"}, nil
		}
		return nil, nil
	})
	o := newOrchestrator(t, gw)
	s := newSession(t, 1, consts.MarketAnalyst, consts.NewsAnalyst)

	err := o.Run(context.Background(), s)
	var stageErr *AnalysisStageFailed
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, consts.NewsAnalyst, stageErr.Role)
	assert.ErrorIs(t, err, errEmptyReport)
	assert.False(t, s.Reports().Market.IsSet())
	assert.Equal(t, models.StatusFailed, s.Status())
}

func TestOfflineAnalystIsOfferedNoTools(t *testing.T) {
	gw := newFakeGateway(nil)
	o := newOrchestrator(t, gw)
	s := newSession(t, 1, consts.MarketAnalyst)

	require.NoError(t, o.Run(context.Background(), s))
	assert.Empty(t, gw.tools[consts.MarketAnalyst])
	prompt := gw.Prompts(consts.MarketAnalyst)[0]
	assert.Contains(t, prompt, agents.NoTools)
	assert.NotContains(t, prompt, "get_stock_data,")
}

func TestAnalystToolLoopIsBounded(t *testing.T) {
	gw := newFakeGateway(func(_ context.Context, role consts.Role, n int) (*llm.Response, error) {
		if role == consts.MarketAnalyst {
			return &llm.Response{ToolCalls: []llm.ToolCall{
				{ID: fmt.Sprintf("call-%d", n), Name: "get_indicators", Arguments: "{}"},
			}}, nil
		}
		return nil, nil
	})
	p := fastPolicy()
	p.MaxToolSteps = 2
	o := newOrchestrator(t, gw, WithPolicy(p), WithTools(&recordingTools{}))
	s := newSession(t, 1, consts.MarketAnalyst)

	err := o.Run(context.Background(), s)
	var stageErr *AnalysisStageFailed
	require.ErrorAs(t, err, &stageErr)
	assert.ErrorIs(t, err, ErrToolLoopExhausted)
	assert.Len(t, gw.Prompts(consts.MarketAnalyst), 3)
}

func TestEventsBracketTheSession(t *testing.T) {
	var kinds []EventKind
	o := newOrchestrator(t, newFakeGateway(nil),
		WithObserver(ObserverFunc(func(e Event) { kinds = append(kinds, e.Kind) })))
	s := newSession(t, 1, consts.MarketAnalyst)

	require.NoError(t, o.Run(context.Background(), s))
	require.NotEmpty(t, kinds)
	assert.Equal(t, EventStarted, kinds[0])
	assert.Equal(t, EventFinished, kinds[len(kinds)-1])

	count := map[EventKind]int{}
	for _, k := range kinds {
		count[k]++
	}
	assert.Equal(t, 6, count[EventStage])
	assert.Equal(t, 1, count[EventReport])
	assert.Equal(t, 5, count[EventTurn])
	assert.Equal(t, 3, count[EventDecision])
}

func TestRunRejectsStartedSession(t *testing.T) {
	o := newOrchestrator(t, newFakeGateway(nil))
	s := newSession(t, 1, consts.MarketAnalyst)
	require.NoError(t, o.Run(context.Background(), s))
	assert.Error(t, o.Run(context.Background(), s))
}
