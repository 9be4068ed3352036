package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dyike/tradecouncil/consts"
)

const DateLayout = "2006-01-02"

var (
	ErrStageOrder    = errors.New("stage out of order")
	ErrNotRunning    = errors.New("session is not running")
	ErrInvalidTicker = errors.New("invalid ticker")
)

// MaxTickerLen bounds symbols like "600519.SS" or "BRK-B".
const MaxTickerLen = 10

// tickers become directory names under results_dir, so they must start with a
// letter or digit and never contain a path separator.
var tickerPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.-]*$`)

// NormalizeTicker upper-cases and trims ticker and checks it is a plain symbol.
func NormalizeTicker(ticker string) (string, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	switch {
	case ticker == "":
		return "", fmt.Errorf("%w: ticker is required", ErrInvalidTicker)
	case len(ticker) > MaxTickerLen:
		return "", fmt.Errorf("%w: %q is longer than %d characters", ErrInvalidTicker, ticker, MaxTickerLen)
	case !tickerPattern.MatchString(ticker):
		return "", fmt.Errorf("%w: %q (use letters, numbers, dots and hyphens)", ErrInvalidTicker, ticker)
	}
	return ticker, nil
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Reports holds one optional report per analyst kind.
type Reports struct {
	Market       Text `json:"market"`
	Sentiment    Text `json:"sentiment"`
	News         Text `json:"news"`
	Fundamentals Text `json:"fundamentals"`
}

func (r *Reports) slot(role consts.Role) (*Text, error) {
	switch role {
	case consts.MarketAnalyst:
		return &r.Market, nil
	case consts.SentimentAnalyst:
		return &r.Sentiment, nil
	case consts.NewsAnalyst:
		return &r.News, nil
	case consts.FundamentalsAnalyst:
		return &r.Fundamentals, nil
	default:
		return nil, fmt.Errorf("%s does not write a report", role)
	}
}

// Get returns the report written by an analyst role.
func (r Reports) Get(role consts.Role) Text {
	t, err := r.slot(role)
	if err != nil {
		return Text{}
	}
	return *t
}

// Situation is the memory retrieval key: the four reports joined by blank lines.
func (r Reports) Situation() string {
	return strings.Join([]string{
		r.Market.String(),
		r.Sentiment.String(),
		r.News.String(),
		r.Fundamentals.String(),
	}, "\n\n")
}

// Failure describes where a session stopped.
type Failure struct {
	Stage   consts.Stage `json:"stage"`
	Role    consts.Role  `json:"role,omitempty"`
	Round   int          `json:"round,omitempty"`
	Message string       `json:"message"`
}

// Session is the root aggregate of one deliberation run. Only the goroutine
// driving the pipeline mutates it; everyone else reads a Snapshot.
type Session struct {
	mu sync.RWMutex

	id        string
	ticker    string
	tradeDate time.Time
	analysts  []consts.Role
	depth     int

	reports        Reports
	research       *DebateState
	investmentPlan Text
	traderPlan     Text
	risk           *DebateState
	finalDecision  Text
	signal         Signal

	status  Status
	stage   consts.Stage
	failure *Failure

	createdAt   time.Time
	updatedAt   time.Time
	completedAt time.Time
	now         func() time.Time
}

func NewSession(id, ticker string, tradeDate time.Time, analysts []consts.Role, depth int) (*Session, error) {
	ticker, err := NormalizeTicker(ticker)
	if err != nil {
		return nil, err
	}
	if tradeDate.IsZero() {
		return nil, errors.New("trade date is required")
	}
	if len(analysts) == 0 {
		return nil, errors.New("at least one analyst is required")
	}
	for _, a := range analysts {
		if !a.IsAnalyst() {
			return nil, fmt.Errorf("%s is not an analyst", a)
		}
	}
	if depth < 1 {
		return nil, fmt.Errorf("debate depth must be >= 1, got %d", depth)
	}

	now := time.Now().UTC()
	return &Session{
		id:        id,
		ticker:    ticker,
		tradeDate: tradeDate,
		analysts:  append([]consts.Role(nil), analysts...),
		depth:     depth,
		research:  NewDebateState(consts.LoopResearch),
		risk:      NewDebateState(consts.LoopRisk),
		status:    StatusPending,
		stage:     consts.StagePending,
		createdAt: now,
		updatedAt: now,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Session) ID() string           { return s.id }
func (s *Session) Ticker() string       { return s.ticker }
func (s *Session) TradeDate() time.Time { return s.tradeDate }
func (s *Session) DebateDepth() int     { return s.depth }

func (s *Session) TradeDateString() string {
	return s.tradeDate.Format(DateLayout)
}

func (s *Session) Analysts() []consts.Role {
	return append([]consts.Role(nil), s.analysts...)
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Session) Stage() consts.Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stage
}

func (s *Session) touch() {
	s.updatedAt = s.now()
}

// Start moves a pending session to running.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPending {
		return fmt.Errorf("start session in status %s: %w", s.status, ErrNotRunning)
	}
	s.status = StatusRunning
	s.touch()
	return nil
}

// Advance enters the next stage. It fails unless stage directly follows the
// current one and every input that stage reads has been produced.
func (s *Session) Advance(stage consts.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRunning {
		return ErrNotRunning
	}
	if stage != s.stage+1 {
		return fmt.Errorf("%w: %s after %s", ErrStageOrder, stage, s.stage)
	}
	if err := s.ready(stage); err != nil {
		return fmt.Errorf("%w: %v", ErrStageOrder, err)
	}
	s.stage = stage
	s.touch()
	return nil
}

func (s *Session) ready(stage consts.Stage) error {
	switch stage {
	case consts.StageAnalysts:
		return nil
	case consts.StageResearchDebate:
		for _, a := range s.analysts {
			if !s.reports.Get(a).IsSet() {
				return fmt.Errorf("report from %s missing", a)
			}
		}
	case consts.StageResearchJudge:
		if s.research.Count != 2*s.depth {
			return fmt.Errorf("research debate has %d of %d turns", s.research.Count, 2*s.depth)
		}
	case consts.StageTrader:
		if !s.investmentPlan.IsSet() {
			return errors.New("investment plan missing")
		}
	case consts.StageRiskDebate:
		if !s.traderPlan.IsSet() {
			return errors.New("trader plan missing")
		}
	case consts.StageRiskJudge:
		if s.risk.Count != 3*s.depth {
			return fmt.Errorf("risk debate has %d of %d turns", s.risk.Count, 3*s.depth)
		}
	case consts.StageDone:
		if !s.finalDecision.IsSet() {
			return errors.New("final decision missing")
		}
	default:
		return fmt.Errorf("unknown stage %d", stage)
	}
	return nil
}

func (s *Session) SetReport(role consts.Role, report string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != consts.StageAnalysts {
		return fmt.Errorf("%w: report outside analyst stage", ErrStageOrder)
	}
	slot, err := s.reports.slot(role)
	if err != nil {
		return err
	}
	if err := slot.Set(report); err != nil {
		return fmt.Errorf("%s report: %w", role, err)
	}
	s.touch()
	return nil
}

// AppendTurn records a debate turn and returns it with its label and round.
func (s *Session) AppendTurn(loop consts.Loop, role consts.Role, content string) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var state *DebateState
	switch loop {
	case consts.LoopResearch:
		if s.stage != consts.StageResearchDebate {
			return Turn{}, fmt.Errorf("%w: research turn in %s", ErrStageOrder, s.stage)
		}
		state = s.research
	case consts.LoopRisk:
		if s.stage != consts.StageRiskDebate {
			return Turn{}, fmt.Errorf("%w: risk turn in %s", ErrStageOrder, s.stage)
		}
		state = s.risk
	default:
		return Turn{}, fmt.Errorf("unknown loop %q", loop)
	}
	if limit := len(loop.Order()) * s.depth; state.Count >= limit {
		return Turn{}, fmt.Errorf("%s debate already has %d turns", loop, limit)
	}
	turn, err := state.Append(role, content, s.now())
	if err != nil {
		return Turn{}, err
	}
	s.touch()
	return turn, nil
}

// SetResearchDecision stores the research judge output as both the debate
// decision and the investment plan.
func (s *Session) SetResearchDecision(decision string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != consts.StageResearchJudge {
		return fmt.Errorf("%w: research decision in %s", ErrStageOrder, s.stage)
	}
	if s.research.JudgeDecision.IsSet() || s.investmentPlan.IsSet() {
		return fmt.Errorf("investment plan: %w", ErrAlreadySet)
	}
	_ = s.research.JudgeDecision.Set(decision)
	_ = s.investmentPlan.Set(decision)
	s.touch()
	return nil
}

func (s *Session) SetTraderPlan(plan string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != consts.StageTrader {
		return fmt.Errorf("%w: trader plan in %s", ErrStageOrder, s.stage)
	}
	if err := s.traderPlan.Set(plan); err != nil {
		return fmt.Errorf("trader plan: %w", err)
	}
	s.touch()
	return nil
}

// SetFinalDecision stores the risk judge output and extracts its signal.
func (s *Session) SetFinalDecision(decision string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != consts.StageRiskJudge {
		return fmt.Errorf("%w: final decision in %s", ErrStageOrder, s.stage)
	}
	if s.risk.JudgeDecision.IsSet() || s.finalDecision.IsSet() {
		return fmt.Errorf("final decision: %w", ErrAlreadySet)
	}
	_ = s.risk.JudgeDecision.Set(decision)
	_ = s.finalDecision.Set(decision)
	s.risk.LatestSpeaker = consts.RiskJudge
	s.signal = ExtractSignal(decision)
	s.touch()
	return nil
}

// Complete marks a session whose final decision is set as completed.
func (s *Session) Complete() error {
	if err := s.Advance(consts.StageDone); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusCompleted
	s.completedAt = s.now()
	s.updatedAt = s.completedAt
	return nil
}

// Fail terminates the session keeping all partial state.
func (s *Session) Fail(f Failure) {
	s.terminate(StatusFailed, f)
}

func (s *Session) Cancel(f Failure) {
	s.terminate(StatusCancelled, f)
}

func (s *Session) terminate(status Status, f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return
	}
	if f.Stage == consts.StagePending {
		f.Stage = s.stage
	}
	s.status = status
	s.failure = &f
	s.completedAt = s.now()
	s.updatedAt = s.completedAt
}

func (s *Session) Reports() Reports {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reports
}

// Debate returns a copy of the loop state.
func (s *Session) Debate(loop consts.Loop) *DebateState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if loop == consts.LoopRisk {
		return s.risk.clone()
	}
	return s.research.clone()
}

func (s *Session) InvestmentPlan() Text {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.investmentPlan
}

func (s *Session) TraderPlan() Text {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.traderPlan
}

func (s *Session) FinalDecision() Text {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finalDecision
}

func (s *Session) Failure() *Failure {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure == nil {
		return nil
	}
	f := *s.failure
	return &f
}

// Snapshot is a detached, serialisable copy of a session.
type Snapshot struct {
	ID             string        `json:"id"`
	Ticker         string        `json:"ticker"`
	TradeDate      string        `json:"trade_date"`
	Analysts       []consts.Role `json:"analysts"`
	DebateDepth    int           `json:"max_debate_rounds"`
	Status         Status        `json:"status"`
	Stage          consts.Stage  `json:"stage"`
	Failure        *Failure      `json:"failure,omitempty"`
	Reports        Reports       `json:"reports"`
	ResearchDebate *DebateState  `json:"research_debate"`
	InvestmentPlan Text          `json:"investment_plan"`
	TraderPlan     Text          `json:"trader_plan"`
	RiskDebate     *DebateState  `json:"risk_debate"`
	FinalDecision  Text          `json:"final_decision"`
	Signal         Signal        `json:"signal"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		ID:             s.id,
		Ticker:         s.ticker,
		TradeDate:      s.tradeDate.Format(DateLayout),
		Analysts:       append([]consts.Role(nil), s.analysts...),
		DebateDepth:    s.depth,
		Status:         s.status,
		Stage:          s.stage,
		Reports:        s.reports,
		ResearchDebate: s.research.clone(),
		InvestmentPlan: s.investmentPlan,
		TraderPlan:     s.traderPlan,
		RiskDebate:     s.risk.clone(),
		FinalDecision:  s.finalDecision,
		Signal:         s.signal,
		CreatedAt:      s.createdAt,
		UpdatedAt:      s.updatedAt,
	}
	if s.failure != nil {
		f := *s.failure
		snap.Failure = &f
	}
	if !s.completedAt.IsZero() {
		t := s.completedAt
		snap.CompletedAt = &t
	}
	return snap
}

// SessionRecord is the persisted summary row of a session.
type SessionRecord struct {
	Id            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	TradeDate     string    `json:"trade_date"`
	Analysts      string    `json:"analysts"`
	DebateDepth   int       `json:"max_debate_rounds"`
	Status        string    `json:"status"`
	Stage         string    `json:"stage"`
	FinalDecision string    `json:"final_decision,omitempty"`
	Signal        string    `json:"signal,omitempty"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// MessageRecord is one persisted stage output or debate turn.
type MessageRecord struct {
	Id        string    `json:"id"`
	SessionId string    `json:"session_id"`
	Role      string    `json:"role"`
	Agent     string    `json:"agent"`
	Kind      string    `json:"kind"`
	Round     int       `json:"round,omitempty"`
	Content   string    `json:"content"`
	Seq       int       `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// Reflection is a stored lesson tied to the situation it was learned from.
type Reflection struct {
	Id             string    `json:"id"`
	Situation      string    `json:"situation"`
	Recommendation string    `json:"recommendation"`
	CreatedAt      time.Time `json:"created_at"`
}

// ScoredReflection is a search hit. Higher scores are closer matches.
type ScoredReflection struct {
	Reflection Reflection `json:"reflection"`
	Score      float64    `json:"score"`
}
