package consts

import "fmt"

const (
	// Analyst Team
	Agent_MarketAnalyst       = "Market Analyst"
	Agent_SocialAnalyst       = "Social Analyst"
	Agent_NewsAnalyst         = "News Analyst"
	Agent_FundamentalsAnalyst = "Fundamentals Analyst"
	// Research Team
	Agent_BullResearcher  = "Bull Analyst"
	Agent_BearResearcher  = "Bear Analyst"
	Agent_ResearchManager = "Research Manager"
	// Trading Team
	Agent_Trader = "Trader"
	// Risk Management Team
	Agent_RiskyAnalyst   = "Risky Analyst"
	Agent_NeutralAnalyst = "Neutral Analyst"
	Agent_SafeAnalyst    = "Safe Analyst"
	// Portfolio Management Team
	Agent_PortfolioManager = "Portfolio Manager"
)

// Prompt markers substituted for missing context.
const (
	NoPastMemories = "No past memories found."
	NoResponseYet  = "(no response yet)"
	NoReport       = "(no report)"
)

// Stage is a step of the deliberation pipeline. Values are ordered.
type Stage int

const (
	StagePending Stage = iota
	StageAnalysts
	StageResearchDebate
	StageResearchJudge
	StageTrader
	StageRiskDebate
	StageRiskJudge
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StagePending:
		return "pending"
	case StageAnalysts:
		return "analysts"
	case StageResearchDebate:
		return "research_debate"
	case StageResearchJudge:
		return "research_judge"
	case StageTrader:
		return "trader"
	case StageRiskDebate:
		return "risk_debate"
	case StageRiskJudge:
		return "risk_judge"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(b []byte) error {
	for st := StagePending; st <= StageDone; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", string(b))
}

// Loop identifies one of the two debate loops.
type Loop string

const (
	LoopResearch Loop = "research"
	LoopRisk     Loop = "risk"
)

// Order returns the fixed speaking order for the loop.
func (l Loop) Order() []Role {
	switch l {
	case LoopResearch:
		return []Role{Bull, Bear}
	case LoopRisk:
		return []Role{Risky, Safe, Neutral}
	default:
		return nil
	}
}
