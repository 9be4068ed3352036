package consts

import (
	"fmt"
	"strings"
)

// Role is the closed set of participants in a deliberation session.
type Role int

const (
	RoleUnknown Role = iota

	// 分析师节点
	MarketAnalyst
	SentimentAnalyst
	NewsAnalyst
	FundamentalsAnalyst

	// 研究员节点
	Bull
	Bear
	ResearchJudge

	// 交易员节点
	Trader

	// 风险分析节点
	Risky
	Safe
	Neutral
	RiskJudge
)

// Roles lists every known role in pipeline order.
var Roles = []Role{
	MarketAnalyst, SentimentAnalyst, NewsAnalyst, FundamentalsAnalyst,
	Bull, Bear, ResearchJudge,
	Trader,
	Risky, Safe, Neutral, RiskJudge,
}

// Analysts lists the analyst roles in report order.
var Analysts = []Role{MarketAnalyst, SentimentAnalyst, NewsAnalyst, FundamentalsAnalyst}

// String returns the node name used in logs, storage and file names.
func (r Role) String() string {
	switch r {
	case MarketAnalyst:
		return "market_analyst"
	case SentimentAnalyst:
		return "social_media_analyst"
	case NewsAnalyst:
		return "news_analyst"
	case FundamentalsAnalyst:
		return "fundamentals_analyst"
	case Bull:
		return "bull_researcher"
	case Bear:
		return "bear_researcher"
	case ResearchJudge:
		return "research_manager"
	case Trader:
		return "trader"
	case Risky:
		return "risky_analyst"
	case Safe:
		return "safe_analyst"
	case Neutral:
		return "neutral_analyst"
	case RiskJudge:
		return "risk_judge"
	default:
		return "unknown"
	}
}

// Label is the speaker tag written into debate transcripts.
func (r Role) Label() string {
	switch r {
	case MarketAnalyst:
		return Agent_MarketAnalyst
	case SentimentAnalyst:
		return Agent_SocialAnalyst
	case NewsAnalyst:
		return Agent_NewsAnalyst
	case FundamentalsAnalyst:
		return Agent_FundamentalsAnalyst
	case Bull:
		return Agent_BullResearcher
	case Bear:
		return Agent_BearResearcher
	case ResearchJudge:
		return Agent_ResearchManager
	case Trader:
		return Agent_Trader
	case Risky:
		return Agent_RiskyAnalyst
	case Safe:
		return Agent_SafeAnalyst
	case Neutral:
		return Agent_NeutralAnalyst
	case RiskJudge:
		return Agent_PortfolioManager
	default:
		return "Unknown"
	}
}

func (r Role) IsAnalyst() bool {
	return r >= MarketAnalyst && r <= FundamentalsAnalyst
}

// AnalystKey is the short name used in configuration and requests.
func (r Role) AnalystKey() string {
	switch r {
	case MarketAnalyst:
		return "market"
	case SentimentAnalyst:
		return "social"
	case NewsAnalyst:
		return "news"
	case FundamentalsAnalyst:
		return "fundamentals"
	default:
		return ""
	}
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	if len(b) == 0 || string(b) == "unknown" {
		*r = RoleUnknown
		return nil
	}
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRole accepts a node name as produced by Role.String.
func ParseRole(s string) (Role, error) {
	for _, r := range Roles {
		if r.String() == s {
			return r, nil
		}
	}
	return RoleUnknown, fmt.Errorf("unknown role %q", s)
}

// ParseAnalyst maps a configuration key to its analyst role.
func ParseAnalyst(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "market":
		return MarketAnalyst, nil
	case "social", "sentiment":
		return SentimentAnalyst, nil
	case "news":
		return NewsAnalyst, nil
	case "fundamentals":
		return FundamentalsAnalyst, nil
	default:
		return RoleUnknown, fmt.Errorf("unknown analyst %q", s)
	}
}

// ParseAnalysts parses and de-duplicates keys, returning roles in report order.
func ParseAnalysts(keys []string) ([]Role, error) {
	seen := make(map[Role]bool, len(keys))
	for _, k := range keys {
		r, err := ParseAnalyst(k)
		if err != nil {
			return nil, err
		}
		seen[r] = true
	}
	out := make([]Role, 0, len(seen))
	for _, r := range Analysts {
		if seen[r] {
			out = append(out, r)
		}
	}
	return out, nil
}
