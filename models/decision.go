package models

import (
	"regexp"
	"strings"
)

// Signal is the machine-readable action extracted from a decision text.
type Signal string

const (
	SignalBuy     Signal = "BUY"
	SignalSell    Signal = "SELL"
	SignalHold    Signal = "HOLD"
	SignalUnknown Signal = ""
)

// FinalProposalPrefix opens the sentinel line the trader must end with.
const FinalProposalPrefix = "FINAL TRANSACTION PROPOSAL:"

var proposalPattern = regexp.MustCompile(`(?i)FINAL\s+TRANSACTION\s+PROPOSAL:\s*\**\s*(BUY|SELL|HOLD)\b`)

var recommendationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:recommendation|decision|action|verdict)\s*[:\-]\s*\**\s*(BUY|SELL|HOLD)\b`),
	regexp.MustCompile(`\*\*(BUY|SELL|HOLD)\*\*`),
}

// ExtractSignal finds the committed action in text. The last sentinel proposal
// wins, then the first explicit recommendation line or bolded action. Bare
// action words are ignored, so text without either yields SignalUnknown.
func ExtractSignal(text string) Signal {
	if m := proposalPattern.FindAllStringSubmatch(text, -1); len(m) > 0 {
		return Signal(strings.ToUpper(m[len(m)-1][1]))
	}
	for _, p := range recommendationPatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			return Signal(strings.ToUpper(m[1]))
		}
	}
	return SignalUnknown
}

func (s Signal) Valid() bool {
	return s == SignalBuy || s == SignalSell || s == SignalHold
}
