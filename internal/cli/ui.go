package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"

	"github.com/dyike/tradecouncil/consts"
	"github.com/dyike/tradecouncil/internal/graph"
	"github.com/dyike/tradecouncil/models"
)

// UI styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Background(lipgloss.Color("#1F2937")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3B82F6")).
			Padding(0, 2)

	decisionStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#EF4444")).
			Padding(1, 2).
			Width(80)

	stageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B")).
			Bold(true)

	completedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	turnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3B82F6"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))
)

var signalStyles = map[models.Signal]lipgloss.Style{
	models.SignalBuy:  completedStyle,
	models.SignalSell: errorStyle,
	models.SignalHold: stageStyle,
}

// progress renders orchestrator events as they happen. Analysts run
// concurrently, so writes are serialized.
type progress struct {
	mu      sync.Mutex
	out     io.Writer
	started time.Time
	verbose bool
}

func newProgress(out io.Writer, verbose bool) *progress {
	return &progress{out: out, started: time.Now(), verbose: verbose}
}

func (p *progress) Observe(e graph.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := mutedStyle.Render(fmt.Sprintf("[%6s]", time.Since(p.started).Round(time.Second)))
	switch e.Kind {
	case graph.EventStarted:
		fmt.Fprintln(p.out, headerStyle.Render(fmt.Sprintf("📊 %s | 📅 %s", e.Ticker, e.TradeDate)))
	case graph.EventStage:
		fmt.Fprintf(p.out, "%s %s\n", elapsed, stageStyle.Render("▶ "+stageTitle(e.Stage)))
	case graph.EventReport:
		fmt.Fprintf(p.out, "%s ✅ %s report (%d chars)\n", elapsed, e.Role.Label(), utf8.RuneCountInString(e.Content))
		p.detail(e.Content)
	case graph.EventTurn:
		fmt.Fprintf(p.out, "%s %s\n", elapsed, turnStyle.Render(fmt.Sprintf("💬 %s, round %d", e.Role.Label(), e.Round)))
		p.detail(e.Content)
	case graph.EventDecision:
		fmt.Fprintf(p.out, "%s 🧠 %s decided\n", elapsed, e.Role.Label())
	case graph.EventMemoryFallback:
		fmt.Fprintf(p.out, "%s %s\n", elapsed, mutedStyle.Render("⚠️  memory unavailable for "+e.Role.Label()))
	case graph.EventFinished:
		if e.Err != nil {
			fmt.Fprintf(p.out, "%s %s\n", elapsed, errorStyle.Render("❌ "+e.Err.Error()))
			return
		}
		fmt.Fprintf(p.out, "%s %s\n", elapsed, completedStyle.Render("🎉 analysis complete"))
	}
}

func (p *progress) detail(content string) {
	if !p.verbose {
		return
	}
	fmt.Fprintln(p.out, mutedStyle.Render(indent(truncateString(content, 400), "    ")))
}

func stageTitle(s consts.Stage) string {
	switch s {
	case consts.StageAnalysts:
		return "Analyst team"
	case consts.StageResearchDebate:
		return "Research debate"
	case consts.StageResearchJudge:
		return "Research manager"
	case consts.StageTrader:
		return "Trader"
	case consts.StageRiskDebate:
		return "Risk debate"
	case consts.StageRiskJudge:
		return "Portfolio manager"
	default:
		return s.String()
	}
}

// renderDecision prints the final summary of a finished session.
func renderDecision(out io.Writer, snap models.Snapshot) {
	fmt.Fprintln(out)
	if snap.Status != models.StatusCompleted {
		msg := fmt.Sprintf("❌ session %s %s", snap.ID, snap.Status)
		if snap.Failure != nil {
			msg += fmt.Sprintf(" at %s: %s", snap.Failure.Stage, snap.Failure.Message)
		}
		fmt.Fprintln(out, errorStyle.Render(msg))
		return
	}

	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%s %s", snap.Ticker, snap.TradeDate)))
	signal := string(snap.Signal)
	if signal == "" {
		signal = "UNKNOWN"
	}
	style, ok := signalStyles[snap.Signal]
	if !ok {
		style = mutedStyle
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Signal: %s\n", style.Render(signal))
	fmt.Fprintf(&b, "Session: %s\n\n", snap.ID)
	b.WriteString(truncateString(snap.FinalDecision.String(), 1200))
	fmt.Fprintln(out, decisionStyle.Render(b.String()))
}

func displayError(out io.Writer, err error) {
	fmt.Fprintln(out, errorStyle.Render("❌ Error: "+err.Error()))
}

func displaySuccess(out io.Writer, message string) {
	fmt.Fprintln(out, completedStyle.Render("✅ "+message))
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
