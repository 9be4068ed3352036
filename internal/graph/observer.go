package graph

import (
	"time"

	"github.com/dyike/tradecouncil/consts"
	"github.com/dyike/tradecouncil/models"
)

type EventKind string

const (
	EventStarted        EventKind = "started"
	EventStage          EventKind = "stage"
	EventReport         EventKind = "report"
	EventTurn           EventKind = "turn"
	EventDecision       EventKind = "decision"
	EventMemoryFallback EventKind = "memory_fallback"
	EventFinished       EventKind = "finished"
)

// Event describes progress of one session. Observers receive copies and
// cannot reach the session itself.
type Event struct {
	Kind      EventKind
	SessionID string
	Ticker    string
	TradeDate string
	Stage     consts.Stage
	Role      consts.Role
	Loop      consts.Loop
	Round     int
	Content   string
	Err       error
	At        time.Time
	// Snapshot is set on EventStarted and EventFinished.
	Snapshot *models.Snapshot
}

// Observer is called synchronously from the goroutine running the session,
// so implementations must return quickly.
type Observer interface {
	Observe(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Metrics receives pipeline measurements.
type Metrics interface {
	GatewayCall(role consts.Role, outcome string, elapsed time.Duration)
	GatewayRetry(role consts.Role)
	DebateTurn(loop consts.Loop, role consts.Role)
	MemoryFallback()
	SessionFinished(status models.Status)
}

type nopMetrics struct{}

func (nopMetrics) GatewayCall(consts.Role, string, time.Duration) {}
func (nopMetrics) GatewayRetry(consts.Role)                       {}
func (nopMetrics) DebateTurn(consts.Loop, consts.Role)            {}
func (nopMetrics) MemoryFallback()                                {}
func (nopMetrics) SessionFinished(models.Status)                  {}
