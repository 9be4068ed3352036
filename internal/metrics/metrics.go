package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dyike/tradecouncil/consts"
	"github.com/dyike/tradecouncil/models"
)

const namespace = "council"

// Pipeline records orchestrator activity. Each instance owns its collectors so
// tests and hot reloads can use separate registries.
type Pipeline struct {
	gatewayCalls    *prometheus.CounterVec
	gatewayLatency  *prometheus.HistogramVec
	gatewayRetries  *prometheus.CounterVec
	debateTurns     *prometheus.CounterVec
	memoryFallbacks prometheus.Counter
	sessions        *prometheus.CounterVec
}

// New registers the pipeline collectors with reg.
func New(reg prometheus.Registerer) *Pipeline {
	f := promauto.With(reg)
	return &Pipeline{
		gatewayCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_calls_total",
			Help:      "Model calls by role and outcome",
		}, []string{"role", "outcome"}),
		gatewayLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_seconds",
			Help:      "Model call latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
		}, []string{"role"}),
		gatewayRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_retries_total",
			Help:      "Model calls retried after a timeout",
		}, []string{"role"}),
		debateTurns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debate_turns_total",
			Help:      "Debate turns by loop and role",
		}, []string{"loop", "role"}),
		memoryFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_fallbacks_total",
			Help:      "Memory recalls that fell back to the empty marker",
		}),
		sessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Finished sessions by terminal status",
		}, []string{"status"}),
	}
}

func (p *Pipeline) GatewayCall(role consts.Role, outcome string, elapsed time.Duration) {
	p.gatewayCalls.WithLabelValues(role.String(), outcome).Inc()
	p.gatewayLatency.WithLabelValues(role.String()).Observe(elapsed.Seconds())
}

func (p *Pipeline) GatewayRetry(role consts.Role) {
	p.gatewayRetries.WithLabelValues(role.String()).Inc()
}

func (p *Pipeline) DebateTurn(loop consts.Loop, role consts.Role) {
	p.debateTurns.WithLabelValues(string(loop), role.String()).Inc()
}

func (p *Pipeline) MemoryFallback() {
	p.memoryFallbacks.Inc()
}

func (p *Pipeline) SessionFinished(status models.Status) {
	p.sessions.WithLabelValues(string(status)).Inc()
}
