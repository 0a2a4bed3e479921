package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chatbot"

// Recorder groups the runtime collectors. A nil *Recorder is valid and
// records nothing, so components can run without metrics in tests.
type Recorder struct {
	turns         *prometheus.CounterVec
	turnDuration  prometheus.Histogram
	nodeDuration  *prometheus.HistogramVec
	llmCalls      *prometheus.CounterVec
	toolInvokes   *prometheus.CounterVec
	toolServersUp prometheus.Gauge
	replans       prometheus.Counter
}

func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed turns by outcome.",
		}, []string{"outcome"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time of one graph invocation.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Wall time spent inside each graph node.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"node"}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "LLM invocations by role and outcome.",
		}, []string{"role", "outcome"}),
		toolInvokes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Tool-server invocations by capability and outcome.",
		}, []string{"capability", "outcome"}),
		toolServersUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tool_servers_connected",
			Help:      "Tool servers connected after discovery.",
		}),
		replans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replans_total",
			Help:      "Re-plans triggered by an incomplete validation.",
		}),
	}

	for _, c := range []prometheus.Collector{
		r.turns, r.turnDuration, r.nodeDuration, r.llmCalls, r.toolInvokes, r.toolServersUp, r.replans,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) ObserveTurn(outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.turns.WithLabelValues(outcome).Inc()
	r.turnDuration.Observe(elapsed.Seconds())
}

func (r *Recorder) ObserveNode(node string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.nodeDuration.WithLabelValues(node).Observe(elapsed.Seconds())
}

func (r *Recorder) LLMCall(role string, err error) {
	if r == nil {
		return
	}
	r.llmCalls.WithLabelValues(role, outcome(err)).Inc()
}

func (r *Recorder) ToolInvocation(capability string, outcome string) {
	if r == nil {
		return
	}
	r.toolInvokes.WithLabelValues(capability, outcome).Inc()
}

func (r *Recorder) ToolServersConnected(n int) {
	if r == nil {
		return
	}
	r.toolServersUp.Set(float64(n))
}

func (r *Recorder) Replan() {
	if r == nil {
		return
	}
	r.replans.Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
