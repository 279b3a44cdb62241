package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/f0mster/netrpc/pkg/fault"
	"github.com/f0mster/netrpc/pkg/rpc"
	"github.com/f0mster/netrpc/pkg/stream"
)

type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec
	streams  *prometheus.CounterVec
}

// NewMetrics registers the call metrics in reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Total number of calls by outcome",
		}, []string{"contract", "method", "channel", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "Call duration in seconds, without result stream",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"contract", "method", "channel"}),
		inFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "calls_in_flight",
			Help:      "Calls being executed",
		}, []string{"contract", "method"}),
		streams: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "streams_total",
			Help:      "Finished streams by terminal state",
		}, []string{"contract", "method", "state"}),
	}
}

func (m *Metrics) Middleware() CallMiddleware {
	return func(next CallHandler) CallHandler {
		return func(c *rpc.CallContext) error {
			contract, method, channel := c.Action.Contract, c.Action.Method, string(c.Channel)
			g := m.inFlight.WithLabelValues(contract, method)
			g.Inc()
			c.OnStreamFinished(func(c *rpc.CallContext, s stream.State) {
				m.streams.WithLabelValues(contract, method, s.String()).Inc()
			})

			err := next(c)

			g.Dec()
			m.duration.WithLabelValues(contract, method, channel).Observe(c.Elapsed().Seconds())
			m.calls.WithLabelValues(contract, method, channel, outcome(err)).Inc()
			return err
		}
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case fault.IsCancellation(err):
		return "cancelled"
	}
	return "error"
}

func (m *Metrics) Calls() *prometheus.CounterVec {
	return m.calls
}

func (m *Metrics) Streams() *prometheus.CounterVec {
	return m.streams
}
