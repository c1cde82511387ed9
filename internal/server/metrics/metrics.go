// Package metrics exposes Prometheus instruments for the vault. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	authAttempts       *prometheus.CounterVec
	sessionChecks      *prometheus.CounterVec
	ledgerAppends      *prometheus.CounterVec
	ledgerAppendTime   prometheus.Histogram
	ledgerHead         prometheus.Gauge
	chainVerifications *prometheus.CounterVec
	rotations          *prometheus.CounterVec
	releaseRetries     prometheus.Counter
	rpcHandled         *prometheus.CounterVec
	rpcDuration        *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	promFactory := promauto.With(reg)
	return &Metrics{
		authAttempts: promFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "trustvault_auth_attempts_total",
			Help: "Credential checks by outcome",
		}, []string{"outcome"}),
		sessionChecks: promFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "trustvault_session_verifications_total",
			Help: "Session verifications by outcome",
		}, []string{"outcome"}),
		ledgerAppends: promFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "trustvault_ledger_appends_total",
			Help: "Ledger entries appended by kind",
		}, []string{"kind"}),
		ledgerAppendTime: promFactory.NewHistogram(prometheus.HistogramOpts{
			Name:    "trustvault_ledger_append_duration_seconds",
			Help:    "Time spent inside the ledger append critical section",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		ledgerHead: promFactory.NewGauge(prometheus.GaugeOpts{
			Name: "trustvault_ledger_head_sequence",
			Help: "Sequence number of the newest ledger entry",
		}),
		chainVerifications: promFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "trustvault_chain_verifications_total",
			Help: "Ledger chain verifications by result",
		}, []string{"result"}),
		rotations: promFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "trustvault_key_rotations_total",
			Help: "Key rotation attempts by outcome",
		}, []string{"outcome"}),
		releaseRetries: promFactory.NewCounter(prometheus.CounterOpts{
			Name: "trustvault_content_release_retries_total",
			Help: "Retried content deletions after a tombstone",
		}),
		rpcHandled: promFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "trustvault_grpc_handled_total",
			Help: "gRPC calls by method and status code",
		}, []string{"method", "code"}),
		rpcDuration: promFactory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trustvault_grpc_duration_seconds",
			Help:    "gRPC call latency by method",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method"}),
	}
}

func (m *Metrics) AuthAttempt(outcome string) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SessionVerified(outcome string) {
	if m == nil {
		return
	}
	m.sessionChecks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LedgerAppended(kind string, sequence int64, took time.Duration) {
	if m == nil {
		return
	}
	m.ledgerAppends.WithLabelValues(kind).Inc()
	m.ledgerAppendTime.Observe(took.Seconds())
	m.ledgerHead.Set(float64(sequence))
}

func (m *Metrics) ChainVerified(result string) {
	if m == nil {
		return
	}
	m.chainVerifications.WithLabelValues(result).Inc()
}

func (m *Metrics) Rotation(outcome string) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ContentReleaseRetry() {
	if m == nil {
		return
	}
	m.releaseRetries.Inc()
}

func (m *Metrics) RPC(method, code string, took time.Duration) {
	if m == nil {
		return
	}
	m.rpcHandled.WithLabelValues(method, code).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(took.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
