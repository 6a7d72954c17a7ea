package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline stages reported in the access decision counter.
const (
	StageTenant     = "tenant"
	StageCredential = "credential"
	StageCrossCheck = "cross_check"
	StageRevocation = "revocation"
	StageRole       = "role"
	StageAdmit      = "admit"
)

type Metrics struct {
	AccessDecisions  *prometheus.CounterVec
	AcquireDuration  *prometheus.HistogramVec
	RevocationsSwept prometheus.Counter
	TokensRevoked    *prometheus.CounterVec
	registry         *prometheus.Registry
}

// New registers all collectors on a fresh registry, which is also what
// Handler serves.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		AccessDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantdesk_access_decisions_total",
			Help: "Access pipeline outcomes by stage",
		}, []string{"stage", "outcome"}),
		AcquireDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tenantdesk_scoped_acquire_duration_seconds",
			Help:    "Time spent waiting for a tenant-scoped database connection",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"result"}),
		RevocationsSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "tenantdesk_revocations_swept_total",
			Help: "Expired revocation entries deleted by the sweeper",
		}),
		TokensRevoked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantdesk_tokens_revoked_total",
			Help: "Credentials revoked by kind",
		}, []string{"kind"}),
		registry: reg,
	}
}

// Decision records one pipeline outcome. outcome is "allow" or an HTTP status class such as "401".
func (m *Metrics) Decision(stage, outcome string) {
	m.AccessDecisions.WithLabelValues(stage, outcome).Inc()
}

// ObserveAcquire matches store.AcquireObserver.
func (m *Metrics) ObserveAcquire(wait time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.AcquireDuration.WithLabelValues(result).Observe(wait.Seconds())
}

func (m *Metrics) AddSwept(n int64) {
	if n > 0 {
		m.RevocationsSwept.Add(float64(n))
	}
}

func (m *Metrics) IncrementRevoked(kind string) {
	m.TokensRevoked.WithLabelValues(kind).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
