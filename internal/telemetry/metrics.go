package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shaiso/Herald/internal/domain"
)

// Metrics — Prometheus метрики claim и попыток.
// nil *Metrics допустим: все методы ничего не делают.
type Metrics struct {
	claims        *prometheus.CounterVec
	reclaims      *prometheus.CounterVec
	attempts      *prometheus.CounterVec
	claimDuration *prometheus.HistogramVec
}

// NewMetrics регистрирует метрики в reg.
// reg == nil — prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		claims: f.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_claims_total",
			Help: "Work items claimed by workers",
		}, []string{"kind"}),
		reclaims: f.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_reclaims_total",
			Help: "Work items reclaimed after a stale claim",
		}, []string{"kind"}),
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_attempts_total",
			Help: "Recorded delivery attempts by status",
		}, []string{"kind", "status"}),
		claimDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "herald_claim_duration_seconds",
			Help:    "Duration of a claim transaction",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
	}
}

// ObserveClaim учитывает результат одного claim.
func (m *Metrics) ObserveClaim(kind domain.AnchorKind, claimed, reclaimed int, took time.Duration) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(string(kind)).Add(float64(claimed))
	m.reclaims.WithLabelValues(string(kind)).Add(float64(reclaimed))
	m.claimDuration.WithLabelValues(string(kind)).Observe(took.Seconds())
}

// ObserveAttempt учитывает записанную попытку.
func (m *Metrics) ObserveAttempt(kind domain.AnchorKind, status domain.AttemptStatus) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(string(kind), string(status)).Inc()
}
