package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service. Constructed once in
// main and passed by reference; tests use NewWithRegistry to avoid default
// registry collisions.
type Metrics struct {
	RegistrationsTotal    prometheus.Counter
	RegistrationsRejected *prometheus.CounterVec
	SearchDurationMs      prometheus.Histogram
	ScanRowsSkipped       prometheus.Counter
	ChainAppendsTotal     prometheus.Counter
	ChainVerifyFailures   prometheus.Counter
	TokensIssued          prometheus.Counter
	TokenVerifications    *prometheus.CounterVec
	Revocations           prometheus.Counter
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics registered on the given registerer.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RegistrationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "vface_registrations_total",
			Help: "Total successful identity registrations",
		}),
		RegistrationsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vface_registrations_rejected_total",
			Help: "Registrations rejected, by reason",
		}, []string{"reason"}),
		SearchDurationMs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vface_search_duration_ms",
			Help:    "Latency of similarity scans in milliseconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250},
		}),
		ScanRowsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "vface_scan_rows_skipped_total",
			Help: "Rows skipped during similarity scans due to decrypt failures",
		}),
		ChainAppendsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "vface_chain_appends_total",
			Help: "Entries appended to the hash chain",
		}),
		ChainVerifyFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "vface_chain_verify_failures_total",
			Help: "Chain verification runs that found a broken entry",
		}),
		TokensIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "vface_consent_tokens_issued_total",
			Help: "Consent tokens minted",
		}),
		TokenVerifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vface_consent_token_verifications_total",
			Help: "Consent token verifications, by result",
		}, []string{"result"}),
		Revocations: factory.NewCounter(prometheus.CounterOpts{
			Name: "vface_revocations_total",
			Help: "Identities revoked",
		}),
	}
}
