// Package metrics provides Prometheus metrics for the break-glass service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricRequestsCreatedTotal      = "breakglass_requests_created_total"
	MetricApprovalsTotal            = "breakglass_approvals_total"
	MetricRetrievalsTotal           = "breakglass_retrievals_total"
	MetricTokenValidationsTotal     = "breakglass_token_validations_total"
	MetricTokensIssuedTotal         = "breakglass_tokens_issued_total"
	MetricLedgerAppendsTotal        = "breakglass_ledger_appends_total"
	MetricLedgerVerifyFailuresTotal = "breakglass_ledger_verify_failures_total"
	MetricReportsFinalizedTotal     = "breakglass_reports_finalized_total"
	MetricNotifyFailuresTotal       = "breakglass_notify_failures_total"
)

// Outcome label for successful operations. Failures are labeled with
// errs.Kind of the error.
const OutcomeSuccess = "success"

// Metrics contains the service's Prometheus collectors. A nil *Metrics is
// valid and records nothing. All operations are thread-safe.
type Metrics struct {
	requestsCreated      *prometheus.CounterVec
	approvals            *prometheus.CounterVec
	retrievals           *prometheus.CounterVec
	tokenValidations     *prometheus.CounterVec
	tokensIssued         prometheus.Counter
	ledgerAppends        *prometheus.CounterVec
	ledgerVerifyFailures prometheus.Counter
	reportsFinalized     prometheus.Counter
	notifyFailures       prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		requestsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRequestsCreatedTotal,
				Help: "Total number of credential requests created by emergency flag",
			},
			[]string{"emergency"},
		),
		approvals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricApprovalsTotal,
				Help: "Total number of approval attempts by outcome",
			},
			[]string{"outcome"},
		),
		retrievals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRetrievalsTotal,
				Help: "Total number of secret retrieval attempts by outcome",
			},
			[]string{"outcome"},
		),
		tokenValidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricTokenValidationsTotal,
				Help: "Total number of token validations by outcome",
			},
			[]string{"outcome"},
		),
		tokensIssued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricTokensIssuedTotal,
				Help: "Total number of single-use tokens issued",
			},
		),
		ledgerAppends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricLedgerAppendsTotal,
				Help: "Total number of ledger entries appended by event type",
			},
			[]string{"event_type"},
		),
		ledgerVerifyFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricLedgerVerifyFailuresTotal,
				Help: "Total number of ledger chain verifications that failed",
			},
		),
		reportsFinalized: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricReportsFinalizedTotal,
				Help: "Total number of reports finalized",
			},
		),
		notifyFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricNotifyFailuresTotal,
				Help: "Total number of owner notifications that failed",
			},
		),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requestsCreated,
		m.approvals,
		m.retrievals,
		m.tokenValidations,
		m.tokensIssued,
		m.ledgerAppends,
		m.ledgerVerifyFailures,
		m.reportsFinalized,
		m.notifyFailures,
	}
}

// IncRequestsCreated counts a new credential request
func (m *Metrics) IncRequestsCreated(emergency bool) {
	if m == nil {
		return
	}
	label := "false"
	if emergency {
		label = "true"
	}
	m.requestsCreated.WithLabelValues(label).Inc()
}

// IncApprovals counts an approval attempt
func (m *Metrics) IncApprovals(outcome string) {
	if m == nil {
		return
	}
	m.approvals.WithLabelValues(outcome).Inc()
}

// IncRetrievals counts a retrieval attempt
func (m *Metrics) IncRetrievals(outcome string) {
	if m == nil {
		return
	}
	m.retrievals.WithLabelValues(outcome).Inc()
}

// IncTokenValidations counts a token validation
func (m *Metrics) IncTokenValidations(outcome string) {
	if m == nil {
		return
	}
	m.tokenValidations.WithLabelValues(outcome).Inc()
}

// IncTokensIssued counts an issued token
func (m *Metrics) IncTokensIssued() {
	if m == nil {
		return
	}
	m.tokensIssued.Inc()
}

// IncLedgerAppends counts an appended ledger entry
func (m *Metrics) IncLedgerAppends(eventType string) {
	if m == nil {
		return
	}
	m.ledgerAppends.WithLabelValues(eventType).Inc()
}

// IncLedgerVerifyFailures counts a failed chain verification
func (m *Metrics) IncLedgerVerifyFailures() {
	if m == nil {
		return
	}
	m.ledgerVerifyFailures.Inc()
}

// IncReportsFinalized counts a finalized report
func (m *Metrics) IncReportsFinalized() {
	if m == nil {
		return
	}
	m.reportsFinalized.Inc()
}

// IncNotifyFailures counts a failed owner notification
func (m *Metrics) IncNotifyFailures() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}
