// Package metrics exposes registry activity as Prometheus metrics on a
// private registry.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agrireg/internal/model"
)

const namespace = "agrireg"

// Recorder collects operation, audit, filter and sequence metrics.
type Recorder struct {
	registry *prometheus.Registry

	operations    *prometheus.CounterVec
	durations     *prometheus.HistogramVec
	auditFailures *prometheus.CounterVec
	filterFails   prometheus.Counter
	issued        *prometheus.CounterVec
	casRetries    prometheus.Counter
}

// NewRecorder creates a Recorder with its own registry, including the Go
// runtime and process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Registry operations by entity and outcome.",
		}, []string{"op", "entity", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_seconds",
			Help:      "Registry operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		auditFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_append_failures_total",
			Help:      "Audit entries that could not be appended.",
		}, []string{"entity"}),
		filterFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filter_parse_failures_total",
			Help:      "Malformed filter specifications degraded to no filter.",
		}),
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_issued_total",
			Help:      "Sequence codes issued.",
		}, []string{"sequence"}),
		casRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_cas_retries_total",
			Help:      "Lost compare-and-swap rounds while issuing sequence codes.",
		}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.operations,
		r.durations,
		r.auditFailures,
		r.filterFails,
		r.issued,
		r.casRetries,
	)
	return r
}

// OperationDone records one finished operation.
func (r *Recorder) OperationDone(op, entity string, d time.Duration, err error) {
	r.operations.WithLabelValues(op, entity, Status(err)).Inc()
	r.durations.WithLabelValues(op).Observe(d.Seconds())
}

func (r *Recorder) AuditAppendFailed(entity string) {
	r.auditFailures.WithLabelValues(entity).Inc()
}

func (r *Recorder) FilterParseFailed() {
	r.filterFails.Inc()
}

func (r *Recorder) SequenceIssued(sequence string) {
	r.issued.WithLabelValues(sequence).Inc()
}

// CASRetry counts one lost optimistic increment round.
func (r *Recorder) CASRetry() {
	r.casRetries.Inc()
}

// Registry returns the private registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Status reduces an operation error to a low-cardinality label.
func Status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrSessionInvalid):
		return "session_invalid"
	case errors.Is(err, model.ErrEnvelopeInvalid):
		return "envelope_invalid"
	case errors.Is(err, model.ErrValidation):
		return "validation"
	case errors.Is(err, model.ErrReferenceNotFound):
		return "not_found"
	case errors.Is(err, model.ErrDuplicateSequenceCode):
		return "duplicate_code"
	default:
		return "error"
	}
}
