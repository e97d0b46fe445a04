// Package metrics holds the Prometheus collectors for step evaluation and
// the step log.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stepwise"

var (
	// StepsEvaluated counts engine evaluations by template and chosen policy.
	StepsEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "steps_evaluated_total",
		Help:      "Decision steps evaluated, by template and chosen policy.",
	}, []string{"template", "policy"})

	// StepsSaved counts entries appended to the step log.
	StepsSaved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "steps_saved_total",
		Help:      "Decision steps appended to the step log, by template.",
	}, []string{"template"})

	// ValidationFailures counts form submissions rejected before evaluation.
	ValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "validation_failures_total",
		Help:      "Submissions rejected by template field validation.",
	}, []string{"template"})

	// StoreErrors counts failed store operations.
	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_errors_total",
		Help:      "Step log operations that failed, by operation.",
	}, []string{"op"})
)

// Handler returns the Prometheus exposition handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
