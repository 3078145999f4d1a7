package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "converge"

var (
	registry *prometheus.Registry

	resourcesApplied *prometheus.CounterVec
	resourcesPurged  *prometheus.CounterVec
	batchSplits      *prometheus.CounterVec
	pipelineBatches  *prometheus.CounterVec
)

func init() {
	registry = prometheus.NewRegistry()

	resourcesApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resources_applied_total",
		Help:      "Resources applied to the backend, by kind and action.",
	}, []string{"kind", "action"})

	resourcesPurged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resources_purged_total",
		Help:      "Resources deleted during purge runs, by kind.",
	}, []string{"kind"})

	batchSplits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "delete_batch_splits_total",
		Help:      "Delete batches bisected after a retryable timeout, by kind.",
	}, []string{"kind"})

	pipelineBatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_batches_total",
		Help:      "Batches completed per pipeline stage.",
	}, []string{"stage"})

	registry.MustRegister(resourcesApplied, resourcesPurged, batchSplits, pipelineBatches)
}

func ResourcesApplied(kind string, action string, count int) {
	resourcesApplied.WithLabelValues(kind, action).Add(float64(count))
}

func ResourcesPurged(kind string, count int) {
	resourcesPurged.WithLabelValues(kind).Add(float64(count))
}

func BatchSplit(kind string) {
	batchSplits.WithLabelValues(kind).Inc()
}

func PipelineBatch(stage string) {
	pipelineBatches.WithLabelValues(stage).Inc()
}

func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
