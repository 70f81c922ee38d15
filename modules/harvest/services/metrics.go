package services

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	runsTotal     *prometheus.CounterVec
	createdTotal  *prometheus.CounterVec
	mergedTotal   *prometheus.CounterVec
	warningsTotal *prometheus.CounterVec

	runDuration *prometheus.HistogramVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		runsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "harvest",
			Name:      "runs_total",
			Help:      "Total number of harvest runs.",
		}, []string{"mode", "result"}),
		createdTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "harvest",
			Name:      "created_total",
			Help:      "Total number of target rows created by harvest runs.",
		}, []string{"kind", "phase"}),
		mergedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "harvest",
			Name:      "merged_total",
			Help:      "Total number of effort records merged into a record created earlier in the same run.",
		}, []string{"phase"}),
		warningsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "harvest",
			Name:      "warnings_total",
			Help:      "Total number of data-quality warnings raised by harvest runs.",
		}, []string{"phase"}),
		runDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "harvest",
			Name:      "run_duration_seconds",
			Help:      "Duration of harvest runs.",
			Buckets: []float64{
				0.1, 0.25, 0.5,
				1, 2.5, 5,
				10, 30, 60,
				120, 300, 600,
			},
		}, []string{"mode", "result"}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
