package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	processorDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playout_processor_dispatch_total",
		Help: "Processor placeholder dispatches by instance and outcome",
	}, []string{"processor", "outcome"})

	processorDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playout_processor_dispatch_duration_seconds",
		Help:    "Time spent in a processor's Handle",
		Buckets: prometheus.DefBuckets,
	}, []string{"processor"})

	fillSelections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playout_fill_selections_total",
		Help: "Fill content selections by instance and outcome (picked, empty, error)",
	}, []string{"instance", "outcome"})

	shunts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playout_shunt_total",
		Help: "Shunt invocations by direction (forward, backward, conflict)",
	}, []string{"direction"})

	shuntOffset = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "playout_shunt_offset_seconds",
		Help:    "Absolute offset requested per shunt",
		Buckets: []float64{1, 5, 10, 30, 60, 300, 900, 1800, 3600},
	})

	agingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playout_bucket_aging_runs_total",
		Help: "Rotation bucket aging passes by fill instance and outcome",
	}, []string{"instance", "outcome"})

	eventOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playout_events_total",
		Help: "Committed event operations (create, update, delete, release)",
	}, []string{"op"})
)

// RecordDispatch counts one processor dispatch; d is zero when no handler ran.
func RecordDispatch(processor, outcome string, d time.Duration) {
	processorDispatches.WithLabelValues(processor, outcome).Inc()
	if d > 0 {
		processorDuration.WithLabelValues(processor).Observe(d.Seconds())
	}
}

func RecordFillSelection(instance, outcome string) {
	fillSelections.WithLabelValues(instance, outcome).Inc()
}

// RecordShunt counts a shunt by the sign of its offset.
func RecordShunt(offset int64, conflict bool) {
	switch {
	case conflict:
		shunts.WithLabelValues("conflict").Inc()
	case offset < 0:
		shunts.WithLabelValues("backward").Inc()
	default:
		shunts.WithLabelValues("forward").Inc()
	}
	if offset < 0 {
		offset = -offset
	}
	shuntOffset.Observe(float64(offset))
}

func RecordAging(instance string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	agingRuns.WithLabelValues(instance, outcome).Inc()
}

func RecordEventOp(op string) {
	eventOps.WithLabelValues(op).Inc()
}
