package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL pipeline.
type Metrics struct {
	SamplesConsumed prometheus.Counter
	RecordsProduced prometheus.Counter
	TransformErrors prometheus.Counter
	SamplesFiltered prometheus.Counter
	PipelineRunning prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Quality control metrics.
	QCRejections *prometheus.CounterVec // labels: variable, reason={unknown_variable,unparseable,out_of_range}

	// Marine data store client metrics.
	StoreRequests    *prometheus.CounterVec   // labels: op={describe,subset}, outcome={success,error}
	StoreCache       *prometheus.CounterVec   // labels: result={hit,miss}
	StoreAPIDuration *prometheus.HistogramVec // labels: op={describe,subset}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		SamplesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ocean_twin",
			Name:      "samples_consumed_total",
			Help:      "Total raw samples read from the source topic.",
		}),
		RecordsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ocean_twin",
			Name:      "records_produced_total",
			Help:      "Total tile records written to the sinks.",
		}),
		TransformErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ocean_twin",
			Name:      "transform_errors_total",
			Help:      "Total transformation failures.",
		}),
		SamplesFiltered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ocean_twin",
			Name:      "samples_filtered_total",
			Help:      "Total samples filtered out, such as land tiles.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ocean_twin",
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ocean_twin",
			Name:      "batch_size",
			Help:      "Number of samples per batch extracted from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ocean_twin",
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch extract-transform-load cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		QCRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ocean_twin",
			Name:      "qc_rejections_total",
			Help:      "Variable values rejected by quality control, by variable and reason.",
		}, []string{"variable", "reason"}),
		StoreRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ocean_twin",
			Name:      "store_requests_total",
			Help:      "Marine data store API requests by operation and outcome.",
		}, []string{"op", "outcome"}),
		StoreCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ocean_twin",
			Name:      "store_cache_total",
			Help:      "Product description cache lookups by result.",
		}, []string{"result"}),
		StoreAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ocean_twin",
			Name:      "store_api_duration_seconds",
			Help:      "Marine data store request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"op"}),
	}

	prometheus.MustRegister(
		m.SamplesConsumed,
		m.RecordsProduced,
		m.TransformErrors,
		m.SamplesFiltered,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.QCRejections,
		m.StoreRequests,
		m.StoreCache,
		m.StoreAPIDuration,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		SamplesConsumed:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: "ocean_twin", Name: "samples_consumed_total"}),
		RecordsProduced:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: "ocean_twin", Name: "records_produced_total"}),
		TransformErrors:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: "ocean_twin", Name: "transform_errors_total"}),
		SamplesFiltered:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: "ocean_twin", Name: "samples_filtered_total"}),
		PipelineRunning:         prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "ocean_twin", Name: "pipeline_running"}),
		BatchSize:               prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "ocean_twin", Name: "batch_size"}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "ocean_twin", Name: "batch_processing_duration_seconds"}),
		QCRejections:            prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "ocean_twin", Name: "qc_rejections_total"}, []string{"variable", "reason"}),
		StoreRequests:           prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "ocean_twin", Name: "store_requests_total"}, []string{"op", "outcome"}),
		StoreCache:              prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "ocean_twin", Name: "store_cache_total"}, []string{"result"}),
		StoreAPIDuration:        prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: "ocean_twin", Name: "store_api_duration_seconds"}, []string{"op"}),
	}
}
