package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the import pipeline.
type Metrics struct {
	PagesFetched     prometheus.Counter
	RecordsProcessed prometheus.Counter
	StationsImported prometheus.Counter
	StationsSkipped  *prometheus.CounterVec // label: reason
	ImportDuration   prometheus.Histogram
}

// NewMetrics creates the pipeline metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hydrod",
			Name:      "pages_fetched_total",
			Help:      "Total station pages fetched from the upstream API.",
		}),
		RecordsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hydrod",
			Name:      "records_processed_total",
			Help:      "Total flat station records processed.",
		}),
		StationsImported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hydrod",
			Name:      "stations_imported_total",
			Help:      "Total station rows written (or confirmed present).",
		}),
		StationsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hydrod",
			Name:      "stations_skipped_total",
			Help:      "Total station records dropped during validation or insert.",
		}, []string{"reason"}),
		ImportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hydrod",
			Name:      "import_duration_seconds",
			Help:      "Wall-clock duration of full import runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}

	reg.MustRegister(
		m.PagesFetched,
		m.RecordsProcessed,
		m.StationsImported,
		m.StationsSkipped,
		m.ImportDuration,
	)
	return m
}
