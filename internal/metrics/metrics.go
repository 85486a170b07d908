package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// POSMetrics counts stock-changing transitions and times report builds.
type POSMetrics struct {
	sales          *prometheus.CounterVec
	unitsSold      prometheus.Counter
	restocks       *prometheus.CounterVec
	reportDuration *prometheus.HistogramVec
	reportCache    *prometheus.CounterVec
}

// New registers the POS metrics on the provided registerer. A nil registerer
// yields a recorder whose methods do nothing.
func New(reg prometheus.Registerer) *POSMetrics {
	if reg == nil {
		return &POSMetrics{}
	}
	sales := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_sales_total",
		Help: "Sale attempts by outcome.",
	}, []string{"outcome"})
	unitsSold := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pos_units_sold_total",
		Help: "Units removed from stock by committed sales.",
	})
	restocks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_restocks_total",
		Help: "Restock attempts by outcome.",
	}, []string{"outcome"})
	reportDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pos_report_duration_seconds",
		Help:    "Time spent building report views.",
		Buckets: prometheus.DefBuckets,
	}, []string{"report"})
	reportCache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_report_cache_total",
		Help: "Report cache lookups by result.",
	}, []string{"report", "result"})
	reg.MustRegister(sales, unitsSold, restocks, reportDuration, reportCache)
	return &POSMetrics{
		sales:          sales,
		unitsSold:      unitsSold,
		restocks:       restocks,
		reportDuration: reportDuration,
		reportCache:    reportCache,
	}
}

func (m *POSMetrics) ObserveSale(outcome string, units int) {
	if m == nil || m.sales == nil {
		return
	}
	m.sales.WithLabelValues(normalizeLabel(outcome)).Inc()
	if units > 0 {
		m.unitsSold.Add(float64(units))
	}
}

func (m *POSMetrics) ObserveRestock(outcome string) {
	if m == nil || m.restocks == nil {
		return
	}
	m.restocks.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *POSMetrics) ObserveReport(report string, duration time.Duration) {
	if m == nil || m.reportDuration == nil {
		return
	}
	m.reportDuration.WithLabelValues(normalizeLabel(report)).Observe(duration.Seconds())
}

func (m *POSMetrics) ObserveCache(report string, hit bool) {
	if m == nil || m.reportCache == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.reportCache.WithLabelValues(normalizeLabel(report), result).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
