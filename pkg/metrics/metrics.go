package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RecordsAppended        *prometheus.CounterVec
	AppendFailures         *prometheus.CounterVec
	WatermarkAdvances      prometheus.Counter
	WatermarkFailures      prometheus.Counter
	WebhookDeliveries      *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	SummarizeDuration      prometheus.Histogram
}

// NewMetrics registers the inbox collectors on reg. Pass
// prometheus.DefaultRegisterer in the binary and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RecordsAppended: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_records_appended_total",
			Help: "Total number of event records appended to customer logs",
		}, []string{"direction"}),
		AppendFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_append_failures_total",
			Help: "Total number of event records that could not be appended",
		}, []string{"direction"}),
		WatermarkAdvances: factory.NewCounter(prometheus.CounterOpts{
			Name: "inbox_watermark_advances_total",
			Help: "Total number of watermark writes triggered by chat views",
		}),
		WatermarkFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "inbox_watermark_failures_total",
			Help: "Total number of watermark writes that failed",
		}),
		WebhookDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_webhook_deliveries_total",
			Help: "Total number of webhook deliveries by outcome",
		}, []string{"outcome"}),
		StoreOperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inbox_store_operation_duration_seconds",
			Help:    "Time taken for log and watermark store operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		SummarizeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "inbox_summarize_duration_seconds",
			Help:    "Time taken to summarize one customer",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
