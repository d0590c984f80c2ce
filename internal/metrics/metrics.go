package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	InboundMessages  *prometheus.CounterVec
	OutboundMessages *prometheus.CounterVec
	LLMRequests      *prometheus.CounterVec
	LLMLatency       *prometheus.HistogramVec
	LLMTokens        *prometheus.CounterVec
	PriceFetches     *prometheus.CounterVec
	StockLookups     *prometheus.CounterVec
	QuerySessions    *prometheus.CounterVec
	CostRecorded     *prometheus.CounterVec
	Errors           *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			InboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inbound_messages_total",
				Help:      "Total inbound chat messages by platform.",
			}, []string{"platform"}),
			OutboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbound_messages_total",
				Help:      "Total outbound chat messages by platform.",
			}, []string{"platform"}),
			LLMRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_requests_total",
				Help:      "Total LLM provider requests by provider and outcome.",
			}, []string{"provider", "status"}),
			LLMLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "llm_request_duration_seconds",
				Help:      "Latency distribution for LLM provider calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"provider", "status"}),
			LLMTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_tokens_total",
				Help:      "Total tokens billed per provider and direction.",
			}, []string{"provider", "direction"}),
			PriceFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metal_price_fetches_total",
				Help:      "Total spot price fetches by metal and outcome.",
			}, []string{"metal", "status"}),
			StockLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stock_lookups_total",
				Help:      "Total ERP stock lookups by outcome.",
			}, []string{"status"}),
			QuerySessions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_sessions_total",
				Help:      "Total query sessions by intent and response type.",
			}, []string{"query_type", "response_type"}),
			CostRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cost_events_total",
				Help:      "Total cost events written by event type.",
			}, []string{"event_type"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.InboundMessages,
			metricsInstance.OutboundMessages,
			metricsInstance.LLMRequests,
			metricsInstance.LLMLatency,
			metricsInstance.LLMTokens,
			metricsInstance.PriceFetches,
			metricsInstance.StockLookups,
			metricsInstance.QuerySessions,
			metricsInstance.CostRecorded,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
