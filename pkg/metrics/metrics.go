package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsLoggedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appevents_logged_total",
			Help: "Total number of events submitted to the coordinator (count)",
		},
		[]string{"status"},
	)

	FilterStageDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appevents_filter_stage_decisions_total",
			Help: "Total number of filter stage outcomes that changed an event (count)",
		},
		[]string{"stage", "result"},
	)

	FilterPipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "appevents_filter_pipeline_duration_ms",
			Help:    "Duration of one pass through the filter pipeline in milliseconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100},
		},
		[]string{"result"},
	)

	FilteringActiveRules = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "appevents_filtering_active_rules",
			Help: "Number of configured entries per filter rule (count)",
		},
		[]string{"rule"},
	)

	BufferedEvents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "appevents_buffered_events",
			Help: "Number of events currently held in in-memory buffers (count)",
		},
	)

	FlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appevents_flushes_total",
			Help: "Total number of buffer flushes (count)",
		},
		[]string{"reason", "status"},
	)

	FlushDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "appevents_flush_duration_ms",
			Help:    "Duration of a flush in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"reason"},
	)

	BufferStoreOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appevents_buffer_store_operations_total",
			Help: "Total number of buffer store operations (count)",
		},
		[]string{"operation", "status"},
	)

	ConfigRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appevents_config_refresh_total",
			Help: "Total number of configuration refresh requests by outcome (count)",
		},
		[]string{"cache", "outcome"},
	)

	ConfigLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "appevents_config_load_duration_ms",
			Help:    "Duration of configuration loads in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"cache", "status"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"service", "strategy", "reason"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessageSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_message_size_bytes",
			Help:    "Size of Kafka messages in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"service", "topic", "direction"},
	)

	KafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag (difference between latest offset and committed offset) (count)",
		},
		[]string{"service", "topic", "partition"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	StoreOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_operations_total",
			Help: "Total number of key-value store operations (count)",
		},
		[]string{"backend", "operation", "status"},
	)

	StoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_ms",
			Help:    "Duration of key-value store operations in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"backend", "operation"},
	)
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			EventsLoggedTotal,
			FilterStageDecisionsTotal,
			FilterPipelineDuration,
			FilteringActiveRules,
			BufferedEvents,
			FlushesTotal,
			FlushDuration,
			BufferStoreOperationsTotal,
			ConfigRefreshTotal,
			ConfigLoadDuration,
			RetryAttemptsTotal,
			DLQMessagesTotal,
			CircuitBreakerState,
			CircuitBreakerRequests,
			CircuitBreakerFailures,
			RateLimitRequestsTotal,
			FallbackUsageTotal,
			KafkaMessagesReadTotal,
			KafkaMessagesWrittenTotal,
			KafkaMessageSizeBytes,
			KafkaConsumerLag,
			KafkaWriteDuration,
			StoreOperationsTotal,
			StoreOperationDuration,
		)
	})
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func IncEventsLogged(status string) {
	EventsLoggedTotal.WithLabelValues(status).Inc()
}

func IncFilterStageDecision(stage, result string) {
	FilterStageDecisionsTotal.WithLabelValues(stage, result).Inc()
}

func ObserveFilterPipelineDuration(duration time.Duration, result string) {
	FilterPipelineDuration.WithLabelValues(result).Observe(ms(duration))
}

func SetFilteringActiveRules(rule string, count int) {
	FilteringActiveRules.WithLabelValues(rule).Set(float64(count))
}

func AddBufferedEvents(delta int) {
	BufferedEvents.Add(float64(delta))
}

func SetBufferedEvents(count int) {
	BufferedEvents.Set(float64(count))
}

func IncFlush(reason, status string) {
	FlushesTotal.WithLabelValues(reason, status).Inc()
}

func ObserveFlushDuration(reason string, duration time.Duration) {
	FlushDuration.WithLabelValues(reason).Observe(ms(duration))
}

func IncBufferStoreOperation(operation, status string) {
	BufferStoreOperationsTotal.WithLabelValues(operation, status).Inc()
}

func IncConfigRefresh(cache, outcome string) {
	ConfigRefreshTotal.WithLabelValues(cache, outcome).Inc()
}

func ObserveConfigLoadDuration(cache, status string, duration time.Duration) {
	ConfigLoadDuration.WithLabelValues(cache, status).Observe(ms(duration))
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaMessageSize(service, topic, direction string, sizeBytes int) {
	KafkaMessageSizeBytes.WithLabelValues(service, topic, direction).Observe(float64(sizeBytes))
}

func SetKafkaConsumerLag(service, topic string, partition int, lag int64) {
	KafkaConsumerLag.WithLabelValues(service, topic, fmt.Sprintf("%d", partition)).Set(float64(lag))
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(ms(duration))
}

func IncStoreOperation(backend, operation, status string) {
	StoreOperationsTotal.WithLabelValues(backend, operation, status).Inc()
}

func ObserveStoreOperationDuration(backend, operation string, duration time.Duration) {
	StoreOperationDuration.WithLabelValues(backend, operation).Observe(ms(duration))
}
