package observability

import (
	"sort"
	"strconv"
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// Metric represents a single metric
type Metric struct {
	Name      string                 `json:"name"`
	Type      MetricType             `json:"type"`
	Value     float64                `json:"value"`
	Labels    map[string]string      `json:"labels,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// MetricsCollector collects and stores application metrics
type MetricsCollector struct {
	mu      sync.RWMutex
	metrics map[string]*Metric
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics: make(map[string]*Metric),
	}
}

// metricKey generates a unique key for a metric. Label keys are sorted so
// the same label set always maps to the same series.
func metricKey(name string, labels map[string]string) string {
	key := name
	if len(labels) > 0 {
		names := make([]string, 0, len(labels))
		for k := range labels {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			key += "." + k + "=" + labels[k]
		}
	}
	return key
}

// Inc increments a counter metric
func (mc *MetricsCollector) Inc(name string, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := metricKey(name, labels)
	if metric, exists := mc.metrics[key]; exists {
		metric.Value++
		metric.Timestamp = time.Now()
	} else {
		mc.metrics[key] = &Metric{
			Name:      name,
			Type:      MetricTypeCounter,
			Value:     1,
			Labels:    labels,
			Timestamp: time.Now(),
		}
	}
}

// Add adds a value to a counter metric
func (mc *MetricsCollector) Add(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := metricKey(name, labels)
	if metric, exists := mc.metrics[key]; exists {
		metric.Value += value
		metric.Timestamp = time.Now()
	} else {
		mc.metrics[key] = &Metric{
			Name:      name,
			Type:      MetricTypeCounter,
			Value:     value,
			Labels:    labels,
			Timestamp: time.Now(),
		}
	}
}

// Set sets a gauge metric value
func (mc *MetricsCollector) Set(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := metricKey(name, labels)
	mc.metrics[key] = &Metric{
		Name:      name,
		Type:      MetricTypeGauge,
		Value:     value,
		Labels:    labels,
		Timestamp: time.Now(),
	}
}

// Observe records a histogram observation
func (mc *MetricsCollector) Observe(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := metricKey(name, labels)
	if metric, exists := mc.metrics[key]; exists {
		// Tracks count, sum and running average rather than full buckets
		if metric.Extra == nil {
			metric.Extra = make(map[string]interface{})
		}
		count := 1.0
		sum := value
		if c, ok := metric.Extra["count"].(float64); ok {
			count = c + 1
		}
		if s, ok := metric.Extra["sum"].(float64); ok {
			sum = s + value
		}
		metric.Extra["count"] = count
		metric.Extra["sum"] = sum
		metric.Value = sum / count
		metric.Timestamp = time.Now()
	} else {
		mc.metrics[key] = &Metric{
			Name:      name,
			Type:      MetricTypeHistogram,
			Value:     value,
			Labels:    labels,
			Timestamp: time.Now(),
			Extra: map[string]interface{}{
				"count": 1.0,
				"sum":   value,
			},
		}
	}
}

// Get retrieves a metric by name and labels
func (mc *MetricsCollector) Get(name string, labels map[string]string) (*Metric, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	key := metricKey(name, labels)
	metric, exists := mc.metrics[key]
	return metric, exists
}

// GetAll retrieves all metrics
func (mc *MetricsCollector) GetAll() map[string]*Metric {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	result := make(map[string]*Metric, len(mc.metrics))
	for k, v := range mc.metrics {
		result[k] = v
	}
	return result
}

// Reset clears all metrics
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.metrics = make(map[string]*Metric)
}

// Standard metric names
const (
	// Chat pipeline metrics
	MetricChatQueries         = "chat_agent_queries_total"
	MetricChatQueryDuration   = "chat_agent_query_duration_seconds"
	MetricChatQuerySuccess    = "chat_agent_queries_success_total"
	MetricChatQueryFailure    = "chat_agent_queries_failure_total"
	MetricChatSafetyRejection = "chat_agent_safety_rejections_total"
	MetricChatParseFallback   = "chat_agent_parse_fallbacks_total"
	MetricChatRowsReturned    = "chat_agent_rows_returned_total"

	// Routing metrics
	MetricRouteDecisions = "router_decisions_total"

	// LLM metrics
	MetricLLMRequests = "llm_requests_total"
	MetricLLMDuration = "llm_request_duration_seconds"
	MetricLLMTokens   = "llm_tokens_total"
	MetricLLMErrors   = "llm_errors_total"

	// Store metrics
	MetricStoreQueries  = "store_queries_total"
	MetricStoreDuration = "store_query_duration_seconds"
	MetricStoreErrors   = "store_errors_total"

	// Session metrics
	MetricSessionsCreated = "chat_sessions_created_total"
	MetricSessionsEvicted = "chat_sessions_evicted_total"
	MetricSessionsActive  = "chat_sessions_active"

	// Suggestion metrics
	MetricSuggestionRequests  = "suggestion_requests_total"
	MetricSuggestionCacheHits = "suggestion_cache_hits_total"

	// Trace export metrics
	MetricTraceEvents         = "trace_events_total"
	MetricTraceExportFailures = "trace_export_failures_total"

	// Auth metrics
	MetricAuthAttempts = "auth_attempts_total"
	MetricAuthSuccess  = "auth_success_total"
	MetricAuthFailure  = "auth_failure_total"

	// HTTP metrics
	MetricHTTPRequests     = "http_requests_total"
	MetricHTTPDuration     = "http_request_duration_seconds"
	MetricHTTPErrors       = "http_errors_total"
	MetricHTTPResponseSize = "http_response_size_bytes"
)

// Global metrics collector instance
var globalMetrics = NewMetricsCollector()

// GetGlobalMetrics returns the global metrics collector
func GetGlobalMetrics() *MetricsCollector {
	return globalMetrics
}

// RecordQueryMetrics records metrics for one pass through the chat pipeline
func RecordQueryMetrics(store string, duration time.Duration, success bool, errorCode string) {
	metrics := GetGlobalMetrics()

	storeLabels := map[string]string{"store": store}
	metrics.Inc(MetricChatQueries, storeLabels)
	metrics.Observe(MetricChatQueryDuration, duration.Seconds(), storeLabels)

	if success {
		metrics.Inc(MetricChatQuerySuccess, storeLabels)
		return
	}

	failureLabels := map[string]string{"store": store}
	if errorCode != "" {
		failureLabels["error_code"] = errorCode
	}
	metrics.Inc(MetricChatQueryFailure, failureLabels)
}

// RecordRouteMetrics records a routing decision
func RecordRouteMetrics(store string, method string) {
	GetGlobalMetrics().Inc(MetricRouteDecisions, map[string]string{
		"store":  store,
		"method": method,
	})
}

// RecordLLMMetrics records metrics for language model calls
func RecordLLMMetrics(operation string, duration time.Duration, inputTokens, outputTokens int, err error) {
	metrics := GetGlobalMetrics()

	labels := map[string]string{"operation": operation}
	metrics.Inc(MetricLLMRequests, labels)
	metrics.Observe(MetricLLMDuration, duration.Seconds(), labels)

	if inputTokens > 0 {
		metrics.Add(MetricLLMTokens, float64(inputTokens), map[string]string{
			"operation": operation,
			"direction": "input",
		})
	}
	if outputTokens > 0 {
		metrics.Add(MetricLLMTokens, float64(outputTokens), map[string]string{
			"operation": operation,
			"direction": "output",
		})
	}

	if err != nil {
		metrics.Inc(MetricLLMErrors, labels)
	}
}

// RecordStoreMetrics records metrics for store execution operations
func RecordStoreMetrics(store string, operation string, duration time.Duration, err error) {
	metrics := GetGlobalMetrics()

	labels := map[string]string{
		"store":     store,
		"operation": operation,
	}

	metrics.Inc(MetricStoreQueries, labels)
	metrics.Observe(MetricStoreDuration, duration.Seconds(), labels)

	if err != nil {
		metrics.Inc(MetricStoreErrors, labels)
	}
}

// RecordHTTPMetrics records metrics for HTTP requests
func RecordHTTPMetrics(method, path string, statusCode int, duration time.Duration, responseSize int) {
	metrics := GetGlobalMetrics()

	labels := map[string]string{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(statusCode),
	}

	metrics.Inc(MetricHTTPRequests, labels)
	metrics.Observe(MetricHTTPDuration, duration.Seconds(), labels)

	if statusCode >= 400 {
		metrics.Inc(MetricHTTPErrors, labels)
	}

	if responseSize > 0 {
		metrics.Observe(MetricHTTPResponseSize, float64(responseSize), labels)
	}
}
