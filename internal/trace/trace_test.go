package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanankenbruck/database-ai/internal/config"
)

type ingestionCapture struct {
	mu       sync.Mutex
	requests []ingestionRequest
	username string
	password string
}

func (c *ingestionCapture) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingestionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		user, pass, _ := r.BasicAuth()

		c.mu.Lock()
		c.requests = append(c.requests, req)
		c.username = user
		c.password = pass
		c.mu.Unlock()

		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, `{"successes":[],"errors":[]}`)
	}
}

func (c *ingestionCapture) allEvents() []event {
	c.mu.Lock()
	defer c.mu.Unlock()

	var events []event
	for _, req := range c.requests {
		events = append(events, req.Batch...)
	}
	return events
}

func (c *ingestionCapture) requestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func newCapturingTracer(t *testing.T) (*Tracer, *ingestionCapture) {
	t.Helper()

	capture := &ingestionCapture{}
	server := httptest.NewServer(capture.handler())
	t.Cleanup(server.Close)

	tracer := NewTracer(config.LangfuseConfig{
		PublicKey: "pk-test",
		SecretKey: "sk-test",
		Host:      server.URL,
	}, nil)
	t.Cleanup(func() { tracer.Close() })

	return tracer, capture
}

func TestNoopTracer(t *testing.T) {
	tracer := NewTracer(config.LangfuseConfig{}, nil)

	assert.False(t, tracer.Enabled())

	trace := tracer.StartTrace("chat_query", "session-1", "how many orders?")
	assert.NotEmpty(t, trace.ID)

	span := tracer.StartSpan(trace, "route", nil)
	assert.NotEmpty(t, span.ID)

	tracer.EndSpan(span, "postgresql")
	tracer.LogGeneration(trace, Generation{Name: "generate_sql", Model: "claude"})
	tracer.LogScore(trace, "query_success", 1.0, "Success")
	tracer.EndTrace(trace, "done")

	assert.NoError(t, tracer.Flush(context.Background()))
	assert.NoError(t, tracer.Close())
}

func TestTracerRecordsLifecycle(t *testing.T) {
	tracer, capture := newCapturingTracer(t)
	require.True(t, tracer.Enabled())

	trace := tracer.StartTrace("chat_query", "session-42", "count events by type")
	span := tracer.StartSpan(trace, "route", "count events by type")
	tracer.EndSpan(span, map[string]interface{}{"store": "mongodb"})
	tracer.LogGeneration(trace, Generation{
		Name:         "generate_mongo",
		Model:        "claude-sonnet-4-20250514",
		Prompt:       "the prompt",
		Completion:   "the completion",
		InputTokens:  120,
		OutputTokens: 40,
	})
	tracer.LogScore(trace, "query_success", 1.0, "Success")
	tracer.EndTrace(trace, "Returned 3 rows")

	require.NoError(t, tracer.Flush(context.Background()))

	events := capture.allEvents()
	require.Len(t, events, 6)

	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
		assert.NotEmpty(t, ev.ID)
		assert.NotEmpty(t, ev.Timestamp)
	}
	assert.Equal(t, []string{
		"trace-create",
		"span-create",
		"span-update",
		"generation-create",
		"score-create",
		"trace-create",
	}, types)

	// Trace body carries session and input
	traceEvent := events[0].Body.(map[string]interface{})
	assert.Equal(t, trace.ID, traceEvent["id"])
	assert.Equal(t, "chat_query", traceEvent["name"])
	assert.Equal(t, "session-42", traceEvent["sessionId"])
	assert.Equal(t, "count events by type", traceEvent["input"])

	// Spans share the trace ID and pair up by span ID
	spanCreate := events[1].Body.(map[string]interface{})
	spanUpdate := events[2].Body.(map[string]interface{})
	assert.Equal(t, trace.ID, spanCreate["traceId"])
	assert.Equal(t, spanCreate["id"], spanUpdate["id"])
	assert.NotEmpty(t, spanCreate["startTime"])
	assert.NotEmpty(t, spanUpdate["endTime"])

	// Generation carries model and token usage
	genEvent := events[3].Body.(map[string]interface{})
	assert.Equal(t, "claude-sonnet-4-20250514", genEvent["model"])
	usage := genEvent["usage"].(map[string]interface{})
	assert.Equal(t, float64(120), usage["input"])
	assert.Equal(t, float64(40), usage["output"])

	// Score carries the numeric value and its comment
	scoreEvent := events[4].Body.(map[string]interface{})
	assert.Equal(t, "query_success", scoreEvent["name"])
	assert.Equal(t, float64(1.0), scoreEvent["value"])
	assert.Equal(t, "Success", scoreEvent["comment"])

	assert.Equal(t, "pk-test", capture.username)
	assert.Equal(t, "sk-test", capture.password)
}

func TestExporterBatchesLargeBacklogs(t *testing.T) {
	tracer, capture := newCapturingTracer(t)

	trace := tracer.StartTrace("chat_query", "", "q")
	for i := 0; i < 59; i++ {
		tracer.LogScore(trace, "query_success", 1.0, "")
	}

	require.NoError(t, tracer.Flush(context.Background()))

	assert.Equal(t, 2, capture.requestCount())
	assert.Len(t, capture.allEvents(), 60)
	assert.Equal(t, 0, tracer.exporter.pendingCount())
}

func TestExporterServerFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer server.Close()

	tracer := NewTracer(config.LangfuseConfig{
		PublicKey: "pk-test",
		SecretKey: "sk-test",
		Host:      server.URL,
	}, nil)
	defer tracer.Close()

	tracer.StartTrace("chat_query", "", "q")

	err := tracer.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestExporterRejectedEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, `{"successes":[],"errors":[{"id":"e1","status":400,"message":"invalid body"}]}`)
	}))
	defer server.Close()

	tracer := NewTracer(config.LangfuseConfig{
		PublicKey: "pk-test",
		SecretKey: "sk-test",
		Host:      server.URL,
	}, nil)
	defer tracer.Close()

	tracer.StartTrace("chat_query", "", "q")

	err := tracer.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid body")
}

func TestExporterBufferIsBounded(t *testing.T) {
	// No flush loop interference: events are only drained by explicit Flush
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"successes":[],"errors":[]}`)
	}))
	defer server.Close()

	exporter := NewLangfuseExporter(config.LangfuseConfig{
		PublicKey: "pk-test",
		SecretKey: "sk-test",
		Host:      server.URL,
	}, nil)
	defer exporter.Close()

	for i := 0; i < maxBufferedEvents+25; i++ {
		exporter.enqueue(newEvent(eventScoreCreate, scoreBody{ID: fmt.Sprintf("s%d", i)}))
	}

	assert.Equal(t, maxBufferedEvents, exporter.pendingCount())
}
