// Package trace mirrors chat pipeline activity to a Langfuse-compatible
// observability backend. Recording is strictly best-effort: a broken or
// unreachable trace backend must never fail a chat request, so every
// recording method carries its own recover boundary.
package trace

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/seanankenbruck/database-ai/internal/config"
	"github.com/seanankenbruck/database-ai/internal/observability"
)

// Trace identifies one pass through the chat pipeline
type Trace struct {
	ID string
}

// Span identifies one stage inside a trace
type Span struct {
	TraceID string
	ID      string
}

// Generation describes one language model call for trace recording
type Generation struct {
	Name         string
	Model        string
	Prompt       string
	Completion   string
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
}

// Tracer records pipeline activity. A tracer built without Langfuse keys
// hands out valid handles but records nothing.
type Tracer struct {
	exporter *LangfuseExporter
	logger   *observability.Logger
}

// NewTracer creates a tracer. When the Langfuse keys are absent the returned
// tracer is a no-op.
func NewTracer(cfg config.LangfuseConfig, logger *observability.Logger) *Tracer {
	if logger == nil {
		logger = observability.NewLogger("trace")
	}

	t := &Tracer{logger: logger}
	if cfg.Enabled() {
		t.exporter = NewLangfuseExporter(cfg, logger)
	}
	return t
}

// NewNoop returns a tracer that records nothing. Components that accept an
// optional tracer substitute this for nil so call sites stay unconditional.
func NewNoop() *Tracer {
	return &Tracer{logger: observability.NewLogger("trace")}
}

// Enabled reports whether events are actually exported
func (t *Tracer) Enabled() bool {
	return t.exporter != nil
}

// StartTrace opens a trace for one question
func (t *Tracer) StartTrace(name, sessionID, input string) (trace Trace) {
	trace = Trace{ID: uuid.New().String()}
	defer t.guard("StartTrace")

	if t.exporter == nil {
		return trace
	}

	t.exporter.enqueue(newEvent(eventTraceCreate, traceBody{
		ID:        trace.ID,
		Name:      name,
		SessionID: sessionID,
		Timestamp: rfc3339Now(),
		Input:     input,
	}))
	return trace
}

// EndTrace records the final output of a trace. The ingestion endpoint
// upserts traces by ID, so this reuses the trace-create event type.
func (t *Tracer) EndTrace(trace Trace, output interface{}) {
	defer t.guard("EndTrace")

	if t.exporter == nil || trace.ID == "" {
		return
	}

	t.exporter.enqueue(newEvent(eventTraceCreate, traceBody{
		ID:     trace.ID,
		Output: output,
	}))
}

// StartSpan opens a named stage inside a trace
func (t *Tracer) StartSpan(trace Trace, name string, input interface{}) (span Span) {
	span = Span{TraceID: trace.ID, ID: uuid.New().String()}
	defer t.guard("StartSpan")

	if t.exporter == nil || trace.ID == "" {
		return span
	}

	t.exporter.enqueue(newEvent(eventSpanCreate, spanBody{
		ID:        span.ID,
		TraceID:   trace.ID,
		Name:      name,
		StartTime: rfc3339Now(),
		Input:     input,
	}))
	return span
}

// EndSpan closes a span with its output
func (t *Tracer) EndSpan(span Span, output interface{}) {
	defer t.guard("EndSpan")

	if t.exporter == nil || span.ID == "" || span.TraceID == "" {
		return
	}

	t.exporter.enqueue(newEvent(eventSpanUpdate, spanBody{
		ID:      span.ID,
		TraceID: span.TraceID,
		EndTime: rfc3339Now(),
		Output:  output,
	}))
}

// LogGeneration records one language model call
func (t *Tracer) LogGeneration(trace Trace, gen Generation) {
	defer t.guard("LogGeneration")

	if t.exporter == nil || trace.ID == "" {
		return
	}

	end := time.Now().UTC()
	body := generationBody{
		ID:        uuid.New().String(),
		TraceID:   trace.ID,
		Name:      gen.Name,
		Model:     gen.Model,
		StartTime: end.Add(-gen.Duration).Format(time.RFC3339Nano),
		EndTime:   end.Format(time.RFC3339Nano),
		Input:     gen.Prompt,
		Output:    gen.Completion,
	}
	if gen.InputTokens > 0 || gen.OutputTokens > 0 {
		body.Usage = &generationUsage{
			Input:  gen.InputTokens,
			Output: gen.OutputTokens,
		}
	}

	t.exporter.enqueue(newEvent(eventGenerationCreate, body))
}

// LogScore attaches a numeric score to a trace. The comment explains the
// score in the Langfuse UI and may be empty.
func (t *Tracer) LogScore(trace Trace, name string, value float64, comment string) {
	defer t.guard("LogScore")

	if t.exporter == nil || trace.ID == "" {
		return
	}

	t.exporter.enqueue(newEvent(eventScoreCreate, scoreBody{
		ID:      uuid.New().String(),
		TraceID: trace.ID,
		Name:    name,
		Value:   value,
		Comment: comment,
	}))
}

// Flush forces delivery of buffered events
func (t *Tracer) Flush(ctx context.Context) error {
	if t.exporter == nil {
		return nil
	}
	return t.exporter.Flush(ctx)
}

// Close stops the exporter and delivers remaining events
func (t *Tracer) Close() error {
	if t.exporter == nil {
		return nil
	}
	return t.exporter.Close()
}

func (t *Tracer) guard(op string) {
	if r := recover(); r != nil {
		t.logger.Warn(context.Background(), "Recovered from trace recording panic", map[string]interface{}{
			"operation": op,
			"panic":     fmt.Sprintf("%v", r),
		})
	}
}

func newEvent(eventType string, body interface{}) event {
	return event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: rfc3339Now(),
		Body:      body,
	}
}

func rfc3339Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
