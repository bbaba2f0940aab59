package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/seanankenbruck/database-ai/internal/config"
	"github.com/seanankenbruck/database-ai/internal/observability"
)

const (
	eventTraceCreate      = "trace-create"
	eventSpanCreate       = "span-create"
	eventSpanUpdate       = "span-update"
	eventGenerationCreate = "generation-create"
	eventScoreCreate      = "score-create"
)

const (
	defaultFlushInterval = 5 * time.Second
	defaultBatchSize     = 50
	maxBufferedEvents    = 1000
)

// event is one entry in an ingestion batch
type event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	Body      interface{} `json:"body"`
}

type ingestionRequest struct {
	Batch []event `json:"batch"`
}

type ingestionResponse struct {
	Successes []struct {
		ID     string `json:"id"`
		Status int    `json:"status"`
	} `json:"successes"`
	Errors []struct {
		ID      string `json:"id"`
		Status  int    `json:"status"`
		Message string `json:"message"`
	} `json:"errors"`
}

type traceBody struct {
	ID        string      `json:"id"`
	Name      string      `json:"name,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
	Input     interface{} `json:"input,omitempty"`
	Output    interface{} `json:"output,omitempty"`
}

type spanBody struct {
	ID        string      `json:"id"`
	TraceID   string      `json:"traceId"`
	Name      string      `json:"name,omitempty"`
	StartTime string      `json:"startTime,omitempty"`
	EndTime   string      `json:"endTime,omitempty"`
	Input     interface{} `json:"input,omitempty"`
	Output    interface{} `json:"output,omitempty"`
}

type generationBody struct {
	ID        string           `json:"id"`
	TraceID   string           `json:"traceId"`
	Name      string           `json:"name,omitempty"`
	Model     string           `json:"model,omitempty"`
	StartTime string           `json:"startTime,omitempty"`
	EndTime   string           `json:"endTime,omitempty"`
	Input     interface{}      `json:"input,omitempty"`
	Output    interface{}      `json:"output,omitempty"`
	Usage     *generationUsage `json:"usage,omitempty"`
}

type generationUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

type scoreBody struct {
	ID      string  `json:"id"`
	TraceID string  `json:"traceId"`
	Name    string  `json:"name"`
	Value   float64 `json:"value"`
	Comment string  `json:"comment,omitempty"`
}

// LangfuseExporter buffers trace events and ships them in batches to a
// Langfuse-compatible ingestion endpoint. Export is best-effort: a batch that
// cannot be delivered is dropped, never retried into the request path.
type LangfuseExporter struct {
	host       string
	publicKey  string
	secretKey  string
	httpClient *http.Client
	logger     *observability.Logger

	mu      sync.Mutex
	pending []event

	flushInterval time.Duration
	done          chan struct{}
	closeOnce     sync.Once
	wg            sync.WaitGroup
}

// NewLangfuseExporter creates an exporter and starts its background flush loop
func NewLangfuseExporter(cfg config.LangfuseConfig, logger *observability.Logger) *LangfuseExporter {
	if logger == nil {
		logger = observability.NewLogger("trace")
	}

	e := &LangfuseExporter{
		host:      strings.TrimSuffix(cfg.Host, "/"),
		publicKey: cfg.PublicKey,
		secretKey: cfg.SecretKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:        logger,
		flushInterval: defaultFlushInterval,
		done:          make(chan struct{}),
	}

	e.wg.Add(1)
	go e.flushLoop()

	return e
}

// enqueue buffers one event for the next flush. The buffer is bounded; when
// full, the oldest event is dropped.
func (e *LangfuseExporter) enqueue(ev event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.pending) >= maxBufferedEvents {
		e.pending = e.pending[1:]
		observability.GetGlobalMetrics().Inc(observability.MetricTraceExportFailures, map[string]string{
			"reason": "buffer_full",
		})
	}

	e.pending = append(e.pending, ev)
	observability.GetGlobalMetrics().Inc(observability.MetricTraceEvents, nil)
}

func (e *LangfuseExporter) pendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func (e *LangfuseExporter) flushLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := e.Flush(context.Background()); err != nil {
				e.logger.Warn(context.Background(), "Trace export failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		case <-e.done:
			return
		}
	}
}

// Flush sends all buffered events in batches
func (e *LangfuseExporter) Flush(ctx context.Context) error {
	for {
		batch := e.takeBatch()
		if len(batch) == 0 {
			return nil
		}

		if err := e.send(ctx, batch); err != nil {
			observability.GetGlobalMetrics().Inc(observability.MetricTraceExportFailures, map[string]string{
				"reason": "send",
			})
			return err
		}
	}
}

func (e *LangfuseExporter) takeBatch() []event {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.pending) == 0 {
		return nil
	}

	n := len(e.pending)
	if n > defaultBatchSize {
		n = defaultBatchSize
	}

	batch := make([]event, n)
	copy(batch, e.pending[:n])
	e.pending = e.pending[n:]

	return batch
}

func (e *LangfuseExporter) send(ctx context.Context, batch []event) error {
	payload, err := json.Marshal(ingestionRequest{Batch: batch})
	if err != nil {
		return fmt.Errorf("failed to marshal trace batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.host+"/api/public/ingestion", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.SetBasicAuth(e.publicKey, e.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	// The ingestion endpoint answers 207 when some events fail
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusMultiStatus {
		return fmt.Errorf("ingestion failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result ingestionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if len(result.Errors) > 0 {
		return fmt.Errorf("ingestion rejected %d events: %s", len(result.Errors), result.Errors[0].Message)
	}

	return nil
}

// Close stops the flush loop and delivers any remaining events
func (e *LangfuseExporter) Close() error {
	e.closeOnce.Do(func() {
		close(e.done)
	})
	e.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return e.Flush(ctx)
}
