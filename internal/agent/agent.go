// Package agent orchestrates the natural language query pipeline: route a
// question to a store, generate a structured query, execute it, and carry the
// conversation history forward. ProcessQuery is total: every failure mode is
// reported inside the QueryResult, never as a Go error or a panic.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/seanankenbruck/database-ai/internal/config"
	"github.com/seanankenbruck/database-ai/internal/format"
	"github.com/seanankenbruck/database-ai/internal/llm"
	"github.com/seanankenbruck/database-ai/internal/memory"
	"github.com/seanankenbruck/database-ai/internal/mongogen"
	"github.com/seanankenbruck/database-ai/internal/observability"
	"github.com/seanankenbruck/database-ai/internal/query"
	"github.com/seanankenbruck/database-ai/internal/sqlgen"
	"github.com/seanankenbruck/database-ai/internal/store"
	"github.com/seanankenbruck/database-ai/internal/trace"
)

const (
	defaultMaxRows      = 1000
	similarExampleLimit = 3
	maxSuggestions      = 10
)

// Executor runs validated queries against the backing stores.
// *store.Dispatcher is the production implementation.
type Executor interface {
	ExecuteQuery(ctx context.Context, q query.Structured) (*store.Result, error)
	Context(ctx context.Context, kind store.Kind) (string, error)
	Available(ctx context.Context) []store.Kind
	Close(ctx context.Context) error
}

// Memory recalls and records past question/query pairs for few-shot prompts.
// *memory.Store is the production implementation.
type Memory interface {
	FindSimilar(ctx context.Context, question, store string, limit int) ([]memory.Example, error)
	Record(ctx context.Context, question, store, queryText string) error
}

// QueryResult is the complete outcome of one question. On failure, Error
// carries the reason and Suggestion optionally tells the user what might
// help; Success stays false and no rows are attached.
type QueryResult struct {
	Success     bool                     `json:"success"`
	Question    string                   `json:"question"`
	Store       string                   `json:"store,omitempty"`
	SQL         string                   `json:"sql,omitempty"`
	MongoQuery  map[string]interface{}   `json:"mongo_query,omitempty"`
	Explanation string                   `json:"explanation,omitempty"`
	Rows        []map[string]interface{} `json:"rows,omitempty"`
	RowCount    int                      `json:"row_count"`
	Error       string                   `json:"error,omitempty"`
	Suggestion  string                   `json:"suggestion,omitempty"`
}

// Config assembles an Agent. Dispatcher and LLM are required for useful
// operation; Memory and Tracer are optional.
type Config struct {
	Dispatcher Executor
	LLM        llm.Client
	Memory     Memory
	Tracer     *trace.Tracer
	SessionID  string
	MaxRows    int
	BlockedSQL []string
}

// Agent holds one conversation. It is not safe for concurrent use; callers
// serialize access per session.
type Agent struct {
	executor  Executor
	llm       llm.Client
	memory    Memory
	tracer    *trace.Tracer
	logger    *observability.Logger
	intents   *IntentClassifier
	llmRouter *LLMRouter

	sessionID string
	maxRows   int
	blocked   []string
	available []store.Kind

	history  []llm.Message
	sqlGen   *sqlgen.Generator
	mongoGen *mongogen.Generator

	closeOnce sync.Once
	closeErr  error
}

// New probes the dispatcher for available stores and assembles an agent.
// Generators are constructed lazily on first use because they need schema
// text from their store.
func New(ctx context.Context, cfg Config) *Agent {
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = trace.NewNoop()
	}
	maxRows := cfg.MaxRows
	if maxRows <= 0 {
		maxRows = defaultMaxRows
	}
	blocked := cfg.BlockedSQL
	if len(blocked) == 0 {
		blocked = config.DefaultBlockedSQLKeywords
	}

	var available []store.Kind
	if cfg.Dispatcher != nil {
		available = cfg.Dispatcher.Available(ctx)
	}

	return &Agent{
		executor:  cfg.Dispatcher,
		llm:       cfg.LLM,
		memory:    cfg.Memory,
		tracer:    tracer,
		logger:    observability.NewLogger("agent"),
		intents:   NewIntentClassifier(),
		llmRouter: NewLLMRouter(cfg.LLM, available),
		sessionID: cfg.SessionID,
		maxRows:   maxRows,
		blocked:   blocked,
		available: available,
	}
}

type queryOptions struct {
	userID string
}

// QueryOption customizes a single ProcessQuery call
type QueryOption func(*queryOptions)

// WithUserID tags the request context and its log lines with a user
// identifier
func WithUserID(id string) QueryOption {
	return func(o *queryOptions) { o.userID = id }
}

// ProcessQuery answers one natural language question end to end: route,
// generate, execute. The conversation history is appended only when the
// whole pipeline succeeds, so a failed question leaves no residue in later
// prompts.
func (a *Agent) ProcessQuery(ctx context.Context, question string, opts ...QueryOption) (result QueryResult) {
	var options queryOptions
	for _, opt := range opts {
		opt(&options)
	}
	if options.userID != "" {
		ctx = observability.WithUserID(ctx, options.userID)
	}
	if a.sessionID != "" {
		ctx = observability.WithSessionID(ctx, a.sessionID)
	}

	start := time.Now()
	result = QueryResult{Question: question}
	errorStage := ""

	intent := a.intents.Classify(question)
	tr := a.tracer.StartTrace("database_query", a.sessionID, question)

	defer func() {
		if r := recover(); r != nil {
			reason := fmt.Sprintf("%v", r)
			result = QueryResult{Question: question, Store: result.Store, Error: reason}
			errorStage = "internal"
			a.logger.Error(ctx, "Query processing panicked", fmt.Errorf("%s", reason), map[string]interface{}{
				"question": question,
			})
			a.tracer.LogScore(tr, "query_success", 0.0, reason)
		}
		observability.RecordQueryMetrics(result.Store, time.Since(start), result.Success, errorStage)
		a.tracer.EndTrace(tr, map[string]interface{}{
			"success":   result.Success,
			"row_count": result.RowCount,
		})
	}()

	routeSpan := a.tracer.StartSpan(tr, "query_routing", map[string]interface{}{"question": question})
	decision := FastRoute(question, a.available)
	a.tracer.EndSpan(routeSpan, decision)
	observability.RecordRouteMetrics(string(decision.Store), "keyword")
	result.Store = string(decision.Store)

	a.logger.Debug(ctx, "Routed question", map[string]interface{}{
		"store":      string(decision.Store),
		"confidence": decision.Confidence,
		"intent":     intent,
	})

	genSpan := a.tracer.StartSpan(tr, "query_generation", map[string]interface{}{"store": string(decision.Store)})
	generated := a.generate(ctx, decision.Store, question)
	a.tracer.EndSpan(genSpan, map[string]interface{}{"success": !generated.IsFailure()})

	if generated.IsFailure() {
		result.Error = generated.Failure.Message
		if result.Error == "" {
			result.Error = "Failed to generate query"
		}
		result.Suggestion = generated.Failure.Suggestion
		errorStage = "generation"
		a.tracer.LogScore(tr, "query_success", 0.0, "Generation failed")
		return result
	}

	result.Explanation = generated.Explanation
	switch generated.Variant {
	case query.VariantSQL:
		result.SQL = generated.SQL.Text
	case query.VariantDocument:
		result.MongoQuery = mongogen.QueryDocument(*generated.Document)
	}

	execSpan := a.tracer.StartSpan(tr, "query_execution", map[string]interface{}{"store": string(decision.Store)})
	outcome, err := a.executor.ExecuteQuery(ctx, generated)
	if err != nil {
		a.tracer.EndSpan(execSpan, map[string]interface{}{"error": err.Error()})
		result.Error = err.Error()
		if result.Error == "" {
			result.Error = "Query execution failed"
		}
		errorStage = "execution"
		a.tracer.LogScore(tr, "query_success", 0.0, "Execution failed")
		a.logger.Warn(ctx, "Query execution failed", map[string]interface{}{
			"store": string(decision.Store),
			"error": err.Error(),
		})
		return result
	}
	a.tracer.EndSpan(execSpan, map[string]interface{}{"row_count": outcome.RowCount})

	result.Success = true
	result.Rows = outcome.Rows
	result.RowCount = outcome.RowCount

	a.history = append(a.history,
		llm.Message{Role: "user", Content: question},
		llm.Message{Role: "assistant", Content: fmt.Sprintf("Returned %d rows", outcome.RowCount)},
	)
	a.remember(ctx, question, decision.Store, generated)

	observability.GetGlobalMetrics().Add(observability.MetricChatRowsReturned, float64(outcome.RowCount), map[string]string{
		"store": string(decision.Store),
	})
	a.tracer.LogScore(tr, "query_success", 1.0, "Success")

	a.logger.Info(ctx, "Query processed", map[string]interface{}{
		"store":       string(decision.Store),
		"row_count":   outcome.RowCount,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return result
}

// generate produces a structured query on the routed store's generator.
// Generation is total: an unavailable generator or an LLM error comes back
// as a failure variant, never a Go error.
func (a *Agent) generate(ctx context.Context, kind store.Kind, question string) query.Structured {
	examples := a.recall(ctx, question, kind)

	switch kind {
	case store.KindMongo:
		gen := a.mongoGenerator(ctx)
		if gen == nil {
			return query.NewFailure("MongoDB not available", "")
		}
		return gen.Generate(ctx, question, a.history, examples)
	default:
		gen := a.sqlGenerator(ctx)
		if gen == nil {
			return query.NewFailure("PostgreSQL not available", "")
		}
		return gen.Generate(ctx, question, a.history, examples)
	}
}

func (a *Agent) recall(ctx context.Context, question string, kind store.Kind) []memory.Example {
	if a.memory == nil {
		return nil
	}
	examples, err := a.memory.FindSimilar(ctx, question, string(kind), similarExampleLimit)
	if err != nil {
		a.logger.Debug(ctx, "Similar query lookup failed", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return examples
}

// remember stores the executed query for future few-shot prompts. Recording
// is best-effort: a memory failure never fails the request that produced the
// query.
func (a *Agent) remember(ctx context.Context, question string, kind store.Kind, generated query.Structured) {
	if a.memory == nil {
		return
	}

	var queryText string
	switch generated.Variant {
	case query.VariantSQL:
		queryText = generated.SQL.Text
	case query.VariantDocument:
		queryText = format.MongoQuery(mongogen.QueryDocument(*generated.Document))
	default:
		return
	}

	if err := a.memory.Record(ctx, question, string(kind), queryText); err != nil {
		a.logger.Debug(ctx, "Query memory record failed", map[string]interface{}{"error": err.Error()})
	}
}

// sqlGenerator memoizes the SQL generator. Construction needs schema text
// from the store; if the store is absent or introspection fails the accessor
// returns nil and the caller reports PostgreSQL unavailable.
func (a *Agent) sqlGenerator(ctx context.Context) *sqlgen.Generator {
	if a.sqlGen != nil {
		return a.sqlGen
	}
	if a.executor == nil || !hasStore(a.available, store.KindPostgres) {
		return nil
	}
	schema, err := a.executor.Context(ctx, store.KindPostgres)
	if err != nil {
		a.logger.Warn(ctx, "PostgreSQL schema introspection failed", map[string]interface{}{"error": err.Error()})
		return nil
	}
	a.sqlGen = sqlgen.New(a.llm, a.tracer, schema, a.maxRows, a.blocked)
	return a.sqlGen
}

// mongoGenerator memoizes the MongoDB generator, mirroring sqlGenerator
func (a *Agent) mongoGenerator(ctx context.Context) *mongogen.Generator {
	if a.mongoGen != nil {
		return a.mongoGen
	}
	if a.executor == nil || !hasStore(a.available, store.KindMongo) {
		return nil
	}
	schema, err := a.executor.Context(ctx, store.KindMongo)
	if err != nil {
		a.logger.Warn(ctx, "MongoDB schema introspection failed", map[string]interface{}{"error": err.Error()})
		return nil
	}
	a.mongoGen = mongogen.New(a.llm, a.tracer, schema, a.maxRows)
	return a.mongoGen
}

// RouteWithLLM asks the model for a schema-aware routing decision instead of
// the keyword heuristic. Not part of the ProcessQuery path.
func (a *Agent) RouteWithLLM(ctx context.Context, question string) RouteDecision {
	var b strings.Builder
	if a.executor != nil {
		for _, kind := range a.available {
			text, err := a.executor.Context(ctx, kind)
			if err != nil {
				continue
			}
			b.WriteString(text)
			b.WriteString("\n")
		}
	}
	decision := a.llmRouter.Route(ctx, question, b.String())
	observability.RecordRouteMetrics(string(decision.Store), "llm")
	return decision
}

// SuggestedQuestions returns starter questions drawn from every available
// store's generator, capped at 10. Blank lines from the model are dropped.
func (a *Agent) SuggestedQuestions(ctx context.Context) []string {
	observability.GetGlobalMetrics().Inc(observability.MetricSuggestionRequests, nil)

	var raw []string
	if gen := a.sqlGenerator(ctx); gen != nil {
		raw = append(raw, gen.SuggestQueries(ctx)...)
	}
	if gen := a.mongoGenerator(ctx); gen != nil {
		raw = append(raw, gen.SuggestQueries(ctx)...)
	}

	suggestions := make([]string, 0, len(raw))
	for _, s := range raw {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			suggestions = append(suggestions, trimmed)
		}
	}
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	return suggestions
}

// History returns a copy of the conversation history
func (a *Agent) History() []llm.Message {
	out := make([]llm.Message, len(a.history))
	copy(out, a.history)
	return out
}

// ClearHistory drops the conversation history. Safe to call repeatedly.
func (a *Agent) ClearHistory() {
	a.history = nil
}

// AvailableStores lists the stores that were reachable when the agent was
// assembled
func (a *Agent) AvailableStores() []store.Kind {
	out := make([]store.Kind, len(a.available))
	copy(out, a.available)
	return out
}

// SessionID returns the identifier this agent's traces are grouped under
func (a *Agent) SessionID() string {
	return a.sessionID
}

// Close releases the store handles. Later calls return the first close
// result. Callers that share one dispatcher across agents own its lifecycle
// themselves and skip Close here.
func (a *Agent) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		if a.executor != nil {
			a.closeErr = a.executor.Close(ctx)
		}
	})
	return a.closeErr
}
