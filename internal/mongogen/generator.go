// Package mongogen converts natural language questions into read-only
// MongoDB queries (find or aggregate). Like its SQL counterpart it is total:
// model failures, unparseable responses, and unsafe operators all come back
// as the failure variant of query.Structured, never as a Go error.
package mongogen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/seanankenbruck/database-ai/internal/format"
	"github.com/seanankenbruck/database-ai/internal/llm"
	"github.com/seanankenbruck/database-ai/internal/memory"
	"github.com/seanankenbruck/database-ai/internal/observability"
	"github.com/seanankenbruck/database-ai/internal/query"
	"github.com/seanankenbruck/database-ai/internal/safety"
	"github.com/seanankenbruck/database-ai/internal/trace"
)

const (
	generateMaxTokens = 2000
	explainMaxTokens  = 500
	suggestMaxTokens  = 500

	historyWindow   = 5
	historyMaxChars = 500
)

// Generator turns questions into MongoDB queries using the configured model
type Generator struct {
	client        llm.Client
	tracer        *trace.Tracer
	logger        *observability.Logger
	schemaContext string
	maxRows       int
}

// generationResponse mirrors the JSON contract stated in the prompt. A null
// query_type discriminator selects the cannot-answer shape. Sort arrives as
// [["field", 1]] pairs per the contract.
type generationResponse struct {
	QueryType   *string                  `json:"query_type"`
	Collection  string                   `json:"collection"`
	Filter      map[string]interface{}   `json:"filter"`
	Projection  map[string]interface{}   `json:"projection"`
	Sort        [][]interface{}          `json:"sort"`
	Limit       int                      `json:"limit"`
	Pipeline    []map[string]interface{} `json:"pipeline"`
	Explanation string                   `json:"explanation"`
	Error       string                   `json:"error"`
	Suggestion  string                   `json:"suggestion"`
}

// New creates a MongoDB query generator. The tracer may be nil.
func New(client llm.Client, tracer *trace.Tracer, schemaContext string, maxRows int) *Generator {
	if tracer == nil {
		tracer = trace.NewNoop()
	}

	return &Generator{
		client:        client,
		tracer:        tracer,
		logger:        observability.NewLogger("mongogen"),
		schemaContext: schemaContext,
		maxRows:       maxRows,
	}
}

// Generate produces a structured MongoDB query for question. History
// provides conversational context and examples provide few-shot guidance
// from the query memory; both are optional.
func (g *Generator) Generate(ctx context.Context, question string, history []llm.Message, examples []memory.Example) query.Structured {
	prompt := g.buildPrompt(question, history, examples)

	tr := g.tracer.StartTrace("mongo_generation", "", question)
	span := g.tracer.StartSpan(tr, "llm_call", map[string]interface{}{"query": question})

	start := time.Now()
	completion, err := g.client.Complete(ctx, llm.Request{Prompt: prompt, MaxTokens: generateMaxTokens})
	duration := time.Since(start)

	if err != nil {
		observability.RecordLLMMetrics("mongo_generation", duration, 0, 0, err)
		g.tracer.EndSpan(span, map[string]interface{}{"error": err.Error()})
		g.tracer.EndTrace(tr, nil)
		g.logger.Warn(ctx, "MongoDB generation call failed", map[string]interface{}{
			"error": err.Error(),
		})
		return query.NewFailure(err.Error(), "")
	}

	observability.RecordLLMMetrics("mongo_generation", duration, completion.Usage.InputTokens, completion.Usage.OutputTokens, nil)
	g.tracer.LogGeneration(tr, trace.Generation{
		Name:         "mongo_generation",
		Model:        completion.Model,
		Prompt:       prompt,
		Completion:   completion.Text,
		InputTokens:  completion.Usage.InputTokens,
		OutputTokens: completion.Usage.OutputTokens,
		Duration:     duration,
	})

	result := g.parseResponse(completion.Text)

	// The filter is screened in find mode, every stage in aggregate mode.
	// An unsafe verdict downgrades the parsed query to a failure.
	if result.Variant == query.VariantDocument {
		var verdict safety.Verdict
		if result.Document.Mode == query.ModeAggregate {
			verdict = safety.ValidatePipeline(result.Document.Pipeline)
		} else {
			verdict = safety.ValidateDocument(result.Document.Filter)
		}

		if !verdict.Safe {
			observability.GetGlobalMetrics().Inc(observability.MetricChatSafetyRejection, map[string]string{"store": "mongodb"})
			result = query.NewFailure(verdict.Reason, "")
		} else {
			result.MarkValidated()
		}
	}

	g.tracer.EndSpan(span, traceOutput(result))
	g.tracer.EndTrace(tr, traceOutput(result))

	if result.Variant == query.VariantDocument {
		g.logger.Debug(ctx, "Generated MongoDB query", map[string]interface{}{
			"collection": result.Document.Collection,
			"mode":       string(result.Document.Mode),
		})
	}

	return result
}

// ExplainQuery produces a plain-language description of a document query.
// Errors degrade to an apologetic message rather than failing the request.
func (g *Generator) ExplainQuery(ctx context.Context, doc query.Document) string {
	prompt := "Explain this MongoDB query in simple terms:\n\n```json\n" + format.MongoQuery(QueryDocument(doc)) + "\n```\n\n" +
		"Provide a brief, clear explanation of what the query does and what results it will return."

	start := time.Now()
	completion, err := g.client.Complete(ctx, llm.Request{Prompt: prompt, MaxTokens: explainMaxTokens})
	if err != nil {
		observability.RecordLLMMetrics("mongo_explain", time.Since(start), 0, 0, err)
		return fmt.Sprintf("Could not explain query: %s", err)
	}

	observability.RecordLLMMetrics("mongo_explain", time.Since(start), completion.Usage.InputTokens, completion.Usage.OutputTokens, nil)
	return completion.Text
}

// SuggestQueries asks the model for example questions a user could ask of
// this schema. A failed call falls back to a generic pair so the endpoint
// always has something to show.
func (g *Generator) SuggestQueries(ctx context.Context) []string {
	prompt := fmt.Sprintf(`Based on this MongoDB schema, suggest 5 useful example queries a user might want to run:

%s

Provide queries as natural language questions (not MongoDB syntax).
Format as a numbered list.`, g.schemaContext)

	start := time.Now()
	completion, err := g.client.Complete(ctx, llm.Request{Prompt: prompt, MaxTokens: suggestMaxTokens})
	if err != nil {
		observability.RecordLLMMetrics("mongo_suggest", time.Since(start), 0, 0, err)
		return []string{"Show all documents", "Count total documents"}
	}

	observability.RecordLLMMetrics("mongo_suggest", time.Since(start), completion.Usage.InputTokens, completion.Usage.OutputTokens, nil)
	return strings.Split(completion.Text, "\n")
}

func (g *Generator) buildPrompt(question string, history []llm.Message, examples []memory.Example) string {
	var prompt strings.Builder

	prompt.WriteString("You are an expert MongoDB query generator. Generate safe, read-only MongoDB queries based on natural language questions.\n\n")
	prompt.WriteString("DATABASE SCHEMA:\n")
	prompt.WriteString(g.schemaContext)
	prompt.WriteString("\n\nRULES:\n")
	prompt.WriteString("1. Generate ONLY read operations (find, aggregate) - no insert, update, delete\n")
	prompt.WriteString("2. Use proper collection and field names from the schema\n")
	prompt.WriteString("3. Use aggregation pipeline for complex queries (grouping, counting, sorting)\n")
	fmt.Fprintf(&prompt, "4. Add $limit stage for potentially large result sets (max %d)\n", g.maxRows)
	prompt.WriteString("5. Never use dangerous operators like $where or $function\n")
	prompt.WriteString("6. Handle nested documents appropriately using dot notation\n\n")

	prompt.WriteString(renderHistory(history))

	if len(examples) > 0 {
		prompt.WriteString("\nExamples of similar past questions:\n")
		for _, ex := range examples[:min(3, len(examples))] {
			fmt.Fprintf(&prompt, "Question: %s\nQuery: %s\n\n", ex.Question, ex.QueryText)
		}
	}

	fmt.Fprintf(&prompt, "\nUSER QUESTION: %s\n\n", question)

	prompt.WriteString(`Respond in JSON format. For simple queries:
{
    "query_type": "find",
    "collection": "collection_name",
    "filter": {},
    "projection": {},
    "sort": [["field", 1]],
    "limit": 100,
    "explanation": "what the query does"
}

For aggregation queries:
{
    "query_type": "aggregate",
    "collection": "collection_name",
    "pipeline": [
        {"$match": {}},
        {"$group": {}},
        {"$limit": 100}
    ],
    "explanation": "what the query does"
}

If the question cannot be answered:
{
    "query_type": null,
    "error": "explanation",
    "suggestion": "what might help"
}

JSON Response:`)

	return prompt.String()
}

// parseResponse decodes the model's reply. Unlike the SQL side there is no
// pattern fallback: a response that is not valid JSON is a parse failure.
func (g *Generator) parseResponse(text string) query.Structured {
	cleaned := stripCodeFence(text)

	var resp generationResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return query.NewFailure(fmt.Sprintf("Failed to parse response: %s", err), "")
	}

	if resp.QueryType == nil || *resp.QueryType == "" {
		return query.NewFailure(resp.Error, resp.Suggestion)
	}

	limit := resp.Limit
	if limit <= 0 {
		limit = g.maxRows
	}

	switch *resp.QueryType {
	case "find":
		if resp.Collection == "" {
			return query.NewFailure("Failed to parse response: find query is missing a collection", "")
		}

		filter := resp.Filter
		if filter == nil {
			filter = map[string]interface{}{}
		}

		result := query.NewFind(resp.Collection, filter)
		result.Document.Projection = resp.Projection
		result.Document.Sort = parseSort(resp.Sort)
		result.Document.Limit = limit
		result.Explanation = resp.Explanation
		return result

	case "aggregate":
		if resp.Collection == "" || len(resp.Pipeline) == 0 {
			return query.NewFailure("Failed to parse response: aggregate query is missing a collection or pipeline", "")
		}

		result := query.NewAggregate(resp.Collection, resp.Pipeline)
		result.Document.Limit = limit
		result.Explanation = resp.Explanation
		return result

	default:
		return query.NewFailure(fmt.Sprintf("Failed to parse response: unknown query type %q", *resp.QueryType), "")
	}
}

// parseSort converts the [["field", 1]] pairs from the JSON contract.
// Malformed entries are skipped rather than failing the whole query.
func parseSort(pairs [][]interface{}) []query.SortField {
	var fields []query.SortField
	for _, pair := range pairs {
		if len(pair) != 2 {
			continue
		}
		name, ok := pair[0].(string)
		if !ok {
			continue
		}

		direction := 1
		if d, ok := pair[1].(float64); ok {
			direction = int(d)
		}
		fields = append(fields, query.SortField{Field: name, Direction: direction})
	}
	return fields
}

// QueryDocument renders a Document back into the wire shape of the JSON
// contract. The agent uses it for chat responses and memory records; the
// explain prompt embeds it verbatim.
func QueryDocument(doc query.Document) map[string]interface{} {
	out := map[string]interface{}{
		"query_type": string(doc.Mode),
		"collection": doc.Collection,
	}

	if doc.Mode == query.ModeAggregate {
		out["pipeline"] = doc.Pipeline
		return out
	}

	out["filter"] = doc.Filter
	if len(doc.Projection) > 0 {
		out["projection"] = doc.Projection
	}
	if len(doc.Sort) > 0 {
		pairs := make([][]interface{}, 0, len(doc.Sort))
		for _, sf := range doc.Sort {
			pairs = append(pairs, []interface{}{sf.Field, sf.Direction})
		}
		out["sort"] = pairs
	}
	if doc.Limit > 0 {
		out["limit"] = doc.Limit
	}
	return out
}

// renderHistory condenses the last turns of conversation for the prompt.
// Returns an empty string when there is no history.
func renderHistory(history []llm.Message) string {
	if len(history) == 0 {
		return ""
	}

	start := len(history) - historyWindow
	if start < 0 {
		start = 0
	}

	var b strings.Builder
	b.WriteString("\nPrevious conversation:\n")
	for _, msg := range history[start:] {
		content := msg.Content
		if len(content) > historyMaxChars {
			content = content[:historyMaxChars]
		}
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, content)
	}
	return b.String()
}

// stripCodeFence removes a surrounding ``` fence and an optional json
// language tag, which the model adds despite the JSON-only instruction.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return text
	}
	text = strings.Join(lines[1:len(lines)-1], "\n")
	return strings.TrimPrefix(text, "json")
}

func traceOutput(result query.Structured) map[string]interface{} {
	out := map[string]interface{}{"success": !result.IsFailure()}
	if result.IsFailure() {
		out["error"] = result.Failure.Message
	}
	return out
}
