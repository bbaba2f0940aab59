// Package sqlgen converts natural language questions into read-only SQL for
// the PostgreSQL store. Generation is total: model failures, unparseable
// responses, and unsafe statements all come back as the failure variant of
// query.Structured, never as a Go error, so the orchestrator can always
// report something sensible to the user.
package sqlgen

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

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

	// historyWindow and historyMaxChars bound the conversation context so a
	// long session cannot crowd the schema out of the prompt.
	historyWindow   = 5
	historyMaxChars = 500

	defaultComplexity = "medium"
)

// sqlFallbackPattern recovers a bare SELECT statement from a response that
// is not valid JSON. (?s) lets the statement span newlines.
var sqlFallbackPattern = regexp.MustCompile(`(?is)SELECT.*?(?:;|$)`)

// Generator turns questions into SQL using the configured model. It holds
// the schema context captured at construction time; rebuild the generator if
// the schema changes.
type Generator struct {
	client        llm.Client
	tracer        *trace.Tracer
	logger        *observability.Logger
	schemaContext string
	maxRows       int
	blocked       []string
}

// generationResponse mirrors the JSON contract stated in the prompt. A null
// sql discriminator selects the cannot-answer shape.
type generationResponse struct {
	SQL         *string  `json:"sql"`
	Explanation string   `json:"explanation"`
	TablesUsed  []string `json:"tables_used"`
	Complexity  string   `json:"estimated_complexity"`
	Error       string   `json:"error"`
	Suggestion  string   `json:"suggestion"`
}

// New creates a SQL generator. The tracer may be nil.
func New(client llm.Client, tracer *trace.Tracer, schemaContext string, maxRows int, blocked []string) *Generator {
	if tracer == nil {
		tracer = trace.NewNoop()
	}

	return &Generator{
		client:        client,
		tracer:        tracer,
		logger:        observability.NewLogger("sqlgen"),
		schemaContext: schemaContext,
		maxRows:       maxRows,
		blocked:       blocked,
	}
}

// Generate produces a structured SQL query for question. History provides
// conversational context and examples provide few-shot guidance from the
// query memory; both are optional.
func (g *Generator) Generate(ctx context.Context, question string, history []llm.Message, examples []memory.Example) query.Structured {
	prompt := g.buildPrompt(question, history, examples)

	tr := g.tracer.StartTrace("sql_generation", "", question)
	span := g.tracer.StartSpan(tr, "llm_call", map[string]interface{}{"query": question})

	start := time.Now()
	completion, err := g.client.Complete(ctx, llm.Request{Prompt: prompt, MaxTokens: generateMaxTokens})
	duration := time.Since(start)

	if err != nil {
		observability.RecordLLMMetrics("sql_generation", duration, 0, 0, err)
		g.tracer.EndSpan(span, map[string]interface{}{"error": err.Error()})
		g.tracer.EndTrace(tr, nil)
		g.logger.Warn(ctx, "SQL generation call failed", map[string]interface{}{
			"error": err.Error(),
		})
		return query.NewFailure(err.Error(), "")
	}

	observability.RecordLLMMetrics("sql_generation", duration, completion.Usage.InputTokens, completion.Usage.OutputTokens, nil)
	g.tracer.LogGeneration(tr, trace.Generation{
		Name:         "sql_generation",
		Model:        completion.Model,
		Prompt:       prompt,
		Completion:   completion.Text,
		InputTokens:  completion.Usage.InputTokens,
		OutputTokens: completion.Usage.OutputTokens,
		Duration:     duration,
	})

	result := g.parseResponse(completion.Text)

	// Generation success does not imply execution eligibility: the safety
	// check can still downgrade a parsed query to a failure.
	if result.Variant == query.VariantSQL {
		if verdict := safety.ValidateSQL(result.SQL.Text, g.blocked); !verdict.Safe {
			observability.GetGlobalMetrics().Inc(observability.MetricChatSafetyRejection, map[string]string{"store": "postgresql"})
			result = query.NewFailure(verdict.Reason, "")
		} else {
			result.MarkValidated()
		}
	}

	g.tracer.EndSpan(span, traceOutput(result))
	g.tracer.EndTrace(tr, traceOutput(result))

	if result.Variant == query.VariantSQL {
		g.logger.Debug(ctx, "Generated SQL query", map[string]interface{}{
			"tables":     result.SQL.Tables,
			"complexity": result.SQL.Complexity,
		})
	}

	return result
}

// ExplainQuery produces a plain-language description of a SQL statement.
// Errors degrade to an apologetic message rather than failing the request.
func (g *Generator) ExplainQuery(ctx context.Context, sql string) string {
	prompt := "Explain this SQL query in simple terms:\n\n```sql\n" + sql + "\n```\n\n" +
		"Provide a brief, clear explanation of what the query does and what results it will return."

	start := time.Now()
	completion, err := g.client.Complete(ctx, llm.Request{Prompt: prompt, MaxTokens: explainMaxTokens})
	if err != nil {
		observability.RecordLLMMetrics("sql_explain", time.Since(start), 0, 0, err)
		return fmt.Sprintf("Could not explain query: %s", err)
	}

	observability.RecordLLMMetrics("sql_explain", time.Since(start), completion.Usage.InputTokens, completion.Usage.OutputTokens, nil)
	return completion.Text
}

// SuggestQueries asks the model for example questions a user could ask of
// this schema. A failed call falls back to a generic pair so the endpoint
// always has something to show.
func (g *Generator) SuggestQueries(ctx context.Context) []string {
	prompt := fmt.Sprintf(`Based on this database schema, suggest 5 useful example queries a user might want to run:

%s

Provide queries as natural language questions (not SQL).
Format as a numbered list.`, g.schemaContext)

	start := time.Now()
	completion, err := g.client.Complete(ctx, llm.Request{Prompt: prompt, MaxTokens: suggestMaxTokens})
	if err != nil {
		observability.RecordLLMMetrics("sql_suggest", time.Since(start), 0, 0, err)
		return []string{"Show all records", "Count total entries"}
	}

	observability.RecordLLMMetrics("sql_suggest", time.Since(start), completion.Usage.InputTokens, completion.Usage.OutputTokens, nil)
	return strings.Split(completion.Text, "\n")
}

func (g *Generator) buildPrompt(question string, history []llm.Message, examples []memory.Example) string {
	var prompt strings.Builder

	prompt.WriteString("You are an expert SQL query generator for PostgreSQL. Generate safe, read-only SQL queries based on natural language questions.\n\n")
	prompt.WriteString("DATABASE SCHEMA:\n")
	prompt.WriteString(g.schemaContext)
	prompt.WriteString("\n\nRULES:\n")
	prompt.WriteString("1. Generate ONLY SELECT queries (no INSERT, UPDATE, DELETE, DROP, etc.)\n")
	prompt.WriteString("2. Always use proper table and column names from the schema\n")
	prompt.WriteString("3. Use appropriate JOINs when querying related tables\n")
	fmt.Fprintf(&prompt, "4. Add LIMIT clause for potentially large result sets (max %d)\n", g.maxRows)
	prompt.WriteString("5. CRITICAL: When using aggregate functions (SUM, COUNT, AVG, etc.), ALWAYS include GROUP BY clause for ALL non-aggregated columns\n")
	prompt.WriteString("6. Include helpful column aliases for clarity\n")
	prompt.WriteString("7. Handle NULL values appropriately\n")
	prompt.WriteString("8. Double-check your SQL syntax before responding\n\n")

	prompt.WriteString(renderHistory(history))

	if len(examples) > 0 {
		prompt.WriteString("\nExamples of similar past questions:\n")
		for _, ex := range examples[:min(3, len(examples))] {
			fmt.Fprintf(&prompt, "Question: %s\nSQL: %s\n\n", ex.Question, ex.QueryText)
		}
	}

	fmt.Fprintf(&prompt, "\nUSER QUESTION: %s\n\n", question)

	prompt.WriteString(`Respond in JSON format:
{
    "sql": "the SQL query",
    "explanation": "brief explanation of what the query does",
    "tables_used": ["list", "of", "tables"],
    "estimated_complexity": "simple|medium|complex"
}

If the question cannot be answered with the available schema, respond:
{
    "sql": null,
    "error": "explanation of why",
    "suggestion": "what information might help"
}

JSON Response:`)

	return prompt.String()
}

// parseResponse decodes the model's reply. On JSON failure it falls back to
// extracting a bare SELECT statement before reporting a parse failure.
func (g *Generator) parseResponse(text string) query.Structured {
	cleaned := stripCodeFence(text)

	var resp generationResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		if match := sqlFallbackPattern.FindString(cleaned); match != "" {
			observability.GetGlobalMetrics().Inc(observability.MetricChatParseFallback, map[string]string{"store": "postgresql"})
			result := query.NewSQL(strings.TrimSpace(match), nil, defaultComplexity)
			result.Explanation = "Extracted from response"
			return result
		}
		return query.NewFailure(fmt.Sprintf("Failed to parse response: %s", err), "")
	}

	if resp.SQL == nil || *resp.SQL == "" {
		return query.NewFailure(resp.Error, resp.Suggestion)
	}

	complexity := resp.Complexity
	if complexity == "" {
		complexity = defaultComplexity
	}

	result := query.NewSQL(strings.TrimSpace(*resp.SQL), resp.TablesUsed, complexity)
	result.Explanation = resp.Explanation
	return result
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
