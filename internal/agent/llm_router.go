package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/seanankenbruck/database-ai/internal/llm"
	"github.com/seanankenbruck/database-ai/internal/observability"
	"github.com/seanankenbruck/database-ai/internal/store"
)

const routingMaxTokens = 500

// storeDescriptions feed the routing prompt so the model knows what each
// backend is good at.
var storeDescriptions = map[store.Kind]string{
	store.KindPostgres: "SQL relational database with structured tables, relationships, and ACID compliance. Best for: transactional data, joins, aggregations, complex queries.",
	store.KindMongo:    "NoSQL document database with flexible schema. Best for: document storage, nested data, unstructured data, flexible queries.",
}

// LLMRouter asks the model which store should serve a question. It is the
// slower, schema-aware alternative to FastRoute for questions whose wording
// gives no keyword signal.
type LLMRouter struct {
	client    llm.Client
	available []store.Kind
	logger    *observability.Logger
}

func NewLLMRouter(client llm.Client, available []store.Kind) *LLMRouter {
	return &LLMRouter{
		client:    client,
		available: available,
		logger:    observability.NewLogger("router"),
	}
}

// Route never fails: every error path degrades to the first available store
// at half confidence with a reasoning string naming the cause.
func (r *LLMRouter) Route(ctx context.Context, question, schemaContext string) RouteDecision {
	switch len(r.available) {
	case 0:
		return RouteDecision{Store: store.KindPostgres, Confidence: 0.5, Reasoning: "No store configured"}
	case 1:
		return RouteDecision{Store: r.available[0], Confidence: 1.0, Reasoning: "Only one database available"}
	}

	prompt := r.buildPrompt(question, schemaContext)

	start := time.Now()
	completion, err := r.client.Complete(ctx, llm.Request{Prompt: prompt, MaxTokens: routingMaxTokens})
	if err != nil {
		observability.RecordLLMMetrics("routing", time.Since(start), 0, 0, err)
		r.logger.Warn(ctx, "LLM routing failed, defaulting", map[string]interface{}{"error": err.Error()})
		return RouteDecision{
			Store:      r.available[0],
			Confidence: 0.5,
			Reasoning:  fmt.Sprintf("Routing error, defaulting: %s", err),
		}
	}
	observability.RecordLLMMetrics("routing", time.Since(start), completion.Usage.InputTokens, completion.Usage.OutputTokens, nil)

	var resp routingResponse
	if err := json.Unmarshal([]byte(stripRoutingFence(completion.Text)), &resp); err != nil {
		return RouteDecision{Store: r.available[0], Confidence: 0.5, Reasoning: "Failed to parse routing response"}
	}

	decision := RouteDecision{
		Store:      store.Kind(resp.Database),
		Confidence: resp.Confidence,
		Reasoning:  resp.Reasoning,
	}
	if !hasStore(r.available, decision.Store) {
		decision.Store = r.available[0]
		decision.Confidence = 0.5
	}
	return decision
}

type routingResponse struct {
	Database   string  `json:"database"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

func (r *LLMRouter) buildPrompt(question, schemaContext string) string {
	var b strings.Builder

	b.WriteString("You are a database routing expert. Analyze the user's query and determine which database is most appropriate.\n\n")
	b.WriteString("Available Databases:\n")
	for _, kind := range r.available {
		fmt.Fprintf(&b, "- %s: %s\n", kind, storeDescriptions[kind])
	}
	fmt.Fprintf(&b, "\nDatabase Schema:\n%s\n\n", schemaContext)
	fmt.Fprintf(&b, "User Query: \"%s\"\n\n", question)
	b.WriteString(`Respond in JSON format only:
{"database": "postgresql" or "mongodb", "confidence": 0.0-1.0, "reasoning": "brief explanation"}

Consider:
1. Which database has the relevant data/tables/collections
2. Query complexity and type (analytical, transactional, document-based)
3. Data structure (relational vs document)

JSON Response:`)

	return b.String()
}

// stripRoutingFence keeps only the first fenced block when the model wraps
// its JSON in markdown. Unlike the generator variant it splits on the fence
// marker, so text after the closing fence is discarded as well.
func stripRoutingFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	parts := strings.Split(trimmed, "```")
	if len(parts) < 2 {
		return trimmed
	}
	return strings.TrimSpace(strings.TrimPrefix(parts[1], "json"))
}
