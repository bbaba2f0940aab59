package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/seanankenbruck/database-ai/internal/config"
	"github.com/seanankenbruck/database-ai/internal/format"
	"github.com/seanankenbruck/database-ai/internal/llm"
	"github.com/seanankenbruck/database-ai/internal/mongogen"
	"github.com/seanankenbruck/database-ai/internal/query"
	"github.com/seanankenbruck/database-ai/internal/sqlgen"
	"github.com/seanankenbruck/database-ai/internal/trace"
)

// Static schema contexts so the tool runs against the live API without
// any database connection.
const retailSchema = `Table customers:
  - id (integer, primary key)
  - name (text)
  - email (text)
  - city (text)
  - country (text)
  - created_at (timestamp)

Table products:
  - id (integer, primary key)
  - name (text)
  - category (text)
  - price (numeric)
  - stock_quantity (integer)

Table orders:
  - id (integer, primary key)
  - customer_id (integer, references customers.id)
  - status (text)
  - total_amount (numeric)
  - order_date (timestamp)

Table order_items:
  - id (integer, primary key)
  - order_id (integer, references orders.id)
  - product_id (integer, references products.id)
  - quantity (integer)
  - unit_price (numeric)`

const analyticsSchema = `Collection page_views:
  - page (string)
  - user_id (string)
  - duration_ms (int)
  - viewed_at (date)

Collection events:
  - name (string)
  - user_id (string)
  - properties (object)
  - occurred_at (date)`

func main() {
	fmt.Println("=== Claude Client Test ===")

	ctx := context.Background()
	cfg := config.NewDefaultLoader().MustLoad(ctx)
	if cfg.Claude.APIKey == "" {
		log.Fatal("Please set ANTHROPIC_API_KEY environment variable")
	}

	fmt.Println("Initializing Claude client...")
	client, err := llm.NewClaudeClient(cfg.Claude.APIKey, cfg.Claude.Model)
	if err != nil {
		log.Fatalf("Failed to create Claude client: %v", err)
	}
	fmt.Printf("✓ Claude client created (model: %s)\n", client.Model())

	tracer := trace.NewNoop()
	sqlGen := sqlgen.New(client, tracer, retailSchema, 100, config.DefaultBlockedSQLKeywords)
	mongoGen := mongogen.New(client, tracer, analyticsSchema, 100)

	// Test 1: Raw completion
	fmt.Println("\n1. Testing raw completion...")
	testCompletion(ctx, client)

	// Test 2: Simple SQL generation
	fmt.Println("\n2. Testing basic SQL generation...")
	testBasicSQL(ctx, sqlGen)

	// Test 3: Aggregation SQL
	fmt.Println("\n3. Testing aggregation SQL...")
	testAggregationSQL(ctx, sqlGen)

	// Test 4: MongoDB query generation
	fmt.Println("\n4. Testing MongoDB query generation...")
	testMongoGeneration(ctx, mongoGen)

	// Test 5: Refusal of write requests
	fmt.Println("\n5. Testing refusal of write requests...")
	testWriteRefusal(ctx, sqlGen)

	// Test 6: Suggested questions
	fmt.Println("\n6. Testing suggested questions...")
	testSuggestions(ctx, sqlGen)

	fmt.Println("\n🎉 All Claude client tests completed!")
}

func testCompletion(ctx context.Context, client *llm.ClaudeClient) {
	completion, err := client.Complete(ctx, llm.Request{
		Prompt:    "Reply with the single word: ready",
		MaxTokens: 16,
	})
	if err != nil {
		fmt.Printf("  ❌ Error: %v\n", err)
		return
	}

	fmt.Printf("  Response: %s\n", strings.TrimSpace(completion.Text))
	fmt.Printf("  Tokens: %d in, %d out\n", completion.Usage.InputTokens, completion.Usage.OutputTokens)
	fmt.Println("  ✓ Completion successful")
}

func testBasicSQL(ctx context.Context, gen *sqlgen.Generator) {
	question := "How many customers are in New York?"

	result := gen.Generate(ctx, question, nil, nil)
	if result.Variant != query.VariantSQL {
		fmt.Printf("  ❌ Expected SQL, got %s\n", describeFailure(result))
		return
	}

	fmt.Printf("  Question: %s\n", question)
	fmt.Printf("  SQL: %s\n", result.SQL.Text)
	fmt.Printf("  Tables: %v\n", result.SQL.Tables)
	fmt.Printf("  Complexity: %s\n", result.SQL.Complexity)

	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(result.SQL.Text)), "SELECT") {
		fmt.Println("  ✓ Basic SQL generation successful")
	} else {
		fmt.Println("  ⚠️  Generated statement is not a SELECT")
	}
}

func testAggregationSQL(ctx context.Context, gen *sqlgen.Generator) {
	question := "What is the total revenue by product category?"

	result := gen.Generate(ctx, question, nil, nil)
	if result.Variant != query.VariantSQL {
		fmt.Printf("  ❌ Expected SQL, got %s\n", describeFailure(result))
		return
	}

	fmt.Printf("  SQL: %s\n", result.SQL.Text)
	fmt.Printf("  Complexity: %s\n", result.SQL.Complexity)
	if result.Explanation != "" {
		fmt.Printf("  Explanation: %s\n", truncateString(result.Explanation, 100))
	}

	if strings.Contains(strings.ToUpper(result.SQL.Text), "GROUP BY") {
		fmt.Println("  ✓ Aggregation query includes GROUP BY")
	} else {
		fmt.Println("  ⚠️  Expected GROUP BY for an aggregation question")
	}
}

func testMongoGeneration(ctx context.Context, gen *mongogen.Generator) {
	question := "How many page views did each page get?"

	result := gen.Generate(ctx, question, nil, nil)
	if result.Variant != query.VariantDocument {
		fmt.Printf("  ❌ Expected a document query, got %s\n", describeFailure(result))
		return
	}

	doc := mongogen.QueryDocument(*result.Document)
	fmt.Printf("  Collection: %s\n", result.Document.Collection)
	fmt.Printf("  Mode: %s\n", result.Document.Mode)
	fmt.Printf("  Query: %s\n", truncateString(format.MongoQuery(doc), 200))
	fmt.Println("  ✓ MongoDB query generation successful")
}

func testWriteRefusal(ctx context.Context, gen *sqlgen.Generator) {
	question := "Delete all customers from London"

	result := gen.Generate(ctx, question, nil, nil)
	if result.Variant == query.VariantFailure {
		fmt.Printf("  Refused: %s\n", result.Failure.Message)
		if result.Failure.Suggestion != "" {
			fmt.Printf("  Suggestion: %s\n", result.Failure.Suggestion)
		}
		fmt.Println("  ✓ Write request refused")
		return
	}

	// The model may also answer with a harmless SELECT; only an actual
	// write statement is a failure here.
	if result.Variant == query.VariantSQL &&
		strings.HasPrefix(strings.ToUpper(strings.TrimSpace(result.SQL.Text)), "SELECT") {
		fmt.Printf("  SQL: %s\n", result.SQL.Text)
		fmt.Println("  ⚠️  Answered with a SELECT instead of refusing")
		return
	}

	fmt.Println("  ❌ Write request was not refused")
}

func testSuggestions(ctx context.Context, gen *sqlgen.Generator) {
	suggestions := gen.SuggestQueries(ctx)
	if len(suggestions) == 0 {
		fmt.Println("  ❌ No suggestions returned")
		return
	}

	for _, s := range suggestions {
		fmt.Printf("  - %s\n", s)
	}
	fmt.Printf("  ✓ Received %d suggestions\n", len(suggestions))
}

func describeFailure(result query.Structured) string {
	if result.Variant == query.VariantFailure && result.Failure != nil {
		return fmt.Sprintf("failure: %s", result.Failure.Message)
	}
	return string(result.Variant)
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
