package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/seanankenbruck/database-ai/internal/llm"
	"github.com/seanankenbruck/database-ai/internal/memory"
	"github.com/seanankenbruck/database-ai/internal/query"
	"github.com/seanankenbruck/database-ai/internal/store"
)

const (
	pgTestSchema    = "PostgreSQL Database: retail\n\nTable: customers\nColumns:\n  - id: integer (PK)\n  - name: text\n  - city: text"
	mongoTestSchema = "MongoDB Database: analytics\n\nCollection: events\nFields:\n  - event_type: string\n  - timestamp: date"
)

// mockClient is a mock language model client
type mockClient struct {
	mock.Mock
}

func (m *mockClient) Complete(ctx context.Context, request llm.Request) (*llm.Completion, error) {
	args := m.Called(ctx, request)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.Completion), args.Error(1)
}

// mockExecutor is a mock query execution backend
type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) ExecuteQuery(ctx context.Context, q query.Structured) (*store.Result, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Result), args.Error(1)
}

func (m *mockExecutor) Context(ctx context.Context, kind store.Kind) (string, error) {
	args := m.Called(ctx, kind)
	return args.String(0), args.Error(1)
}

func (m *mockExecutor) Available(ctx context.Context) []store.Kind {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]store.Kind)
}

func (m *mockExecutor) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// mockMemory is a mock query memory store
type mockMemory struct {
	mock.Mock
}

func (m *mockMemory) FindSimilar(ctx context.Context, question, storeName string, limit int) ([]memory.Example, error) {
	args := m.Called(ctx, question, storeName, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]memory.Example), args.Error(1)
}

func (m *mockMemory) Record(ctx context.Context, question, storeName, queryText string) error {
	args := m.Called(ctx, question, storeName, queryText)
	return args.Error(0)
}

func completion(text string) *llm.Completion {
	return &llm.Completion{
		Text:  text,
		Model: "claude-sonnet-4-20250514",
		Usage: llm.Usage{InputTokens: 150, OutputTokens: 60},
	}
}

// lastCompleteRequest returns the request captured by the most recent
// Complete call
func lastCompleteRequest(t *testing.T, client *mockClient) llm.Request {
	t.Helper()
	require.NotEmpty(t, client.Calls)
	return client.Calls[len(client.Calls)-1].Arguments.Get(1).(llm.Request)
}

// executedQuery returns the structured query captured by the most recent
// ExecuteQuery call
func executedQuery(t *testing.T, executor *mockExecutor) query.Structured {
	t.Helper()
	for i := len(executor.Calls) - 1; i >= 0; i-- {
		if executor.Calls[i].Method == "ExecuteQuery" {
			return executor.Calls[i].Arguments.Get(1).(query.Structured)
		}
	}
	t.Fatal("no ExecuteQuery call recorded")
	return query.Structured{}
}

func bothStores() []store.Kind {
	return []store.Kind{store.KindPostgres, store.KindMongo}
}

const sqlResponse = `{"sql": "SELECT name, city FROM customers WHERE city = 'New York'", "explanation": "Customers in New York", "tables_used": ["customers"], "estimated_complexity": "simple"}`

func TestProcessQuerySQLSuccess(t *testing.T) {
	executor := new(mockExecutor)
	executor.On("Available", mock.Anything).Return(bothStores())
	executor.On("Context", mock.Anything, store.KindPostgres).Return(pgTestSchema, nil)
	executor.On("ExecuteQuery", mock.Anything, mock.Anything).Return(&store.Result{
		Rows: []map[string]interface{}{
			{"name": "Ada", "city": "New York"},
			{"name": "Grace", "city": "New York"},
		},
		RowCount: 2,
	}, nil)

	client := new(mockClient)
	client.On("Complete", mock.Anything, mock.Anything).Return(completion(sqlResponse), nil)

	a := New(context.Background(), Config{Dispatcher: executor, LLM: client})
	result := a.ProcessQuery(context.Background(), "show me all customers from New York")

	assert.True(t, result.Success)
	assert.Equal(t, "postgresql", result.Store)
	assert.Equal(t, "SELECT name, city FROM customers WHERE city = 'New York'", result.SQL)
	assert.Equal(t, "Customers in New York", result.Explanation)
	assert.Equal(t, 2, result.RowCount)
	assert.Len(t, result.Rows, 2)
	assert.Empty(t, result.Error)

	history := a.History()
	require.Len(t, history, 2)
	assert.Equal(t, llm.Message{Role: "user", Content: "show me all customers from New York"}, history[0])
	assert.Equal(t, llm.Message{Role: "assistant", Content: "Returned 2 rows"}, history[1])

	assert.True(t, executedQuery(t, executor).Validated())
}

func TestProcessQueryMongoSuccess(t *testing.T) {
	executor := new(mockExecutor)
	executor.On("Available", mock.Anything).Return(bothStores())
	executor.On("Context", mock.Anything, store.KindMongo).Return(mongoTestSchema, nil)
	executor.On("ExecuteQuery", mock.Anything, mock.Anything).Return(&store.Result{
		Rows:     []map[string]interface{}{{"event_type": "click"}},
		RowCount: 1,
	}, nil)

	client := new(mockClient)
	client.On("Complete", mock.Anything, mock.Anything).Return(completion(
		`{"query_type": "find", "collection": "events", "filter": {"event_type": "click"}, "limit": 25, "explanation": "Click events"}`), nil)

	a := New(context.Background(), Config{Dispatcher: executor, LLM: client})
	result := a.ProcessQuery(context.Background(), "show me all events from today")

	assert.True(t, result.Success)
	assert.Equal(t, "mongodb", result.Store)
	assert.Empty(t, result.SQL)
	require.NotNil(t, result.MongoQuery)
	assert.Equal(t, "find", result.MongoQuery["query_type"])
	assert.Equal(t, "events", result.MongoQuery["collection"])
	assert.Equal(t, map[string]interface{}{"event_type": "click"}, result.MongoQuery["filter"])
	assert.Equal(t, 25, result.MongoQuery["limit"])
	assert.Equal(t, 1, result.RowCount)

	history := a.History()
	require.Len(t, history, 2)
	assert.Equal(t, "Returned 1 rows", history[1].Content)
}

func TestProcessQueryGenerationParseFailure(t *testing.T) {
	executor := new(mockExecutor)
	executor.On("Available", mock.Anything).Return(bothStores())
	executor.On("Context", mock.Anything, store.KindPostgres).Return(pgTestSchema, nil)

	client := new(mockClient)
	client.On("Complete", mock.Anything, mock.Anything).Return(completion(
		"I could not produce a query for that."), nil)

	a := New(context.Background(), Config{Dispatcher: executor, LLM: client})
	result := a.ProcessQuery(context.Background(), "show me all customers from New York")

	assert.False(t, result.Success)
	assert.True(t, len(result.Error) > 0)
	assert.Contains(t, result.Error, "Failed to parse response:")
	executor.AssertNumberOfCalls(t, "ExecuteQuery", 0)
	assert.Empty(t, a.History())
}

func TestProcessQueryBlockedStatement(t *testing.T) {
	executor := new(mockExecutor)
	executor.On("Available", mock.Anything).Return(bothStores())
	executor.On("Context", mock.Anything, store.KindPostgres).Return(pgTestSchema, nil)

	client := new(mockClient)
	client.On("Complete", mock.Anything, mock.Anything).Return(completion(
		`{"sql": "DELETE FROM orders WHERE status = 'cancelled'", "explanation": "Removes cancelled orders"}`), nil)

	a := New(context.Background(), Config{Dispatcher: executor, LLM: client})
	result := a.ProcessQuery(context.Background(), "get rid of the cancelled orders")

	assert.False(t, result.Success)
	assert.Equal(t, "Query contains blocked keyword: DELETE", result.Error)
	executor.AssertNumberOfCalls(t, "ExecuteQuery", 0)
	assert.Empty(t, a.History())
}

func TestProcessQueryCannotAnswer(t *testing.T) {
	executor := new(mockExecutor)
	executor.On("Available", mock.Anything).Return(bothStores())
	executor.On("Context", mock.Anything, store.KindPostgres).Return(pgTestSchema, nil)

	client := new(mockClient)
	client.On("Complete", mock.Anything, mock.Anything).Return(completion(
		`{"sql": null, "error": "No table holds weather data", "suggestion": "Ask about customers, orders, or products"}`), nil)

	a := New(context.Background(), Config{Dispatcher: executor, LLM: client})
	result := a.ProcessQuery(context.Background(), "show me customer forecasts for rain")

	assert.False(t, result.Success)
	assert.Equal(t, "No table holds weather data", result.Error)
	assert.Equal(t, "Ask about customers, orders, or products", result.Suggestion)
	executor.AssertNumberOfCalls(t, "ExecuteQuery", 0)
}

func TestProcessQueryExecutionFailure(t *testing.T) {
	executor := new(mockExecutor)
	executor.On("Available", mock.Anything).Return(bothStores())
	executor.On("Context", mock.Anything, store.KindPostgres).Return(pgTestSchema, nil)
	executor.On("ExecuteQuery", mock.Anything, mock.Anything).Return(nil,
		errors.New(`pq: relation "archived_orders" does not exist`))

	client := new(mockClient)
	client.On("Complete", mock.Anything, mock.Anything).Return(completion(sqlResponse), nil)

	a := New(context.Background(), Config{Dispatcher: executor, LLM: client})
	result := a.ProcessQuery(context.Background(), "show me all customers from New York")

	assert.False(t, result.Success)
	assert.Equal(t, `pq: relation "archived_orders" does not exist`, result.Error)
	// the generated query is still reported so the caller can inspect it
	assert.NotEmpty(t, result.SQL)
	assert.Empty(t, a.History())
}

func TestProcessQueryStoreUnavailable(t *testing.T) {
	t.Run("no stores configured", func(t *testing.T) {
		executor := new(mockExecutor)
		executor.On("Available", mock.Anything).Return(nil)

		client := new(mockClient)
		a := New(context.Background(), Config{Dispatcher: executor, LLM: client})
		result := a.ProcessQuery(context.Background(), "show me all customers")

		assert.False(t, result.Success)
		assert.Equal(t, "PostgreSQL not available", result.Error)
		assert.Equal(t, "postgresql", result.Store)
		executor.AssertNumberOfCalls(t, "Context", 0)
	})

	t.Run("schema introspection failure", func(t *testing.T) {
		executor := new(mockExecutor)
		executor.On("Available", mock.Anything).Return([]store.Kind{store.KindMongo})
		executor.On("Context", mock.Anything, store.KindMongo).Return("", errors.New("server selection timeout"))

		client := new(mockClient)
		a := New(context.Background(), Config{Dispatcher: executor, LLM: client})
		result := a.ProcessQuery(context.Background(), "show me all events from today")

		assert.False(t, result.Success)
		assert.Equal(t, "MongoDB not available", result.Error)
		executor.AssertNumberOfCalls(t, "ExecuteQuery", 0)
	})
}

func TestProcessQueryConversationContext(t *testing.T) {
	executor := new(mockExecutor)
	executor.On("Available", mock.Anything).Return(bothStores())
	executor.On("Context", mock.Anything, store.KindPostgres).Return(pgTestSchema, nil)
	executor.On("ExecuteQuery", mock.Anything, mock.Anything).Return(&store.Result{
		Rows:     []map[string]interface{}{{"name": "Ada"}},
		RowCount: 1,
	}, nil)

	client := new(mockClient)
	client.On("Complete", mock.Anything, mock.Anything).Return(completion(sqlResponse), nil)

	a := New(context.Background(), Config{Dispatcher: executor, LLM: client})

	first := a.ProcessQuery(context.Background(), "show me all customers from New York")
	require.True(t, first.Success)

	second := a.ProcessQuery(context.Background(), "which of those customers ordered items this year")
	require.True(t, second.Success)

	prompt := lastCompleteRequest(t, client).Prompt
	assert.Contains(t, prompt, "Previous conversation:")
	assert.Contains(t, prompt, "user: show me all customers from New York")
	assert.Contains(t, prompt, "assistant: Returned 1 rows")

	assert.Len(t, a.History(), 4)
	// schema text is fetched once; the generator is memoized
	executor.AssertNumberOfCalls(t, "Context", 1)
}

func TestProcessQueryMemory(t *testing.T) {
	executor := new(mockExecutor)
	executor.On("Available", mock.Anything).Return(bothStores())
	executor.On("Context", mock.Anything, store.KindPostgres).Return(pgTestSchema, nil)
	executor.On("ExecuteQuery", mock.Anything, mock.Anything).Return(&store.Result{RowCount: 0}, nil)

	client := new(mockClient)
	client.On("Complete", mock.Anything, mock.Anything).Return(completion(sqlResponse), nil)

	mem := new(mockMemory)
	mem.On("FindSimilar", mock.Anything, "show me all customers from New York", "postgresql", 3).Return(
		[]memory.Example{{Question: "who are our biggest spenders", QueryText: "SELECT name FROM customers ORDER BY total_spent DESC LIMIT 10", Store: "postgresql", Similarity: 0.91}}, nil)
	mem.On("Record", mock.Anything, "show me all customers from New York", "postgresql",
		"SELECT name, city FROM customers WHERE city = 'New York'").Return(nil)

	a := New(context.Background(), Config{Dispatcher: executor, LLM: client, Memory: mem})
	result := a.ProcessQuery(context.Background(), "show me all customers from New York", WithUserID("user-42"))

	assert.True(t, result.Success)

	prompt := lastCompleteRequest(t, client).Prompt
	assert.Contains(t, prompt, "Examples of similar past questions:")
	assert.Contains(t, prompt, "who are our biggest spenders")

	mem.AssertExpectations(t)
}

func TestProcessQueryMemoryBestEffort(t *testing.T) {
	executor := new(mockExecutor)
	executor.On("Available", mock.Anything).Return(bothStores())
	executor.On("Context", mock.Anything, store.KindPostgres).Return(pgTestSchema, nil)
	executor.On("ExecuteQuery", mock.Anything, mock.Anything).Return(&store.Result{RowCount: 0}, nil)

	client := new(mockClient)
	client.On("Complete", mock.Anything, mock.Anything).Return(completion(sqlResponse), nil)

	mem := new(mockMemory)
	mem.On("FindSimilar", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("vector dimension mismatch"))
	mem.On("Record", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("connection reset"))

	a := New(context.Background(), Config{Dispatcher: executor, LLM: client, Memory: mem})
	result := a.ProcessQuery(context.Background(), "show me all customers from New York")

	assert.True(t, result.Success)
	assert.Empty(t, result.Error)
}

func TestProcessQueryRecoversFromPanic(t *testing.T) {
	executor := new(mockExecutor)
	executor.On("Available", mock.Anything).Return(bothStores())
	executor.On("Context", mock.Anything, store.KindPostgres).Return(pgTestSchema, nil)
	// no ExecuteQuery expectation: the mock panics when it is reached

	client := new(mockClient)
	client.On("Complete", mock.Anything, mock.Anything).Return(completion(sqlResponse), nil)

	a := New(context.Background(), Config{Dispatcher: executor, LLM: client})

	var result QueryResult
	require.NotPanics(t, func() {
		result = a.ProcessQuery(context.Background(), "show me all customers from New York")
	})

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	assert.Empty(t, a.History())
}

func TestSuggestedQuestions(t *testing.T) {
	executor := new(mockExecutor)
	executor.On("Available", mock.Anything).Return(bothStores())
	executor.On("Context", mock.Anything, store.KindPostgres).Return(pgTestSchema, nil)
	executor.On("Context", mock.Anything, store.KindMongo).Return(mongoTestSchema, nil)

	client := new(mockClient)
	client.On("Complete", mock.Anything, mock.Anything).Return(completion(
		"1. Show all customers\n2. Top products by revenue\n\n3. Orders this month\n4. Revenue by city\n5. Inactive customers\n6. Average order value"), nil)

	a := New(context.Background(), Config{Dispatcher: executor, LLM: client})
	suggestions := a.SuggestedQuestions(context.Background())

	assert.Len(t, suggestions, 10)
	assert.Equal(t, "1. Show all customers", suggestions[0])
	for _, s := range suggestions {
		assert.NotEmpty(t, s)
	}
}

func TestSuggestedQuestionsNoStores(t *testing.T) {
	executor := new(mockExecutor)
	executor.On("Available", mock.Anything).Return(nil)

	client := new(mockClient)
	a := New(context.Background(), Config{Dispatcher: executor, LLM: client})

	assert.Empty(t, a.SuggestedQuestions(context.Background()))
	client.AssertNumberOfCalls(t, "Complete", 0)
}

func TestClearHistoryIdempotent(t *testing.T) {
	executor := new(mockExecutor)
	executor.On("Available", mock.Anything).Return(bothStores())
	executor.On("Context", mock.Anything, store.KindPostgres).Return(pgTestSchema, nil)
	executor.On("ExecuteQuery", mock.Anything, mock.Anything).Return(&store.Result{RowCount: 3}, nil)

	client := new(mockClient)
	client.On("Complete", mock.Anything, mock.Anything).Return(completion(sqlResponse), nil)

	a := New(context.Background(), Config{Dispatcher: executor, LLM: client})
	a.ProcessQuery(context.Background(), "show me all customers from New York")
	require.Len(t, a.History(), 2)

	a.ClearHistory()
	assert.Empty(t, a.History())
	a.ClearHistory()
	assert.Empty(t, a.History())
}

func TestCloseIdempotent(t *testing.T) {
	executor := new(mockExecutor)
	executor.On("Available", mock.Anything).Return(bothStores())
	executor.On("Close", mock.Anything).Return(errors.New("close failed"))

	client := new(mockClient)
	a := New(context.Background(), Config{Dispatcher: executor, LLM: client})

	first := a.Close(context.Background())
	second := a.Close(context.Background())

	assert.EqualError(t, first, "close failed")
	assert.EqualError(t, second, "close failed")
	executor.AssertNumberOfCalls(t, "Close", 1)
}

func TestRouteWithLLM(t *testing.T) {
	executor := new(mockExecutor)
	executor.On("Available", mock.Anything).Return(bothStores())
	executor.On("Context", mock.Anything, store.KindPostgres).Return(pgTestSchema, nil)
	executor.On("Context", mock.Anything, store.KindMongo).Return(mongoTestSchema, nil)

	client := new(mockClient)
	client.On("Complete", mock.Anything, mock.Anything).Return(completion(
		`{"database": "mongodb", "confidence": 0.85, "reasoning": "Event data lives in the document store"}`), nil)

	a := New(context.Background(), Config{Dispatcher: executor, LLM: client})
	decision := a.RouteWithLLM(context.Background(), "where do we keep clickstream data")

	assert.Equal(t, store.KindMongo, decision.Store)
	assert.Equal(t, 0.85, decision.Confidence)
	assert.Equal(t, "Event data lives in the document store", decision.Reasoning)

	prompt := lastCompleteRequest(t, client).Prompt
	assert.Contains(t, prompt, pgTestSchema)
	assert.Contains(t, prompt, mongoTestSchema)
}
