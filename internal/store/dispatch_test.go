package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/seanankenbruck/database-ai/internal/config"
	"github.com/seanankenbruck/database-ai/internal/errors"
	"github.com/seanankenbruck/database-ai/internal/query"
)

// mockRelational is a mock PostgreSQL backend
type mockRelational struct {
	mock.Mock
}

func (m *mockRelational) Query(ctx context.Context, sqlText string) (*Result, error) {
	args := m.Called(ctx, sqlText)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Result), args.Error(1)
}

func (m *mockRelational) Tables(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockRelational) TableInfo(ctx context.Context, table string) (*TableInfo, error) {
	args := m.Called(ctx, table)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*TableInfo), args.Error(1)
}

func (m *mockRelational) SchemaText(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockRelational) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockRelational) Close() error {
	args := m.Called()
	return args.Error(0)
}

// mockDocument is a mock MongoDB backend
type mockDocument struct {
	mock.Mock
}

func (m *mockDocument) Find(ctx context.Context, collection string, filter, projection map[string]interface{}, sort []query.SortField, limit int) (*Result, error) {
	args := m.Called(ctx, collection, filter, projection, sort, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Result), args.Error(1)
}

func (m *mockDocument) Aggregate(ctx context.Context, collection string, pipeline []map[string]interface{}, limit int) (*Result, error) {
	args := m.Called(ctx, collection, pipeline, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Result), args.Error(1)
}

func (m *mockDocument) Collections(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockDocument) CollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error) {
	args := m.Called(ctx, collection)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CollectionInfo), args.Error(1)
}

func (m *mockDocument) SchemaText(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockDocument) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockDocument) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func requireErrorCode(t *testing.T, err error, code errors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	var enhanced *errors.EnhancedError
	require.ErrorAs(t, err, &enhanced)
	assert.Equal(t, code, enhanced.Code)
}

func newTestDispatcher(relational *mockRelational, document *mockDocument) *Dispatcher {
	var rel Relational
	var doc Document
	if relational != nil {
		rel = relational
	}
	if document != nil {
		doc = document
	}
	return NewDispatcher(rel, doc, config.DefaultBlockedSQLKeywords)
}

func TestDispatcherTools(t *testing.T) {
	t.Run("both backends registered", func(t *testing.T) {
		d := newTestDispatcher(&mockRelational{}, &mockDocument{})

		tools := d.Tools()
		names := make([]string, 0, len(tools))
		for _, tool := range tools {
			names = append(names, tool.Name)
		}

		assert.Equal(t, []string{
			"postgres_query",
			"postgres_schema",
			"postgres_tables",
			"postgres_table_info",
			"mongodb_find",
			"mongodb_aggregate",
			"mongodb_schema",
			"mongodb_collections",
			"mongodb_collection_info",
		}, names)
	})

	t.Run("relational only", func(t *testing.T) {
		d := newTestDispatcher(&mockRelational{}, nil)

		tools := d.Tools()
		assert.Len(t, tools, 4)
		for _, tool := range tools {
			assert.NotContains(t, tool.Name, "mongodb")
		}
	})

	t.Run("document only", func(t *testing.T) {
		d := newTestDispatcher(nil, &mockDocument{})

		tools := d.Tools()
		assert.Len(t, tools, 5)
		for _, tool := range tools {
			assert.NotContains(t, tool.Name, "postgres")
		}
	})
}

func TestExecuteUnknownOperation(t *testing.T) {
	d := newTestDispatcher(&mockRelational{}, nil)

	_, err := d.Execute(context.Background(), OpMongoFind, Args{Collection: "events"})
	requireErrorCode(t, err, errors.ErrCodeUnknownOperation)

	_, err = d.Execute(context.Background(), Op("nonsense"), Args{})
	requireErrorCode(t, err, errors.ErrCodeUnknownOperation)
}

func TestExecuteQueryRequiresValidation(t *testing.T) {
	relational := &mockRelational{}
	d := newTestDispatcher(relational, nil)

	q := query.NewSQL("SELECT * FROM customers", []string{"customers"}, "low")

	_, err := d.ExecuteQuery(context.Background(), q)
	requireErrorCode(t, err, errors.ErrCodeUnvalidatedQuery)
	relational.AssertNotCalled(t, "Query", mock.Anything, mock.Anything)
}

func TestExecuteQueryRejectsFailureVariant(t *testing.T) {
	d := newTestDispatcher(&mockRelational{}, nil)

	q := query.NewFailure("Could not understand the question", "Try rephrasing")
	q.MarkValidated()

	_, err := d.ExecuteQuery(context.Background(), q)
	requireErrorCode(t, err, errors.ErrCodeInvalidInput)
}

func TestExecuteQuerySQL(t *testing.T) {
	relational := &mockRelational{}
	expected := &Result{
		Rows:     []map[string]interface{}{{"name": "Alice"}},
		RowCount: 1,
	}
	relational.On("Query", mock.Anything, "SELECT name FROM customers LIMIT 10").Return(expected, nil)
	d := newTestDispatcher(relational, nil)

	q := query.NewSQL("SELECT name FROM customers LIMIT 10", []string{"customers"}, "low")
	q.MarkValidated()

	result, err := d.ExecuteQuery(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, expected, result)
	relational.AssertExpectations(t)
}

func TestExecuteQuerySQLSafetyRecheck(t *testing.T) {
	relational := &mockRelational{}
	d := newTestDispatcher(relational, nil)

	// Even a query marked validated is re-screened at the execution boundary
	q := query.NewSQL("DELETE FROM orders", []string{"orders"}, "low")
	q.MarkValidated()

	_, err := d.ExecuteQuery(context.Background(), q)
	requireErrorCode(t, err, errors.ErrCodeSafetyRejection)
	relational.AssertNotCalled(t, "Query", mock.Anything, mock.Anything)
}

func TestExecuteQueryFind(t *testing.T) {
	document := &mockDocument{}
	filter := map[string]interface{}{"event_type": "click"}
	projection := map[string]interface{}{"user_id": 1}
	sort := []query.SortField{{Field: "timestamp", Direction: -1}}
	expected := &Result{
		Rows:     []map[string]interface{}{{"user_id": "u1"}},
		RowCount: 1,
	}
	document.On("Find", mock.Anything, "events", filter, projection, sort, 50).Return(expected, nil)
	d := newTestDispatcher(nil, document)

	q := query.NewFind("events", filter)
	q.Document.Projection = projection
	q.Document.Sort = sort
	q.Document.Limit = 50
	q.MarkValidated()

	result, err := d.ExecuteQuery(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, expected, result)
	document.AssertExpectations(t)
}

func TestExecuteQueryFindSafetyRecheck(t *testing.T) {
	document := &mockDocument{}
	d := newTestDispatcher(nil, document)

	q := query.NewFind("events", map[string]interface{}{
		"$where": "this.user_id == 'u1'",
	})
	q.MarkValidated()

	_, err := d.ExecuteQuery(context.Background(), q)
	requireErrorCode(t, err, errors.ErrCodeSafetyRejection)
	document.AssertNotCalled(t, "Find", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExecuteQueryAggregate(t *testing.T) {
	document := &mockDocument{}
	pipeline := []map[string]interface{}{
		{"$match": map[string]interface{}{"event_type": "pageview"}},
		{"$group": map[string]interface{}{"_id": "$page", "count": map[string]interface{}{"$sum": 1}}},
	}
	expected := &Result{
		Rows:     []map[string]interface{}{{"_id": "/home", "count": int32(42)}},
		RowCount: 1,
	}
	document.On("Aggregate", mock.Anything, "events", pipeline, 100).Return(expected, nil)
	d := newTestDispatcher(nil, document)

	q := query.NewAggregate("events", pipeline)
	q.Document.Limit = 100
	q.MarkValidated()

	result, err := d.ExecuteQuery(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, expected, result)
	document.AssertExpectations(t)
}

func TestAggregateRejectsAccumulator(t *testing.T) {
	document := &mockDocument{}
	d := newTestDispatcher(nil, document)

	// $accumulator is only screened at the execution boundary, not during
	// generation, so it must be caught here
	pipeline := []map[string]interface{}{
		{"$group": map[string]interface{}{
			"_id": "$user_id",
			"total": map[string]interface{}{
				"$accumulator": map[string]interface{}{"init": "function() { return 0 }"},
			},
		}},
	}

	_, err := d.Execute(context.Background(), OpMongoAggregate, Args{
		Collection: "events",
		Pipeline:   pipeline,
	})
	requireErrorCode(t, err, errors.ErrCodeSafetyRejection)
	document.AssertNotCalled(t, "Aggregate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMissingArguments(t *testing.T) {
	tests := []struct {
		name string
		op   Op
		args Args
	}{
		{"postgres_query without sql", OpPostgresQuery, Args{}},
		{"postgres_table_info without table", OpPostgresTableInfo, Args{}},
		{"mongodb_find without collection", OpMongoFind, Args{}},
		{"mongodb_aggregate without collection", OpMongoAggregate, Args{Pipeline: []map[string]interface{}{{"$match": map[string]interface{}{}}}}},
		{"mongodb_aggregate without pipeline", OpMongoAggregate, Args{Collection: "events"}},
		{"mongodb_collection_info without collection", OpMongoCollInfo, Args{}},
	}

	d := newTestDispatcher(&mockRelational{}, &mockDocument{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Execute(context.Background(), tt.op, tt.args)
			requireErrorCode(t, err, errors.ErrCodeMissingArgument)
		})
	}
}

func TestExecutionErrorWrapping(t *testing.T) {
	relational := &mockRelational{}
	cause := fmt.Errorf("pq: relation \"nope\" does not exist")
	relational.On("Query", mock.Anything, mock.Anything).Return(nil, cause)
	d := newTestDispatcher(relational, nil)

	_, err := d.Execute(context.Background(), OpPostgresQuery, Args{SQL: "SELECT * FROM nope"})
	requireErrorCode(t, err, errors.ErrCodeQueryExecution)
	assert.ErrorIs(t, err, cause)
}

func TestIntrospectionOperations(t *testing.T) {
	t.Run("postgres_tables", func(t *testing.T) {
		relational := &mockRelational{}
		relational.On("Tables", mock.Anything).Return([]string{"customers", "orders"}, nil)
		d := newTestDispatcher(relational, nil)

		result, err := d.Execute(context.Background(), OpPostgresTables, Args{})
		require.NoError(t, err)
		assert.Equal(t, 2, result.RowCount)
		assert.Equal(t, "customers", result.Rows[0]["table"])
		assert.Equal(t, "orders", result.Rows[1]["table"])
	})

	t.Run("postgres_schema", func(t *testing.T) {
		relational := &mockRelational{}
		relational.On("SchemaText", mock.Anything).Return("PostgreSQL Database: ecommerce\n", nil)
		d := newTestDispatcher(relational, nil)

		result, err := d.Execute(context.Background(), OpPostgresSchema, Args{})
		require.NoError(t, err)
		assert.Equal(t, 1, result.RowCount)
		assert.Equal(t, "PostgreSQL Database: ecommerce\n", result.Rows[0]["schema"])
	})

	t.Run("postgres_table_info", func(t *testing.T) {
		relational := &mockRelational{}
		relational.On("TableInfo", mock.Anything, "orders").Return(&TableInfo{
			Name: "orders",
			Columns: []Column{
				{Name: "id", DataType: "integer", PrimaryKey: true},
				{Name: "customer_id", DataType: "integer", Nullable: true},
			},
			ForeignKeys: []ForeignKey{
				{Column: "customer_id", ReferredTable: "customers", ReferredColumn: "id"},
			},
			RowCount: 120,
		}, nil)
		d := newTestDispatcher(relational, nil)

		result, err := d.Execute(context.Background(), OpPostgresTableInfo, Args{Table: "orders"})
		require.NoError(t, err)
		require.Equal(t, 1, result.RowCount)
		row := result.Rows[0]
		assert.Equal(t, "orders", row["table_name"])
		assert.Equal(t, int64(120), row["row_count"])
		columns := row["columns"].([]map[string]interface{})
		require.Len(t, columns, 2)
		assert.Equal(t, "id", columns[0]["name"])
		assert.Equal(t, true, columns[0]["primary_key"])
		foreignKeys := row["foreign_keys"].([]map[string]interface{})
		require.Len(t, foreignKeys, 1)
		assert.Equal(t, "customers", foreignKeys[0]["referred_table"])
	})

	t.Run("mongodb_collections", func(t *testing.T) {
		document := &mockDocument{}
		document.On("Collections", mock.Anything).Return([]string{"events", "sessions"}, nil)
		d := newTestDispatcher(nil, document)

		result, err := d.Execute(context.Background(), OpMongoCollections, Args{})
		require.NoError(t, err)
		assert.Equal(t, 2, result.RowCount)
		assert.Equal(t, "events", result.Rows[0]["collection"])
	})

	t.Run("mongodb_collection_info", func(t *testing.T) {
		document := &mockDocument{}
		document.On("CollectionInfo", mock.Anything, "events").Return(&CollectionInfo{
			Name: "events",
			Fields: map[string]FieldInfo{
				"event_type": {Types: []string{"string"}, SampleValues: []string{"click"}},
			},
			DocumentCount: 5000,
			Indexes: []IndexInfo{
				{Name: "_id_", Keys: []string{"_id"}},
			},
		}, nil)
		d := newTestDispatcher(nil, document)

		result, err := d.Execute(context.Background(), OpMongoCollInfo, Args{Collection: "events"})
		require.NoError(t, err)
		require.Equal(t, 1, result.RowCount)
		row := result.Rows[0]
		assert.Equal(t, "events", row["collection_name"])
		assert.Equal(t, int64(5000), row["document_count"])
	})
}

func TestContext(t *testing.T) {
	t.Run("returns schema text", func(t *testing.T) {
		relational := &mockRelational{}
		relational.On("SchemaText", mock.Anything).Return("PostgreSQL Database: ecommerce\n", nil)
		d := newTestDispatcher(relational, nil)

		text, err := d.Context(context.Background(), KindPostgres)
		require.NoError(t, err)
		assert.Contains(t, text, "ecommerce")
	})

	t.Run("unconfigured backend", func(t *testing.T) {
		d := newTestDispatcher(&mockRelational{}, nil)

		_, err := d.Context(context.Background(), KindMongo)
		requireErrorCode(t, err, errors.ErrCodeStoreConnection)
	})

	t.Run("introspection failure", func(t *testing.T) {
		document := &mockDocument{}
		document.On("SchemaText", mock.Anything).Return("", fmt.Errorf("server selection timeout"))
		d := newTestDispatcher(nil, document)

		_, err := d.Context(context.Background(), KindMongo)
		requireErrorCode(t, err, errors.ErrCodeSchemaIntrospection)
	})
}

func TestAvailable(t *testing.T) {
	relational := &mockRelational{}
	relational.On("Ping", mock.Anything).Return(nil)
	document := &mockDocument{}
	document.On("Ping", mock.Anything).Return(fmt.Errorf("connection refused"))
	d := newTestDispatcher(relational, document)

	kinds := d.Available(context.Background())
	assert.Equal(t, []Kind{KindPostgres}, kinds)
}

func TestDispatcherClose(t *testing.T) {
	relational := &mockRelational{}
	relational.On("Close").Return(fmt.Errorf("already closed"))
	document := &mockDocument{}
	document.On("Close", mock.Anything).Return(nil)
	d := newTestDispatcher(relational, document)

	err := d.Close(context.Background())
	assert.EqualError(t, err, "already closed")
	relational.AssertExpectations(t)
	document.AssertExpectations(t)
}
