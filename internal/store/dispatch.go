package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/seanankenbruck/database-ai/internal/errors"
	"github.com/seanankenbruck/database-ai/internal/observability"
	"github.com/seanankenbruck/database-ai/internal/query"
	"github.com/seanankenbruck/database-ai/internal/safety"
)

// Op names one dispatchable operation
type Op string

const (
	OpPostgresQuery     Op = "postgres_query"
	OpPostgresSchema    Op = "postgres_schema"
	OpPostgresTables    Op = "postgres_tables"
	OpPostgresTableInfo Op = "postgres_table_info"
	OpMongoFind         Op = "mongodb_find"
	OpMongoAggregate    Op = "mongodb_aggregate"
	OpMongoSchema       Op = "mongodb_schema"
	OpMongoCollections  Op = "mongodb_collections"
	OpMongoCollInfo     Op = "mongodb_collection_info"
)

// Relational is the surface the dispatcher needs from the SQL backend
type Relational interface {
	Query(ctx context.Context, sqlText string) (*Result, error)
	Tables(ctx context.Context) ([]string, error)
	TableInfo(ctx context.Context, table string) (*TableInfo, error)
	SchemaText(ctx context.Context) (string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Document is the surface the dispatcher needs from the MongoDB backend
type Document interface {
	Find(ctx context.Context, collection string, filter, projection map[string]interface{}, sort []query.SortField, limit int) (*Result, error)
	Aggregate(ctx context.Context, collection string, pipeline []map[string]interface{}, limit int) (*Result, error)
	Collections(ctx context.Context) ([]string, error)
	CollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error)
	SchemaText(ctx context.Context) (string, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Args carries the arguments for any operation; each operation reads only the
// fields it declares in its tool descriptor
type Args struct {
	SQL        string
	Table      string
	Collection string
	Filter     map[string]interface{}
	Projection map[string]interface{}
	Sort       []query.SortField
	Limit      int
	Pipeline   []map[string]interface{}
}

// ToolArg documents one argument of an operation
type ToolArg struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Tool is the externally visible descriptor of an operation
type Tool struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Args        []ToolArg `json:"args,omitempty"`
}

type operation struct {
	tool Tool
	run  func(ctx context.Context, args Args) (*Result, error)
}

// Dispatcher routes named operations to the configured backends. The
// operation table is built once at construction; only operations for
// configured backends are registered.
type Dispatcher struct {
	relational Relational
	document   Document
	blockedSQL []string
	ops        map[Op]operation
	order      []Op
}

// NewDispatcher builds the dispatch table. Either backend may be nil.
func NewDispatcher(relational Relational, document Document, blockedSQL []string) *Dispatcher {
	d := &Dispatcher{
		relational: relational,
		document:   document,
		blockedSQL: blockedSQL,
		ops:        make(map[Op]operation),
	}
	d.register()
	return d
}

func (d *Dispatcher) register() {
	if d.relational != nil {
		d.add(OpPostgresQuery, "Execute a read-only SQL query on the PostgreSQL database", []ToolArg{
			{Name: "sql", Type: "string", Description: "The SQL query to execute", Required: true},
		}, d.runPostgresQuery)
		d.add(OpPostgresSchema, "Get the schema description of the PostgreSQL database", nil, d.runPostgresSchema)
		d.add(OpPostgresTables, "List all tables in the PostgreSQL database", nil, d.runPostgresTables)
		d.add(OpPostgresTableInfo, "Get detailed information about a specific table", []ToolArg{
			{Name: "table", Type: "string", Description: "Name of the table to inspect", Required: true},
		}, d.runPostgresTableInfo)
	}

	if d.document != nil {
		d.add(OpMongoFind, "Execute a find query on a MongoDB collection", []ToolArg{
			{Name: "collection", Type: "string", Description: "Name of the collection to query", Required: true},
			{Name: "filter", Type: "object", Description: "MongoDB filter query"},
			{Name: "projection", Type: "object", Description: "Fields to include or exclude"},
			{Name: "sort", Type: "array", Description: "Sort specification as (field, direction) pairs"},
			{Name: "limit", Type: "integer", Description: "Maximum number of documents to return"},
		}, d.runMongoFind)
		d.add(OpMongoAggregate, "Execute an aggregation pipeline on a MongoDB collection", []ToolArg{
			{Name: "collection", Type: "string", Description: "Name of the collection to aggregate", Required: true},
			{Name: "pipeline", Type: "array", Description: "Aggregation pipeline stages", Required: true},
			{Name: "limit", Type: "integer", Description: "Maximum number of documents to return"},
		}, d.runMongoAggregate)
		d.add(OpMongoSchema, "Get the schema description of the MongoDB database", nil, d.runMongoSchema)
		d.add(OpMongoCollections, "List all collections in the MongoDB database", nil, d.runMongoCollections)
		d.add(OpMongoCollInfo, "Get detailed information about a specific collection", []ToolArg{
			{Name: "collection", Type: "string", Description: "Name of the collection to inspect", Required: true},
		}, d.runMongoCollectionInfo)
	}
}

func (d *Dispatcher) add(op Op, description string, args []ToolArg, run func(context.Context, Args) (*Result, error)) {
	d.ops[op] = operation{
		tool: Tool{Name: string(op), Description: description, Args: args},
		run:  run,
	}
	d.order = append(d.order, op)
}

// Execute runs a named operation
func (d *Dispatcher) Execute(ctx context.Context, op Op, args Args) (*Result, error) {
	registered, ok := d.ops[op]
	if !ok {
		return nil, errors.NewUnknownOperationError(string(op))
	}

	start := time.Now()
	result, err := registered.run(ctx, args)
	observability.RecordStoreMetrics(storeLabel(op), string(op), time.Since(start), err)
	return result, err
}

// storeLabel derives the metric store label from the operation name prefix
func storeLabel(op Op) string {
	if strings.HasPrefix(string(op), "mongodb_") {
		return string(KindMongo)
	}
	return string(KindPostgres)
}

// ExecuteQuery runs a structured query produced by a generator. The query
// must have passed safety validation.
func (d *Dispatcher) ExecuteQuery(ctx context.Context, q query.Structured) (*Result, error) {
	if !q.Validated() {
		return nil, errors.NewUnvalidatedQueryError()
	}

	switch q.Variant {
	case query.VariantSQL:
		return d.Execute(ctx, OpPostgresQuery, Args{SQL: q.SQL.Text})
	case query.VariantDocument:
		doc := q.Document
		if doc.Mode == query.ModeAggregate {
			return d.Execute(ctx, OpMongoAggregate, Args{
				Collection: doc.Collection,
				Pipeline:   doc.Pipeline,
				Limit:      doc.Limit,
			})
		}
		return d.Execute(ctx, OpMongoFind, Args{
			Collection: doc.Collection,
			Filter:     doc.Filter,
			Projection: doc.Projection,
			Sort:       doc.Sort,
			Limit:      doc.Limit,
		})
	case query.VariantFailure:
		return nil, errors.NewInvalidInputError("query", "a failure variant cannot be executed")
	}

	return nil, errors.NewInvalidInputError("query", fmt.Sprintf("unknown variant: %s", q.Variant))
}

// Context returns the schema description for prompt construction
func (d *Dispatcher) Context(ctx context.Context, kind Kind) (string, error) {
	switch kind {
	case KindPostgres:
		if d.relational == nil {
			return "", errors.New(errors.ErrCodeStoreConnection, "PostgreSQL is not configured")
		}
		text, err := d.relational.SchemaText(ctx)
		if err != nil {
			return "", errors.NewSchemaIntrospectionError(err, string(kind))
		}
		return text, nil
	case KindMongo:
		if d.document == nil {
			return "", errors.New(errors.ErrCodeStoreConnection, "MongoDB is not configured")
		}
		text, err := d.document.SchemaText(ctx)
		if err != nil {
			return "", errors.NewSchemaIntrospectionError(err, string(kind))
		}
		return text, nil
	}
	return "", errors.NewInvalidInputError("kind", fmt.Sprintf("unknown store kind: %s", kind))
}

// Available returns the backends that are configured and currently reachable
func (d *Dispatcher) Available(ctx context.Context) []Kind {
	var kinds []Kind
	if d.relational != nil && d.relational.Ping(ctx) == nil {
		kinds = append(kinds, KindPostgres)
	}
	if d.document != nil && d.document.Ping(ctx) == nil {
		kinds = append(kinds, KindMongo)
	}
	return kinds
}

// Ping checks one backend's connection
func (d *Dispatcher) Ping(ctx context.Context, kind Kind) error {
	switch kind {
	case KindPostgres:
		if d.relational == nil {
			return errors.New(errors.ErrCodeStoreConnection, "PostgreSQL is not configured")
		}
		return d.relational.Ping(ctx)
	case KindMongo:
		if d.document == nil {
			return errors.New(errors.ErrCodeStoreConnection, "MongoDB is not configured")
		}
		return d.document.Ping(ctx)
	}
	return errors.NewInvalidInputError("kind", fmt.Sprintf("unknown store kind: %s", kind))
}

// Tools lists the descriptors of every registered operation in registration
// order
func (d *Dispatcher) Tools() []Tool {
	tools := make([]Tool, 0, len(d.order))
	for _, op := range d.order {
		tools = append(tools, d.ops[op].tool)
	}
	return tools
}

// Close releases both backends
func (d *Dispatcher) Close(ctx context.Context) error {
	var firstErr error
	if d.relational != nil {
		if err := d.relational.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.document != nil {
		if err := d.document.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (d *Dispatcher) runPostgresQuery(ctx context.Context, args Args) (*Result, error) {
	if args.SQL == "" {
		return nil, errors.NewMissingArgumentError(string(OpPostgresQuery), "sql")
	}

	if verdict := safety.ValidateSQL(args.SQL, d.blockedSQL); !verdict.Safe {
		return nil, errors.NewSafetyRejectionError(verdict.Reason)
	}

	result, err := d.relational.Query(ctx, args.SQL)
	if err != nil {
		return nil, errors.NewQueryExecutionError(err, string(KindPostgres))
	}
	return result, nil
}

func (d *Dispatcher) runPostgresSchema(ctx context.Context, args Args) (*Result, error) {
	text, err := d.relational.SchemaText(ctx)
	if err != nil {
		return nil, errors.NewSchemaIntrospectionError(err, string(KindPostgres))
	}
	return &Result{
		Rows:     []map[string]interface{}{{"schema": text}},
		RowCount: 1,
	}, nil
}

func (d *Dispatcher) runPostgresTables(ctx context.Context, args Args) (*Result, error) {
	tables, err := d.relational.Tables(ctx)
	if err != nil {
		return nil, errors.NewQueryExecutionError(err, string(KindPostgres))
	}

	rows := make([]map[string]interface{}, 0, len(tables))
	for _, table := range tables {
		rows = append(rows, map[string]interface{}{"table": table})
	}
	return &Result{Rows: rows, RowCount: len(rows)}, nil
}

func (d *Dispatcher) runPostgresTableInfo(ctx context.Context, args Args) (*Result, error) {
	if args.Table == "" {
		return nil, errors.NewMissingArgumentError(string(OpPostgresTableInfo), "table")
	}

	info, err := d.relational.TableInfo(ctx, args.Table)
	if err != nil {
		return nil, errors.NewQueryExecutionError(err, string(KindPostgres))
	}

	columns := make([]map[string]interface{}, 0, len(info.Columns))
	for _, col := range info.Columns {
		columns = append(columns, map[string]interface{}{
			"name":        col.Name,
			"type":        col.DataType,
			"nullable":    col.Nullable,
			"primary_key": col.PrimaryKey,
		})
	}

	foreignKeys := make([]map[string]interface{}, 0, len(info.ForeignKeys))
	for _, fk := range info.ForeignKeys {
		foreignKeys = append(foreignKeys, map[string]interface{}{
			"column":          fk.Column,
			"referred_table":  fk.ReferredTable,
			"referred_column": fk.ReferredColumn,
		})
	}

	return &Result{
		Rows: []map[string]interface{}{{
			"table_name":   info.Name,
			"row_count":    info.RowCount,
			"columns":      columns,
			"foreign_keys": foreignKeys,
		}},
		RowCount: 1,
	}, nil
}

func (d *Dispatcher) runMongoFind(ctx context.Context, args Args) (*Result, error) {
	if args.Collection == "" {
		return nil, errors.NewMissingArgumentError(string(OpMongoFind), "collection")
	}

	if verdict := safety.ValidateExecutionDocument(args.Filter); !verdict.Safe {
		return nil, errors.NewSafetyRejectionError(verdict.Reason)
	}

	result, err := d.document.Find(ctx, args.Collection, args.Filter, args.Projection, args.Sort, args.Limit)
	if err != nil {
		return nil, errors.NewQueryExecutionError(err, string(KindMongo))
	}
	return result, nil
}

func (d *Dispatcher) runMongoAggregate(ctx context.Context, args Args) (*Result, error) {
	if args.Collection == "" {
		return nil, errors.NewMissingArgumentError(string(OpMongoAggregate), "collection")
	}
	if len(args.Pipeline) == 0 {
		return nil, errors.NewMissingArgumentError(string(OpMongoAggregate), "pipeline")
	}

	if verdict := safety.ValidateExecutionPipeline(args.Pipeline); !verdict.Safe {
		return nil, errors.NewSafetyRejectionError(verdict.Reason)
	}

	result, err := d.document.Aggregate(ctx, args.Collection, args.Pipeline, args.Limit)
	if err != nil {
		return nil, errors.NewQueryExecutionError(err, string(KindMongo))
	}
	return result, nil
}

func (d *Dispatcher) runMongoSchema(ctx context.Context, args Args) (*Result, error) {
	text, err := d.document.SchemaText(ctx)
	if err != nil {
		return nil, errors.NewSchemaIntrospectionError(err, string(KindMongo))
	}
	return &Result{
		Rows:     []map[string]interface{}{{"schema": text}},
		RowCount: 1,
	}, nil
}

func (d *Dispatcher) runMongoCollections(ctx context.Context, args Args) (*Result, error) {
	collections, err := d.document.Collections(ctx)
	if err != nil {
		return nil, errors.NewQueryExecutionError(err, string(KindMongo))
	}

	rows := make([]map[string]interface{}, 0, len(collections))
	for _, collection := range collections {
		rows = append(rows, map[string]interface{}{"collection": collection})
	}
	return &Result{Rows: rows, RowCount: len(rows)}, nil
}

func (d *Dispatcher) runMongoCollectionInfo(ctx context.Context, args Args) (*Result, error) {
	if args.Collection == "" {
		return nil, errors.NewMissingArgumentError(string(OpMongoCollInfo), "collection")
	}

	info, err := d.document.CollectionInfo(ctx, args.Collection)
	if err != nil {
		return nil, errors.NewQueryExecutionError(err, string(KindMongo))
	}

	fields := make(map[string]interface{}, len(info.Fields))
	for name, field := range info.Fields {
		fields[name] = map[string]interface{}{
			"types":         field.Types,
			"sample_values": field.SampleValues,
		}
	}

	indexes := make([]map[string]interface{}, 0, len(info.Indexes))
	for _, idx := range info.Indexes {
		indexes = append(indexes, map[string]interface{}{
			"name": idx.Name,
			"keys": idx.Keys,
		})
	}

	return &Result{
		Rows: []map[string]interface{}{{
			"collection_name": info.Name,
			"document_count":  info.DocumentCount,
			"fields":          fields,
			"indexes":         indexes,
		}},
		RowCount: 1,
	}, nil
}
