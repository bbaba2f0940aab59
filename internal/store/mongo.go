package store

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/seanankenbruck/database-ai/internal/query"
)

const schemaSampleSize = 10

// Mongo is the document backend
type Mongo struct {
	client   *mongo.Client
	db       *mongo.Database
	database string
	maxRows  int
}

// NewMongo connects to MongoDB and verifies the connection with a ping
func NewMongo(ctx context.Context, uri, database string, maxRows int) (*Mongo, error) {
	// Nested documents must decode as bson.M rather than bson.D so schema
	// sampling and JSON rendering see maps
	registry := bson.NewRegistry()
	registry.RegisterTypeMapEntry(bsontype.EmbeddedDocument, reflect.TypeOf(bson.M{}))

	opts := options.Client().
		ApplyURI(uri).
		SetRegistry(registry).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Mongo{
		client:   client,
		db:       client.Database(database),
		database: database,
		maxRows:  maxRows,
	}, nil
}

// Ping tests the database connection
func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// Find runs a find query. A nil filter matches everything; a non-positive
// limit falls back to the configured row cap.
func (m *Mongo) Find(ctx context.Context, collection string, filter, projection map[string]interface{}, sortFields []query.SortField, limit int) (*Result, error) {
	if filter == nil {
		filter = map[string]interface{}{}
	}
	if limit <= 0 {
		limit = m.maxRows
	}

	opts := options.Find().SetLimit(int64(limit))
	if projection != nil {
		opts.SetProjection(projection)
	}
	if len(sortFields) > 0 {
		sortDoc := bson.D{}
		for _, sf := range sortFields {
			sortDoc = append(sortDoc, bson.E{Key: sf.Field, Value: sf.Direction})
		}
		opts.SetSort(sortDoc)
	}

	cursor, err := m.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find on %s failed: %w", collection, err)
	}

	return collectDocuments(ctx, cursor)
}

// Aggregate runs an aggregation pipeline. A {$limit} stage is appended with
// the configured row cap unless the pipeline already has one.
func (m *Mongo) Aggregate(ctx context.Context, collection string, pipeline []map[string]interface{}, limit int) (*Result, error) {
	if limit <= 0 {
		limit = m.maxRows
	}

	stages := make([]interface{}, 0, len(pipeline)+1)
	hasLimit := false
	for _, stage := range pipeline {
		if _, ok := stage["$limit"]; ok {
			hasLimit = true
		}
		stages = append(stages, stage)
	}
	if !hasLimit {
		stages = append(stages, bson.M{"$limit": limit})
	}

	cursor, err := m.db.Collection(collection).Aggregate(ctx, stages)
	if err != nil {
		return nil, fmt.Errorf("aggregate on %s failed: %w", collection, err)
	}

	return collectDocuments(ctx, cursor)
}

// Collections lists the collection names in the database
func (m *Mongo) Collections(ctx context.Context) ([]string, error) {
	names, err := m.db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// CollectionInfo describes one collection by sampling documents to infer a
// field map, plus a document count and index list
func (m *Mongo) CollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error) {
	coll := m.db.Collection(collection)

	cursor, err := coll.Find(ctx, bson.M{}, options.Find().SetLimit(schemaSampleSize))
	if err != nil {
		return nil, fmt.Errorf("failed to sample %s: %w", collection, err)
	}
	var samples []bson.M
	if err := cursor.All(ctx, &samples); err != nil {
		return nil, fmt.Errorf("failed to read samples from %s: %w", collection, err)
	}

	fields := make(map[string]FieldInfo)
	for _, doc := range samples {
		extractFields(doc, "", fields)
	}

	count, err := coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to count documents in %s: %w", collection, err)
	}

	indexes, err := collectionIndexes(ctx, coll)
	if err != nil {
		return nil, err
	}

	return &CollectionInfo{
		Name:          collection,
		Fields:        fields,
		DocumentCount: count,
		Indexes:       indexes,
	}, nil
}

// SchemaText renders the database description used in generation prompts.
// Field names and types are sorted so the prompt is stable across calls.
func (m *Mongo) SchemaText(ctx context.Context) (string, error) {
	collections, err := m.Collections(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "MongoDB Database: %s\n\n", m.database)

	for _, name := range collections {
		info, err := m.CollectionInfo(ctx, name)
		if err != nil {
			return "", err
		}

		fmt.Fprintf(&b, "Collection: %s\n", info.Name)
		fmt.Fprintf(&b, "  Document Count: %d\n", info.DocumentCount)
		b.WriteString("  Fields:\n")
		for _, field := range sortedFieldNames(info.Fields) {
			types := append([]string(nil), info.Fields[field].Types...)
			sort.Strings(types)
			typesStr := "unknown"
			if len(types) > 0 {
				typesStr = strings.Join(types, "/")
			}
			fmt.Fprintf(&b, "    - %s: %s\n", field, typesStr)
		}

		if len(info.Indexes) > 0 {
			b.WriteString("  Indexes:\n")
			for _, idx := range info.Indexes {
				fmt.Fprintf(&b, "    - %s: [%s]\n", idx.Name, strings.Join(idx.Keys, ", "))
			}
		}

		b.WriteString("\n")
	}

	return b.String(), nil
}

// collectDocuments drains a cursor into row maps, rendering ObjectIDs as hex
// strings so results serialize cleanly
func collectDocuments(ctx context.Context, cursor *mongo.Cursor) (*Result, error) {
	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}

	rows := make([]map[string]interface{}, 0, len(docs))
	for _, doc := range docs {
		row := map[string]interface{}(doc)
		if id, ok := row["_id"].(primitive.ObjectID); ok {
			row["_id"] = id.Hex()
		}
		rows = append(rows, row)
	}

	return &Result{Rows: rows, RowCount: len(rows)}, nil
}

// extractFields recursively records field names, observed types, and a few
// sample values from one document
func extractFields(doc bson.M, prefix string, fields map[string]FieldInfo) {
	for key, value := range doc {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}

		info := fields[name]
		typeName := bsonTypeName(value)
		if !containsString(info.Types, typeName) {
			info.Types = append(info.Types, typeName)
		}
		if len(info.SampleValues) < 3 && typeName != "object" && typeName != "array" {
			sample := fmt.Sprintf("%v", value)
			if len(sample) > 50 {
				sample = sample[:50]
			}
			if !containsString(info.SampleValues, sample) {
				info.SampleValues = append(info.SampleValues, sample)
			}
		}
		fields[name] = info

		if nested, ok := value.(bson.M); ok {
			extractFields(nested, name, fields)
		}
	}
}

func bsonTypeName(value interface{}) string {
	switch value.(type) {
	case string:
		return "string"
	case int, int32, int64:
		return "int"
	case float32, float64:
		return "double"
	case bool:
		return "bool"
	case primitive.ObjectID:
		return "objectId"
	case primitive.DateTime, time.Time:
		return "date"
	case bson.M, map[string]interface{}:
		return "object"
	case primitive.A, []interface{}:
		return "array"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", value)
	}
}

func collectionIndexes(ctx context.Context, coll *mongo.Collection) ([]IndexInfo, error) {
	cursor, err := coll.Indexes().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes: %w", err)
	}

	var specs []bson.M
	if err := cursor.All(ctx, &specs); err != nil {
		return nil, fmt.Errorf("failed to read indexes: %w", err)
	}

	var indexes []IndexInfo
	for _, spec := range specs {
		info := IndexInfo{}
		if name, ok := spec["name"].(string); ok {
			info.Name = name
		}
		if key, ok := spec["key"].(bson.M); ok {
			for field := range key {
				info.Keys = append(info.Keys, field)
			}
			sort.Strings(info.Keys)
		}
		indexes = append(indexes, info)
	}

	return indexes, nil
}

func sortedFieldNames(fields map[string]FieldInfo) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
