// Package store provides the two database backends (PostgreSQL and MongoDB)
// behind a uniform execution dispatch with named operations.
package store

// Kind identifies a database backend
type Kind string

const (
	KindPostgres Kind = "postgresql"
	KindMongo    Kind = "mongodb"
)

// Result is the uniform shape of every executed operation
type Result struct {
	Rows     []map[string]interface{} `json:"rows"`
	RowCount int                      `json:"row_count"`
}

// Column describes one column of a relational table
type Column struct {
	Name       string `json:"name"`
	DataType   string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
}

// ForeignKey describes a single-column foreign key reference
type ForeignKey struct {
	Column         string `json:"column"`
	ReferredTable  string `json:"referred_table"`
	ReferredColumn string `json:"referred_column"`
}

// TableInfo is the introspected description of one relational table
type TableInfo struct {
	Name        string       `json:"table_name"`
	Columns     []Column     `json:"columns"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
	RowCount    int64        `json:"row_count"`
}

// FieldInfo summarizes a document field observed while sampling a collection
type FieldInfo struct {
	Types        []string `json:"types"`
	SampleValues []string `json:"sample_values"`
}

// IndexInfo describes one index on a collection
type IndexInfo struct {
	Name string   `json:"name"`
	Keys []string `json:"keys"`
}

// CollectionInfo is the sampled description of one document collection
type CollectionInfo struct {
	Name          string               `json:"collection_name"`
	Fields        map[string]FieldInfo `json:"fields"`
	DocumentCount int64                `json:"document_count"`
	Indexes       []IndexInfo          `json:"indexes"`
}
