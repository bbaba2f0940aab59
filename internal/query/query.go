// Package query defines the structured query representation shared by the
// generators, the safety validator, and execution dispatch.
package query

// Variant discriminates the three shapes a generated query can take
type Variant string

const (
	VariantSQL      Variant = "sql"
	VariantDocument Variant = "document"
	VariantFailure  Variant = "failure"
)

// DocumentMode selects between the two MongoDB execution paths
type DocumentMode string

const (
	ModeFind      DocumentMode = "find"
	ModeAggregate DocumentMode = "aggregate"
)

// Structured is a tagged union: exactly one of SQL, Document, or Failure is
// populated, matching Variant. Use the constructors; a hand-built value with
// multiple variants set is a bug.
type Structured struct {
	Variant     Variant
	SQL         *SQL
	Document    *Document
	Failure     *Failure
	Explanation string

	// validated is set by MarkValidated after the safety validator accepts
	// the query. Execution dispatch refuses queries that were never marked.
	validated bool
}

// SQL is a single read-only SQL statement
type SQL struct {
	Text       string
	Tables     []string
	Complexity string // simple, medium, complex
}

// SortField is one (field, direction) pair of a sort specification.
// Direction follows MongoDB convention: 1 ascending, -1 descending.
type SortField struct {
	Field     string
	Direction int
}

// Document is a MongoDB find or aggregate request
type Document struct {
	Mode       DocumentMode
	Collection string
	Filter     map[string]interface{}
	Projection map[string]interface{}
	Sort       []SortField
	Pipeline   []map[string]interface{}
	Limit      int
}

// Failure records why no executable query could be produced
type Failure struct {
	Message    string
	Suggestion string
}

// NewSQL builds an SQL-variant query
func NewSQL(text string, tables []string, complexity string) Structured {
	return Structured{
		Variant: VariantSQL,
		SQL: &SQL{
			Text:       text,
			Tables:     tables,
			Complexity: complexity,
		},
	}
}

// NewFind builds a document-variant query in find mode. Projection, Sort and
// Limit are optional and set directly on the Document afterwards.
func NewFind(collection string, filter map[string]interface{}) Structured {
	return Structured{
		Variant: VariantDocument,
		Document: &Document{
			Mode:       ModeFind,
			Collection: collection,
			Filter:     filter,
		},
	}
}

// NewAggregate builds a document-variant query in aggregate mode
func NewAggregate(collection string, pipeline []map[string]interface{}) Structured {
	return Structured{
		Variant: VariantDocument,
		Document: &Document{
			Mode:       ModeAggregate,
			Collection: collection,
			Pipeline:   pipeline,
		},
	}
}

// NewFailure builds a failure-variant query
func NewFailure(message, suggestion string) Structured {
	return Structured{
		Variant: VariantFailure,
		Failure: &Failure{
			Message:    message,
			Suggestion: suggestion,
		},
	}
}

// MarkValidated records that the query passed safety validation. Only the
// generator's post-validation path should call this; execution dispatch
// rejects queries that have not been marked.
func (s *Structured) MarkValidated() {
	s.validated = true
}

// Validated reports whether the query passed safety validation
func (s Structured) Validated() bool {
	return s.validated
}

// IsFailure reports whether this is the failure variant
func (s Structured) IsFailure() bool {
	return s.Variant == VariantFailure
}
