package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/seanankenbruck/database-ai/internal/config"
)

func TestValidateSQL(t *testing.T) {
	blocked := config.DefaultBlockedSQLKeywords

	tests := []struct {
		name       string
		sql        string
		wantSafe   bool
		wantReason string
	}{
		{
			name:     "plain select is safe",
			sql:      "SELECT * FROM customers LIMIT 100",
			wantSafe: true,
		},
		{
			name:     "select with joins is safe",
			sql:      "SELECT c.name, o.total_amount FROM customers c JOIN orders o ON c.id = o.customer_id",
			wantSafe: true,
		},
		{
			name:       "drop table is rejected",
			sql:        "DROP TABLE customers",
			wantSafe:   false,
			wantReason: "Query contains blocked keyword: DROP",
		},
		{
			name:       "lowercase drop is rejected",
			sql:        "drop table customers",
			wantSafe:   false,
			wantReason: "Query contains blocked keyword: DROP",
		},
		{
			name:       "delete is rejected",
			sql:        "DELETE FROM orders WHERE id = 1",
			wantSafe:   false,
			wantReason: "Query contains blocked keyword: DELETE",
		},
		{
			name:       "update buried in select is rejected",
			sql:        "SELECT 1; UPDATE orders SET status = 'paid'",
			wantSafe:   false,
			wantReason: "Query contains blocked keyword: UPDATE",
		},
		{
			name:       "multiple statements are rejected",
			sql:        "SELECT 1; SELECT 2;",
			wantSafe:   false,
			wantReason: "Multiple SQL statements not allowed",
		},
		{
			name:     "single trailing semicolon is allowed",
			sql:      "SELECT * FROM products;",
			wantSafe: true,
		},
		{
			// Substring matching is coarse on purpose: identifiers that
			// contain a blocked word trip the filter as well.
			name:       "created_at column trips the CREATE keyword",
			sql:        "SELECT created_at FROM orders",
			wantSafe:   false,
			wantReason: "Query contains blocked keyword: CREATE",
		},
		{
			name:     "empty query is safe",
			sql:      "",
			wantSafe: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := ValidateSQL(tt.sql, blocked)
			assert.Equal(t, tt.wantSafe, verdict.Safe)
			if !tt.wantSafe {
				assert.Equal(t, tt.wantReason, verdict.Reason)
			}
		})
	}
}

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name       string
		doc        map[string]interface{}
		wantSafe   bool
		wantReason string
	}{
		{
			name:     "plain filter is safe",
			doc:      map[string]interface{}{"status": "active"},
			wantSafe: true,
		},
		{
			name: "comparison operators are safe",
			doc: map[string]interface{}{
				"timestamp": map[string]interface{}{"$gte": "2024-01-01"},
			},
			wantSafe: true,
		},
		{
			name:       "top-level $where is rejected",
			doc:        map[string]interface{}{"$where": "this.credits > 0"},
			wantSafe:   false,
			wantReason: "Query contains dangerous operator: $where",
		},
		{
			name: "nested $where is rejected",
			doc: map[string]interface{}{
				"user": map[string]interface{}{"$where": "sleep(1000)"},
			},
			wantSafe:   false,
			wantReason: "Query contains dangerous operator: $where",
		},
		{
			name: "$where inside $or list is rejected",
			doc: map[string]interface{}{
				"$or": []interface{}{
					map[string]interface{}{"status": "active"},
					map[string]interface{}{"$where": "true"},
				},
			},
			wantSafe:   false,
			wantReason: "Query contains dangerous operator: $where",
		},
		{
			name:       "$function is rejected",
			doc:        map[string]interface{}{"$function": map[string]interface{}{"body": "x"}},
			wantSafe:   false,
			wantReason: "Query contains dangerous operator: $function",
		},
		{
			name:     "nil document is safe",
			doc:      nil,
			wantSafe: true,
		},
		{
			name:     "scalar values are ignored",
			doc:      map[string]interface{}{"count": 5, "active": true, "note": nil},
			wantSafe: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := ValidateDocument(tt.doc)
			assert.Equal(t, tt.wantSafe, verdict.Safe)
			if !tt.wantSafe {
				assert.Equal(t, tt.wantReason, verdict.Reason)
			}
		})
	}
}

func TestValidatePipeline(t *testing.T) {
	t.Run("standard pipeline is safe", func(t *testing.T) {
		pipeline := []map[string]interface{}{
			{"$match": map[string]interface{}{"event_type": "click"}},
			{"$group": map[string]interface{}{"_id": "$page", "count": map[string]interface{}{"$sum": 1}}},
			{"$limit": 100},
		}
		verdict := ValidatePipeline(pipeline)
		assert.True(t, verdict.Safe)
	})

	t.Run("unsafe stage aborts with its reason", func(t *testing.T) {
		pipeline := []map[string]interface{}{
			{"$match": map[string]interface{}{"event_type": "click"}},
			{"$group": map[string]interface{}{"_id": "$page"}},
			{"$match": map[string]interface{}{"$function": "exploit()"}},
		}
		verdict := ValidatePipeline(pipeline)
		assert.False(t, verdict.Safe)
		assert.Equal(t, "Query contains dangerous operator: $function", verdict.Reason)
	})

	t.Run("empty pipeline is safe", func(t *testing.T) {
		verdict := ValidatePipeline(nil)
		assert.True(t, verdict.Safe)
	})
}

func TestExecutionChecks(t *testing.T) {
	t.Run("execution list also blocks $accumulator", func(t *testing.T) {
		doc := map[string]interface{}{
			"total": map[string]interface{}{"$accumulator": map[string]interface{}{}},
		}

		// Generation-time check lets it through, the execution re-check does not
		assert.True(t, ValidateDocument(doc).Safe)

		verdict := ValidateExecutionDocument(doc)
		assert.False(t, verdict.Safe)
		assert.Equal(t, "Query contains dangerous operator: $accumulator", verdict.Reason)
	})

	t.Run("execution pipeline check blocks $accumulator in a stage", func(t *testing.T) {
		pipeline := []map[string]interface{}{
			{"$group": map[string]interface{}{
				"_id":   "$page",
				"total": map[string]interface{}{"$accumulator": map[string]interface{}{}},
			}},
		}
		verdict := ValidateExecutionPipeline(pipeline)
		assert.False(t, verdict.Safe)
		assert.Equal(t, "Query contains dangerous operator: $accumulator", verdict.Reason)
	})

	t.Run("execution checks still block $where", func(t *testing.T) {
		verdict := ValidateExecutionDocument(map[string]interface{}{"$where": "true"})
		assert.False(t, verdict.Safe)
	})
}
