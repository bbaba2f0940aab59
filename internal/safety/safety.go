// Package safety screens generated queries before execution. It is the second
// line of defense behind the read-only prompt contract: a substring denylist
// for SQL and an operator denylist for MongoDB documents.
package safety

import (
	"fmt"
	"strings"
)

// Verdict is the outcome of a safety check
type Verdict struct {
	Safe   bool
	Reason string
}

// GenerationBlockedOperators are MongoDB operators rejected at generation time
var GenerationBlockedOperators = []string{"$where", "$function"}

// ExecutionBlockedOperators extends the generation list for the re-check at
// the execution boundary
var ExecutionBlockedOperators = []string{"$where", "$function", "$accumulator"}

// ValidateSQL scans sqlText for blocked keywords and multiple statements.
// Matching is a case-insensitive substring scan, so identifiers that merely
// contain a blocked word (e.g. a created_at column vs CREATE) are rejected too.
func ValidateSQL(sqlText string, blocked []string) Verdict {
	upper := strings.ToUpper(sqlText)
	for _, keyword := range blocked {
		if strings.Contains(upper, strings.ToUpper(keyword)) {
			return Verdict{Safe: false, Reason: fmt.Sprintf("Query contains blocked keyword: %s", keyword)}
		}
	}

	if strings.Count(sqlText, ";") > 1 {
		return Verdict{Safe: false, Reason: "Multiple SQL statements not allowed"}
	}

	return Verdict{Safe: true}
}

// ValidateDocument walks a filter or stage document and rejects any key that
// names a code-execution operator
func ValidateDocument(doc map[string]interface{}) Verdict {
	return checkOperators(doc, GenerationBlockedOperators)
}

// ValidatePipeline checks every aggregation stage independently; the first
// unsafe stage aborts the check with its reason
func ValidatePipeline(stages []map[string]interface{}) Verdict {
	for _, stage := range stages {
		if verdict := checkOperators(stage, GenerationBlockedOperators); !verdict.Safe {
			return verdict
		}
	}
	return Verdict{Safe: true}
}

// ValidateExecutionDocument re-checks a document with the extended operator
// list used at the execution boundary
func ValidateExecutionDocument(doc map[string]interface{}) Verdict {
	return checkOperators(doc, ExecutionBlockedOperators)
}

// ValidateExecutionPipeline re-checks aggregation stages with the extended
// operator list
func ValidateExecutionPipeline(stages []map[string]interface{}) Verdict {
	for _, stage := range stages {
		if verdict := checkOperators(stage, ExecutionBlockedOperators); !verdict.Safe {
			return verdict
		}
	}
	return Verdict{Safe: true}
}

// checkOperators descends into nested maps and into values held in slices.
// Scalar values are ignored; only keys can name operators.
func checkOperators(value interface{}, blocked []string) Verdict {
	switch v := value.(type) {
	case map[string]interface{}:
		for key, child := range v {
			for _, op := range blocked {
				if key == op {
					return Verdict{Safe: false, Reason: fmt.Sprintf("Query contains dangerous operator: %s", op)}
				}
			}
			if verdict := checkOperators(child, blocked); !verdict.Safe {
				return verdict
			}
		}
	case []interface{}:
		for _, item := range v {
			if verdict := checkOperators(item, blocked); !verdict.Safe {
				return verdict
			}
		}
	case []map[string]interface{}:
		for _, item := range v {
			if verdict := checkOperators(item, blocked); !verdict.Safe {
				return verdict
			}
		}
	}
	return Verdict{Safe: true}
}
