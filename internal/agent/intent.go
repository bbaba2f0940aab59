package agent

import (
	"regexp"
	"strings"
)

// Intent labels attached to traces and metrics. Classification never gates
// the pipeline; a question routes and generates the same way regardless of
// its label.
const (
	IntentDataQuery       = "data_query"
	IntentAggregation     = "aggregation"
	IntentComparison      = "comparison"
	IntentTrendAnalysis   = "trend_analysis"
	IntentSchemaInfo      = "schema_info"
	IntentGeneralQuestion = "general_question"
	IntentUnclear         = "unclear"
)

// IntentClassifier labels natural language questions by coarse intent
type IntentClassifier struct {
	patterns map[string]*regexp.Regexp
}

func NewIntentClassifier() *IntentClassifier {
	patterns := map[string]*regexp.Regexp{
		"aggregation": regexp.MustCompile(`(?i)\b(count|how many|sum|total|average|avg|min|max|group(ed)? by|per)\b`),
		"comparison":  regexp.MustCompile(`(?i)\b(compare|vs|versus|against|more than|less than|difference)\b`),
		"trend":       regexp.MustCompile(`(?i)\b(trend|over time|per (day|week|month|year)|daily|weekly|monthly|growth)\b`),
		"schema":      regexp.MustCompile(`(?i)\b(what|which|list|describe|show)\b.*\b(schema|tables?|collections?|columns?|fields?)\b|\b(schema|tables?|collections?|columns?|fields?)\b.*\b(exist|available|are there)\b`),
		"data":        regexp.MustCompile(`(?i)\b(show|list|find|get|display|give me|what|which|who)\b`),
	}
	return &IntentClassifier{patterns: patterns}
}

// Classify returns the first matching label. Specific intents are checked
// before the broad data_query catch-all so "how many orders" classifies as
// aggregation even though "how" also reads as a data question.
func (ic *IntentClassifier) Classify(question string) string {
	q := strings.TrimSpace(question)
	if q == "" {
		return IntentUnclear
	}

	switch {
	case ic.patterns["schema"].MatchString(q):
		return IntentSchemaInfo
	case ic.patterns["trend"].MatchString(q):
		return IntentTrendAnalysis
	case ic.patterns["comparison"].MatchString(q):
		return IntentComparison
	case ic.patterns["aggregation"].MatchString(q):
		return IntentAggregation
	case ic.patterns["data"].MatchString(q):
		return IntentDataQuery
	default:
		if len(strings.Fields(q)) < 3 {
			return IntentUnclear
		}
		return IntentGeneralQuestion
	}
}
