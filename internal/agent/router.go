package agent

import (
	"strings"

	"github.com/seanankenbruck/database-ai/internal/store"
)

// RouteDecision assigns a question to exactly one backing store
type RouteDecision struct {
	Store      store.Kind `json:"store"`
	Confidence float64    `json:"confidence"`
	Reasoning  string     `json:"reasoning,omitempty"`
}

// documentKeywords indicate event/analytics style questions served by MongoDB.
// Singular and plural forms are listed separately so a plural question scores
// both, which keeps the substring counting honest across word boundaries.
var documentKeywords = []string{
	"event", "events", "log", "logs", "session", "sessions",
	"click", "clicks", "page view", "pageview", "tracking",
	"analytics", "user activity", "behavior", "metric", "metrics",
	"timestamp", "browsing",
}

// relationalKeywords indicate commerce style questions served by PostgreSQL
var relationalKeywords = []string{
	"customer", "customers", "order", "orders", "product", "products",
	"sale", "sales", "revenue", "purchase", "purchases", "buyer",
	"inventory", "price", "quantity", "item", "items", "spent",
	"top-selling", "best selling", "order_items",
	"transaction", "transactions", "account", "accounts",
}

// FastRoute picks a store for a question without calling the model. Scores
// are case-insensitive substring counts over the two keyword lists; equal
// nonzero scores resolve to the relational store. The decision never fails:
// with nothing available it still names the relational store at the lowest
// confidence.
func FastRoute(question string, available []store.Kind) RouteDecision {
	lower := strings.ToLower(question)

	documentScore := countMatches(lower, documentKeywords)
	relationalScore := countMatches(lower, relationalKeywords)

	hasRelational := hasStore(available, store.KindPostgres)
	hasDocument := hasStore(available, store.KindMongo)

	switch {
	case documentScore > relationalScore && hasDocument:
		return RouteDecision{Store: store.KindMongo, Confidence: 0.8, Reasoning: "Document keywords matched"}
	case relationalScore > 0 && hasRelational:
		return RouteDecision{Store: store.KindPostgres, Confidence: 0.8, Reasoning: "Relational keywords matched"}
	case hasRelational:
		return RouteDecision{Store: store.KindPostgres, Confidence: 0.6, Reasoning: "Defaulting to relational store"}
	case hasDocument:
		return RouteDecision{Store: store.KindMongo, Confidence: 0.6, Reasoning: "Only document store available"}
	default:
		return RouteDecision{Store: store.KindPostgres, Confidence: 0.5, Reasoning: "No store configured"}
	}
}

func countMatches(lowerQuestion string, keywords []string) int {
	count := 0
	for _, keyword := range keywords {
		if strings.Contains(lowerQuestion, keyword) {
			count++
		}
	}
	return count
}

func hasStore(available []store.Kind, kind store.Kind) bool {
	for _, k := range available {
		if k == kind {
			return true
		}
	}
	return false
}
