package memory

import (
	"math"
	"strings"
)

// EmbeddingDim is the dimension of the feature embedding and of the vector
// column in the query_memory table.
const EmbeddingDim = 384

// Embed creates a deterministic feature embedding for a natural language
// question. It is not a learned embedding; it only needs to place different
// phrasings of the same question near each other so FindSimilar can surface
// useful few-shot examples without calling out to an embedding model.
func Embed(text string) []float32 {
	embedding := make([]float32, EmbeddingDim)

	text = strings.ToLower(text)
	if len(text) == 0 {
		return embedding
	}

	// Features 0-36: character frequencies
	charCounts := make(map[rune]int)
	for _, char := range text {
		charCounts[char]++
	}

	chars := "abcdefghijklmnopqrstuvwxyz0123456789 "
	for i, char := range chars {
		if count, exists := charCounts[char]; exists {
			embedding[i] = float32(count) / float32(len(text))
		}
	}

	// Features 50 onward: query vocabulary
	keywords := []string{
		"count", "sum", "average", "total", "top", "most", "least",
		"recent", "last", "first", "new", "trend", "per", "each",
		"group", "compare", "between", "greater", "less", "highest",
		"customer", "order", "product", "sale", "revenue", "purchase",
		"price", "inventory", "item", "account", "transaction", "quantity",
		"event", "session", "click", "pageview", "log", "user",
		"activity", "metric", "timestamp", "tracking", "behavior",
		"show", "list", "find", "how many", "what", "which", "when",
		"month", "week", "day", "year", "today", "yesterday",
		"city", "state", "country", "email", "name", "status", "category",
	}

	for i, keyword := range keywords {
		if 50+i < EmbeddingDim && strings.Contains(text, keyword) {
			embedding[50+i] = 1.0
		}
	}

	// Features 150-154: length and structure
	embedding[150] = float32(len(text)) / 1000.0
	embedding[151] = float32(strings.Count(text, " ")) / float32(len(text))
	embedding[152] = float32(strings.Count(text, "?"))
	embedding[153] = float32(strings.Count(text, "\""))
	embedding[154] = float32(strings.Count(text, ","))

	// Unit-normalize so the <=> cosine operator in pgvector is meaningful
	var sumSquares float64
	for _, val := range embedding {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares > 0 {
		magnitude := float32(math.Sqrt(sumSquares))
		for i := range embedding {
			embedding[i] /= magnitude
		}
	}

	return embedding
}
