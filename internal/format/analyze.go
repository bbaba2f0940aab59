package format

import (
	"regexp"
	"strings"
)

var (
	fromPattern = regexp.MustCompile(`(?i)FROM\s+["']?(\w+)["']?`)
	joinPattern = regexp.MustCompile(`(?i)JOIN\s+["']?(\w+)["']?`)
)

// ExtractTableReferences returns the table names a SQL query reads from, in
// order of first appearance
func ExtractTableReferences(sql string) []string {
	seen := make(map[string]bool)
	var tables []string

	for _, pattern := range []*regexp.Regexp{fromPattern, joinPattern} {
		for _, match := range pattern.FindAllStringSubmatch(sql, -1) {
			table := match[1]
			if !seen[table] {
				seen[table] = true
				tables = append(tables, table)
			}
		}
	}

	return tables
}

// EstimateComplexity grades a SQL query as low, medium or high based on the
// keywords it uses
func EstimateComplexity(sql string) string {
	sqlUpper := strings.ToUpper(sql)

	complexKeywords := []string{"JOIN", "SUBQUERY", "WITH", "UNION", "HAVING"}
	mediumKeywords := []string{"GROUP BY", "ORDER BY", "DISTINCT"}

	complexCount := 0
	for _, keyword := range complexKeywords {
		if strings.Contains(sqlUpper, keyword) {
			complexCount++
		}
	}

	mediumCount := 0
	for _, keyword := range mediumKeywords {
		if strings.Contains(sqlUpper, keyword) {
			mediumCount++
		}
	}

	switch {
	case complexCount >= 2 || strings.Contains(sqlUpper, "SUBQUERY"):
		return "high"
	case complexCount >= 1 || mediumCount >= 2:
		return "medium"
	default:
		return "low"
	}
}
