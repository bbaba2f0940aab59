// Package format renders query results and generated queries for chat
// display.
package format

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/seanankenbruck/database-ai/internal/store"
)

const (
	// DefaultMaxRows caps how many rows a formatted result table shows
	DefaultMaxRows = 20

	// DefaultTruncateLength is the display cap applied to long text blocks
	DefaultTruncateLength = 500
)

// Results renders a result set as a plain text table capped at maxRows rows.
// Columns are sorted by name so output is stable across runs.
func Results(result *store.Result, maxRows int) string {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	if result == nil || len(result.Rows) == 0 {
		return "No results found."
	}

	var output []string
	output = append(output, fmt.Sprintf("Results: %d rows", result.RowCount))

	if result.RowCount > maxRows {
		output = append(output, fmt.Sprintf("(showing first %d rows)", maxRows))
	}

	rows := result.Rows
	if len(rows) > maxRows {
		rows = rows[:maxRows]
	}

	output = append(output, "", renderTable(rows))

	return strings.Join(output, "\n")
}

func renderTable(rows []map[string]interface{}) string {
	columns := columnNames(rows)

	widths := make([]int, len(columns))
	for i, col := range columns {
		widths[i] = len(col)
	}

	cells := make([][]string, len(rows))
	for r, row := range rows {
		cells[r] = make([]string, len(columns))
		for i, col := range columns {
			cell := renderValue(row[col])
			cells[r][i] = cell
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var sb strings.Builder
	writeRow := func(row []string) {
		for i, cell := range row {
			if i > 0 {
				sb.WriteString("  ")
			}
			if i == len(row)-1 {
				sb.WriteString(cell)
			} else {
				fmt.Fprintf(&sb, "%-*s", widths[i], cell)
			}
		}
	}

	writeRow(columns)
	for _, row := range cells {
		sb.WriteString("\n")
		writeRow(row)
	}

	return sb.String()
}

func columnNames(rows []map[string]interface{}) []string {
	seen := make(map[string]bool)
	var columns []string
	for _, row := range rows {
		for col := range row {
			if !seen[col] {
				seen[col] = true
				columns = append(columns, col)
			}
		}
	}
	sort.Strings(columns)
	return columns
}

func renderValue(value interface{}) string {
	if value == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", value)
}

var (
	sqlKeywordPattern = regexp.MustCompile(`(?i)\s*\b(LEFT JOIN|RIGHT JOIN|INNER JOIN|OUTER JOIN|SELECT|FROM|WHERE|JOIN|ON|AND|OR|ORDER BY|GROUP BY|HAVING|LIMIT|OFFSET|UNION|EXCEPT|INTERSECT)\b`)
	newlineRunPattern = regexp.MustCompile(`\n+`)
)

// SQL formats a SQL query for display by starting each major clause on its
// own line
func SQL(sql string) string {
	formatted := sqlKeywordPattern.ReplaceAllString(strings.TrimSpace(sql), "\n$1")
	formatted = newlineRunPattern.ReplaceAllString(formatted, "\n")
	return strings.TrimSpace(formatted)
}

// MongoQuery renders a MongoDB filter or pipeline as indented JSON
func MongoQuery(query interface{}) string {
	data, err := json.MarshalIndent(query, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", query)
	}
	return string(data)
}

// Truncate shortens text to maxLength with a trailing ellipsis
func Truncate(text string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = DefaultTruncateLength
	}
	if len(text) <= maxLength {
		return text
	}
	if maxLength <= 3 {
		return "..."
	}
	return text[:maxLength-3] + "..."
}
