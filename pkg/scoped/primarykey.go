package scoped

import (
	"strings"

	"github.com/barockok/kalla-engine/pkg/models"
)

// DetectPrimaryKeys proposes primary key columns for a loaded source.
// Candidates are picked by name (id, *_id, *id), falling back to the
// first column, and kept only when their values are unique and non-empty
// across the sampled rows.
func DetectPrimaryKeys(columns []models.ColumnInfo, rows [][]string) []string {
	var candidates []int
	for i, col := range columns {
		name := strings.ToLower(col.Name)
		if name == "id" || strings.HasSuffix(name, "_id") || strings.HasSuffix(name, "id") {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 && len(columns) > 0 {
		candidates = append(candidates, 0)
	}

	var detected []string
	for _, idx := range candidates {
		if valuesDistinct(rows, idx) {
			detected = append(detected, columns[idx].Name)
		}
	}
	return detected
}

func valuesDistinct(rows [][]string, idx int) bool {
	if len(rows) == 0 {
		return false
	}
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if idx >= len(row) || row[idx] == "" {
			return false
		}
		if _, dup := seen[row[idx]]; dup {
			return false
		}
		seen[row[idx]] = struct{}{}
	}
	return true
}
