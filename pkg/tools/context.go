package tools

import (
	"fmt"
	"strings"

	"github.com/barockok/kalla-engine/pkg/models"
)

// Sample-row caps per tool family. Mapping detection needs just enough
// rows to see value shapes; rule inference and preview need more.
const (
	mappingSampleCap   = 5
	inferenceSampleCap = 10
)

// SourceContext is the slice of a source a tool is allowed to see:
// alias, column metadata, and a bounded set of sample rows.
type SourceContext struct {
	Alias      string              `json:"alias" validate:"required"`
	Columns    []models.ColumnInfo `json:"columns" validate:"required,min=1"`
	SampleRows [][]string          `json:"sample_rows,omitempty"`
}

// buildContext renders the deterministic context message shared by every
// tool: one block per source with alias, `name (type)` column lines, and
// an aligned sample-row table capped at sampleCap, followed by any known
// field mappings as `field_a -> field_b (confidence: c)` lines.
func buildContext(sources []SourceContext, mappings []models.FieldMapping, sampleCap int) string {
	var sb strings.Builder

	for i, src := range sources {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "Source %q columns:\n", src.Alias)
		for _, col := range src.Columns {
			fmt.Fprintf(&sb, "  %s (%s)\n", col.Name, col.DataType)
		}
		writeSampleTable(&sb, src, sampleCap)
	}

	if len(mappings) > 0 {
		sb.WriteString("\nKnown field mappings:\n")
		for _, m := range mappings {
			fmt.Fprintf(&sb, "  %s -> %s (confidence: %.2f)\n", m.FieldA, m.FieldB, m.Confidence)
		}
	}

	return sb.String()
}

// writeSampleTable appends an aligned header+rows table, padding each
// cell to its column's widest value.
func writeSampleTable(sb *strings.Builder, src SourceContext, sampleCap int) {
	if len(src.SampleRows) == 0 || sampleCap <= 0 {
		return
	}

	rows := src.SampleRows
	if len(rows) > sampleCap {
		rows = rows[:sampleCap]
	}

	widths := make([]int, len(src.Columns))
	for i, col := range src.Columns {
		widths[i] = len(col.Name)
	}
	for _, row := range rows {
		for i := range widths {
			if i < len(row) && len(row[i]) > widths[i] {
				widths[i] = len(row[i])
			}
		}
	}

	fmt.Fprintf(sb, "Sample rows (showing %d):\n", len(rows))

	header := make([]string, len(src.Columns))
	for i, col := range src.Columns {
		header[i] = pad(col.Name, widths[i])
	}
	fmt.Fprintf(sb, "  %s\n", strings.TrimRight(strings.Join(header, " | "), " "))

	for _, row := range rows {
		cells := make([]string, len(src.Columns))
		for i := range src.Columns {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			cells[i] = pad(cell, widths[i])
		}
		fmt.Fprintf(sb, "  %s\n", strings.TrimRight(strings.Join(cells, " | "), " "))
	}
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
