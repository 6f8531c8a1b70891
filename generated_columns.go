package main

import (
	"fmt"
	"strings"
)

// isGeneratedColumn matches VIRTUAL and STORED generated columns of both
// source dialects. DEFAULT_GENERATED only marks an expression default.
func isGeneratedColumn(col Column) bool {
	extra := strings.ToLower(col.Extra)
	return strings.Contains(extra, "virtual generated") || strings.Contains(extra, "stored generated")
}

// collectGeneratedColumnWarnings lists generated columns per table. Their
// values are copied like any other column, so the target holds a snapshot
// and the expression is gone.
func collectGeneratedColumnWarnings(schema *Schema) []string {
	if schema == nil {
		return nil
	}

	var warnings []string
	for _, t := range schema.Tables {
		var cols []string
		for _, col := range t.Columns {
			if !isGeneratedColumn(col) {
				continue
			}
			kind := strings.ToLower(strings.Fields(col.Extra)[0])
			cols = append(cols, fmt.Sprintf("%s (%s)", col.Name, kind))
		}
		if len(cols) > 0 {
			warnings = append(warnings, fmt.Sprintf(
				"%s: generated column(s) %s copied as plain values; expressions are not recreated",
				t.Name, strings.Join(cols, ", "),
			))
		}
	}
	return warnings
}
