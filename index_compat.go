package main

import "fmt"

// indexUnsupportedReason reports why an index cannot be recreated in SQLite.
func indexUnsupportedReason(idx Index) (string, bool) {
	if idx.HasExpression {
		return "expression or partial index key-parts are not supported", true
	}
	switch idx.Type {
	case "FULLTEXT", "SPATIAL":
		return fmt.Sprintf("index type %q has no SQLite equivalent", idx.Type), true
	}
	if len(idx.Columns) == 0 {
		return "index has no plain column key-parts", true
	}
	return "", false
}

func collectIndexCompatibilityWarnings(schema *Schema) []string {
	var warnings []string
	for _, t := range schema.Tables {
		for _, idx := range t.Indexes {
			if reason, unsupported := indexUnsupportedReason(idx); unsupported {
				warnings = append(warnings,
					fmt.Sprintf("index %s.%s skipped: %s", t.Name, idx.Name, reason),
				)
				continue
			}
			if idx.HasPrefix {
				warnings = append(warnings,
					fmt.Sprintf("prefix index %s.%s created on full column values", t.Name, idx.Name),
				)
			}
		}
	}
	return warnings
}
