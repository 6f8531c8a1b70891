package main

import (
	"fmt"
	"sort"
	"strings"
)

// collectCollationWarnings reports the collations found in the introspected
// schema. Case-insensitive collations (_ci suffix) compare case-sensitively in
// SQLite unless collation_mode=nocase maps them to COLLATE NOCASE.
func collectCollationWarnings(schema *Schema, collationMode string) []string {
	collations := make(map[string]bool)
	// _ci collation → count of text-like columns using it
	ciCounts := make(map[string]int)
	// _ci collation → list of "table.column" with unique/PK indexes
	ciUniqueRefs := make(map[string][]string)

	for _, t := range schema.Tables {
		uniqueCols := make(map[string]bool)
		if t.PrimaryKey != nil {
			for _, c := range t.PrimaryKey.Columns {
				uniqueCols[c] = true
			}
		}
		for _, idx := range t.Indexes {
			if idx.Unique {
				for _, c := range idx.Columns {
					uniqueCols[c] = true
				}
			}
		}

		for _, col := range t.Columns {
			if col.Collation == "" {
				continue
			}
			collations[col.Collation] = true
			if sqliteCollation(col.Collation) == "NOCASE" {
				ciCounts[col.Collation]++
				if uniqueCols[col.Name] {
					ciUniqueRefs[col.Collation] = append(ciUniqueRefs[col.Collation],
						fmt.Sprintf("%s.%s", t.Name, col.Name))
				}
			}
		}
	}

	var warnings []string
	if len(collations) > 0 {
		warnings = append(warnings, fmt.Sprintf("source collations found: %s", strings.Join(sortedKeys(collations), ", ")))
	}
	if collationMode == "nocase" {
		return warnings
	}

	for _, coll := range sortedKeys(ciCounts) {
		warnings = append(warnings, fmt.Sprintf(
			"%d column(s) use %s (case-insensitive); SQLite text comparisons are case-sensitive unless collation_mode = \"nocase\"",
			ciCounts[coll], coll))
	}
	for _, coll := range sortedKeys(ciUniqueRefs) {
		warnings = append(warnings, fmt.Sprintf(
			"unique index/PK on %s column(s): values equal under the source collation may now coexist: %s",
			coll, strings.Join(ciUniqueRefs[coll], ", ")))
	}
	return warnings
}

// sqliteCollation returns the SQLite collating sequence for a MySQL collation,
// or "" when SQLite's default BINARY collation already matches.
func sqliteCollation(collation string) string {
	lower := strings.ToLower(collation)
	if strings.HasSuffix(lower, "_ci") || strings.HasSuffix(lower, "_ai_ci") {
		return "NOCASE"
	}
	return ""
}

// sortedKeys returns the keys of a map in sorted order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
