package main

import "fmt"

// collectUnsupportedTypeErrors lists every column without a target mapping so
// a strict run can report them all before any table is created.
func collectUnsupportedTypeErrors(src SourceDB, schema *Schema, opts TypeOptions) []string {
	if schema == nil || opts.BestEffort {
		return nil
	}

	var errs []string
	for _, t := range schema.Tables {
		for _, col := range t.Columns {
			if _, err := src.MapColumn(col, opts); err != nil {
				errs = append(errs, fmt.Sprintf("%s.%s (%s): %v", t.Name, col.Name, col.ColumnType, err))
			}
		}
	}
	return errs
}
