package main

import (
	"fmt"
	"strings"
)

// SourceObjects holds non-table source objects. SQLite has no stored
// routines and its views and triggers use a different dialect, so none of
// them are recreated.
type SourceObjects struct {
	Views    []string
	Routines []string
	Triggers []string
}

func (o *SourceObjects) empty() bool {
	return o == nil || len(o.Views)+len(o.Routines)+len(o.Triggers) == 0
}

func sourceObjectWarnings(objs *SourceObjects) []string {
	if objs.empty() {
		return nil
	}

	warnings := []string{fmt.Sprintf(
		"source contains objects that are not migrated (%d views, %d routines, %d triggers); recreate them with an after_all hook",
		len(objs.Views), len(objs.Routines), len(objs.Triggers),
	)}
	for _, group := range []struct {
		kind  string
		names []string
	}{
		{"views", objs.Views},
		{"routines", objs.Routines},
		{"triggers", objs.Triggers},
	} {
		if len(group.names) > 0 {
			warnings = append(warnings, fmt.Sprintf("%s: %s", group.kind, strings.Join(group.names, ", ")))
		}
	}
	return warnings
}
