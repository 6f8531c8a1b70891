package main

import "fmt"

// pruneForeignKeys drops foreign keys that reference tables outside the
// selected set and returns one warning per dropped key.
func pruneForeignKeys(schema *Schema) []string {
	selected := make(map[string]bool, len(schema.Tables))
	for _, t := range schema.Tables {
		selected[t.Name] = true
	}

	var warnings []string
	for i := range schema.Tables {
		t := &schema.Tables[i]
		kept := t.ForeignKeys[:0]
		for _, fk := range t.ForeignKeys {
			if selected[fk.RefTable] {
				kept = append(kept, fk)
				continue
			}
			warnings = append(warnings, fmt.Sprintf(
				"foreign key %s on %s references %s, which is not migrated; constraint dropped",
				fk.Name, t.Name, fk.RefTable))
		}
		t.ForeignKeys = kept
	}
	return warnings
}

// tableDeps returns, for each table, the in-set tables it references.
// Self references are ignored.
func tableDeps(tables []Table) map[string][]string {
	deps := make(map[string][]string, len(tables))
	for _, t := range tables {
		seen := map[string]bool{}
		for _, fk := range t.ForeignKeys {
			if fk.RefTable == t.Name || seen[fk.RefTable] {
				continue
			}
			seen[fk.RefTable] = true
			deps[t.Name] = append(deps[t.Name], fk.RefTable)
		}
	}
	return deps
}

// orderByDependencies sorts tables so referenced tables come before the
// tables that reference them. Ties keep catalog order. A cycle is broken at
// its first member in catalog order, so tables that only hang off a cycle
// still follow the members they reference.
func orderByDependencies(tables []Table) []Table {
	deps := tableDeps(tables)
	inSet := make(map[string]bool, len(tables))
	for _, t := range tables {
		inSet[t.Name] = true
	}

	placed := make(map[string]bool, len(tables))
	ordered := make([]Table, 0, len(tables))
	for len(ordered) < len(tables) {
		progress := false
		for _, t := range tables {
			if placed[t.Name] || !depsPlaced(deps[t.Name], placed, inSet) {
				continue
			}
			placed[t.Name] = true
			ordered = append(ordered, t)
			progress = true
			// restart so an earlier catalog entry unblocked by t wins the tie
			break
		}
		if !progress {
			t := firstOnCycle(tables, deps, placed, inSet)
			placed[t.Name] = true
			ordered = append(ordered, t)
		}
	}
	return ordered
}

// firstOnCycle returns the first unplaced table in catalog order that can
// reach itself through unplaced references. Every unplaced table is blocked
// when it is called, so one always exists.
func firstOnCycle(tables []Table, deps map[string][]string, placed, inSet map[string]bool) Table {
	var first *Table
	for i, t := range tables {
		if placed[t.Name] {
			continue
		}
		if reaches(t.Name, t.Name, deps, placed, inSet, map[string]bool{}) {
			return t
		}
		if first == nil {
			first = &tables[i]
		}
	}
	return *first
}

func reaches(from, target string, deps map[string][]string, placed, inSet, seen map[string]bool) bool {
	for _, d := range deps[from] {
		if !inSet[d] || placed[d] {
			continue
		}
		if d == target {
			return true
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		if reaches(d, target, deps, placed, inSet, seen) {
			return true
		}
	}
	return false
}

func depsPlaced(deps []string, placed, inSet map[string]bool) bool {
	for _, d := range deps {
		if inSet[d] && !placed[d] {
			return false
		}
	}
	return true
}

// dependencyLevels groups table indexes into levels that can be copied
// concurrently: a table's level is one above its highest dependency. Tables
// stuck on or behind a cycle each get a trailing level of their own, in
// orderByDependencies order.
func dependencyLevels(tables []Table) [][]int {
	deps := tableDeps(tables)
	index := make(map[string]int, len(tables))
	for i, t := range tables {
		index[t.Name] = i
	}

	level := make([]int, len(tables))
	for i := range level {
		level[i] = -1
	}
	for changed := true; changed; {
		changed = false
		for i, t := range tables {
			if level[i] >= 0 {
				continue
			}
			lvl, ok := 0, true
			for _, d := range deps[t.Name] {
				j, found := index[d]
				if !found {
					continue
				}
				if level[j] < 0 {
					ok = false
					break
				}
				lvl = max(lvl, level[j]+1)
			}
			if ok {
				level[i] = lvl
				changed = true
			}
		}
	}

	top := -1
	var stuck []Table
	for i, l := range level {
		top = max(top, l)
		if l < 0 {
			stuck = append(stuck, tables[i])
		}
	}
	for _, t := range orderByDependencies(stuck) {
		top++
		level[index[t.Name]] = top
	}

	levels := make([][]int, top+1)
	for i, l := range level {
		levels[l] = append(levels[l], i)
	}
	return levels
}
