package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
)

// createTable creates t and its indexes in the target inside one transaction.
// Existing objects of the same name are an error unless overwrite is set, in
// which case they are dropped first.
func createTable(ctx context.Context, db *sql.DB, t *Table, withFKs, overwrite bool) error {
	stmts := []string{generateCreateTable(t, withFKs)}
	indexNames := []string{}
	for _, idx := range t.Indexes {
		if _, unsupported := indexUnsupportedReason(idx); unsupported {
			continue
		}
		stmts = append(stmts, generateCreateIndex(t, idx))
		indexNames = append(indexNames, targetIndexName(t.Name, idx.Name))
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create table %s: begin: %w", t.Name, err)
	}
	defer tx.Rollback()

	if err := dropOrRefuse(ctx, tx, "table", t.Name, overwrite); err != nil {
		return err
	}
	for _, name := range indexNames {
		if err := dropOrRefuse(ctx, tx, "index", name, overwrite); err != nil {
			return err
		}
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table %s: %w\nDDL: %s", t.Name, err, stmt)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create table %s: commit: %w", t.Name, err)
	}
	return nil
}

func dropOrRefuse(ctx context.Context, tx *sql.Tx, kind, name string, overwrite bool) error {
	exists, err := targetObjectExists(ctx, tx, kind, name)
	if err != nil {
		return fmt.Errorf("check %s %s: %w", kind, name, err)
	}
	if !exists {
		return nil
	}
	if !overwrite {
		return &TargetAlreadyExistsError{Kind: kind, Name: name}
	}
	log.Printf("    dropping existing %s %s", kind, name)
	q := fmt.Sprintf("DROP %s IF EXISTS %s", strings.ToUpper(kind), quoteIdent(name))
	if _, err := tx.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("drop %s %s: %w", kind, name, err)
	}
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func targetObjectExists(ctx context.Context, q queryRower, kind, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ? COLLATE NOCASE", kind, name,
	).Scan(&n)
	return n > 0, err
}

// generateCreateTable produces the CREATE TABLE statement for a resolved table.
func generateCreateTable(t *Table, withFKs bool) string {
	var lines []string
	inlinePK := false
	for _, col := range t.Columns {
		tt := col.Target
		var b strings.Builder
		b.WriteString(quoteIdent(col.Name))
		if tt.Declared != "" {
			b.WriteString(" " + tt.Declared)
		}
		if !tt.Nullable {
			b.WriteString(" NOT NULL")
		}
		if tt.AutoIncrement {
			b.WriteString(" PRIMARY KEY AUTOINCREMENT")
			inlinePK = true
		}
		if tt.Default != "" {
			b.WriteString(" DEFAULT " + defaultClause(tt.Default))
		}
		if tt.Collate != "" {
			b.WriteString(" COLLATE " + tt.Collate)
		}
		if tt.Check != "" {
			b.WriteString(" CHECK (" + tt.Check + ")")
		}
		lines = append(lines, b.String())
	}

	if t.PrimaryKey != nil && !inlinePK {
		lines = append(lines, fmt.Sprintf("PRIMARY KEY (%s)", quotedColumnList(t.PrimaryKey.Columns)))
	}
	if withFKs {
		for _, fk := range t.ForeignKeys {
			lines = append(lines, foreignKeyClause(fk))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", quoteIdent(t.Name))
	for i, line := range lines {
		b.WriteString("  " + line)
		if i < len(lines)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteString(")")
	return b.String()
}

// defaultClause wraps expressions SQLite only accepts in parentheses.
func defaultClause(def string) string {
	switch {
	case def == "CURRENT_TIMESTAMP", def == "CURRENT_DATE", def == "CURRENT_TIME":
		return def
	case strings.HasPrefix(def, "'"), strings.HasPrefix(def, "X'"), strings.HasPrefix(def, "("):
		return def
	case isNumericLiteral(def):
		return def
	default:
		return "(" + def + ")"
	}
}

func foreignKeyClause(fk ForeignKey) string {
	clause := fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s", quotedColumnList(fk.Columns), quoteIdent(fk.RefTable))
	if len(fk.RefColumns) > 0 {
		clause += fmt.Sprintf(" (%s)", quotedColumnList(fk.RefColumns))
	}
	if fk.UpdateRule != "" && fk.UpdateRule != "NO ACTION" {
		clause += " ON UPDATE " + fk.UpdateRule
	}
	if fk.DeleteRule != "" && fk.DeleteRule != "NO ACTION" {
		clause += " ON DELETE " + fk.DeleteRule
	}
	return clause
}

// targetIndexName prefixes the source index name with its table; SQLite index
// names share one namespace per database.
func targetIndexName(table, index string) string {
	return table + "_" + index
}

func generateCreateIndex(t *Table, idx Index) string {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
		unique, quoteIdent(targetIndexName(t.Name, idx.Name)), quoteIdent(t.Name), quotedColumnList(idx.Columns))
}
