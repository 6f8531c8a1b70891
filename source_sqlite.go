package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

type sqliteSourceDB struct{}

func (s *sqliteSourceDB) Name() string { return "SQLite" }

func (s *sqliteSourceDB) OpenDB(cfg *MigrationConfig) (*sql.DB, error) {
	uri, err := sqliteReadOnlyURI(cfg.Source.Path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection per table worker plus one for estimates and pings
	db.SetMaxOpenConns(cfg.Workers + 1)
	return db, nil
}

func (s *sqliteSourceDB) DBName(cfg *MigrationConfig) string {
	base := filepath.Base(strings.TrimPrefix(cfg.Source.Path, "file:"))
	if i := strings.IndexByte(base, '?'); i >= 0 {
		base = base[:i]
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." {
		return "sqlite"
	}
	return base
}

func (s *sqliteSourceDB) IntrospectSchema(ctx context.Context, db *sql.DB, _ string, allow []string) (*Schema, error) {
	return introspectSQLiteSchema(ctx, sqlx.NewDb(db, "sqlite"), allow)
}

func (s *sqliteSourceDB) IntrospectSourceObjects(ctx context.Context, db *sql.DB, _ string) (*SourceObjects, error) {
	x := sqlx.NewDb(db, "sqlite")
	objs := &SourceObjects{}
	const q = "SELECT name FROM sqlite_master WHERE type = ? ORDER BY name"
	if err := x.SelectContext(ctx, &objs.Views, q, "view"); err != nil {
		return nil, fmt.Errorf("introspect views: %w", err)
	}
	if err := x.SelectContext(ctx, &objs.Triggers, q, "trigger"); err != nil {
		return nil, fmt.Errorf("introspect triggers: %w", err)
	}
	return objs, nil
}

func (s *sqliteSourceDB) MapColumn(col Column, opts TypeOptions) (TargetType, error) {
	return sqliteMapColumn(col, opts)
}

func (s *sqliteSourceDB) QuoteIdentifier(name string) string { return quoteIdent(name) }

func (s *sqliteSourceDB) MaxWorkers() int { return 0 }

// --- DSN handling ---

func sqliteReadOnlyURI(path string) (string, error) {
	if path == ":memory:" || path == "file::memory:" || strings.Contains(path, "mode=memory") {
		return "", fmt.Errorf("in-memory SQLite databases are not supported as a source")
	}
	if !strings.HasPrefix(path, "file:") {
		return "file:" + path + "?mode=ro", nil
	}
	u, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse sqlite URI: %w", err)
	}
	q := u.Query()
	q.Set("mode", "ro")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// --- Schema introspection ---

type sqliteColumnRow struct {
	CID     int            `db:"cid"`
	Name    string         `db:"name"`
	Type    string         `db:"type"`
	NotNull int            `db:"notnull"`
	Default sql.NullString `db:"dflt_value"`
	PK      int            `db:"pk"`
	Hidden  int            `db:"hidden"`
}

type sqliteIndexRow struct {
	Name    string `db:"name"`
	Unique  int    `db:"unique"`
	Origin  string `db:"origin"`
	Partial int    `db:"partial"`
}

type sqliteForeignKeyRow struct {
	ID       int            `db:"id"`
	RefTable string         `db:"table"`
	From     string         `db:"from"`
	To       sql.NullString `db:"to"`
	OnUpdate string         `db:"on_update"`
	OnDelete string         `db:"on_delete"`
}

func introspectSQLiteSchema(ctx context.Context, db *sqlx.DB, allow []string) (*Schema, error) {
	tables, err := introspectSQLiteTables(ctx, db, allow)
	if err != nil {
		return nil, &SchemaIntrospectionError{Err: fmt.Errorf("list tables: %w", err)}
	}
	if missing := missingTables(allow, tables); len(missing) > 0 {
		return nil, &SchemaIntrospectionError{
			Table: strings.Join(missing, ", "),
			Err:   fmt.Errorf("table not found in source file"),
		}
	}

	for i := range tables {
		t := &tables[i]

		cols, pk, err := introspectSQLiteColumns(ctx, db, t.Name)
		if err != nil {
			return nil, &SchemaIntrospectionError{Table: t.Name, Err: fmt.Errorf("columns: %w", err)}
		}
		t.Columns, t.PrimaryKey = cols, pk

		if t.Indexes, err = introspectSQLiteIndexes(ctx, db, t.Name); err != nil {
			return nil, &SchemaIntrospectionError{Table: t.Name, Err: fmt.Errorf("indexes: %w", err)}
		}

		autoIncr, err := detectSQLiteAutoIncrement(ctx, db, t)
		if err != nil {
			return nil, &SchemaIntrospectionError{Table: t.Name, Err: fmt.Errorf("autoincrement: %w", err)}
		}
		if autoIncr != "" {
			t.column(autoIncr).Extra = "auto_increment"
		}

		if t.ForeignKeys, err = introspectSQLiteForeignKeys(ctx, db, t.Name); err != nil {
			return nil, &SchemaIntrospectionError{Table: t.Name, Err: fmt.Errorf("foreign keys: %w", err)}
		}
	}

	return &Schema{Tables: tables}, nil
}

// introspectSQLiteTables lists tables in creation order, which is also the
// order a hand-written schema usually satisfies its own references in.
func introspectSQLiteTables(ctx context.Context, db *sqlx.DB, allow []string) ([]Table, error) {
	var names []string
	if err := db.SelectContext(ctx, &names,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite\\_%' ESCAPE '\\' ORDER BY rowid",
	); err != nil {
		return nil, err
	}

	var tables []Table
	for _, name := range names {
		if len(allow) > 0 && !slices.Contains(allow, name) {
			continue
		}
		tables = append(tables, Table{Name: name})
	}
	return tables, nil
}

// introspectSQLiteColumns reads table_xinfo so generated columns are listed;
// the primary key comes from the same rows.
func introspectSQLiteColumns(ctx context.Context, db *sqlx.DB, tableName string) ([]Column, *Index, error) {
	var rows []sqliteColumnRow
	if err := db.SelectContext(ctx, &rows,
		"SELECT cid, name, type, \"notnull\", dflt_value, pk, hidden FROM pragma_table_xinfo(?) ORDER BY cid",
		tableName,
	); err != nil {
		return nil, nil, err
	}

	var cols []Column
	var pkRows []sqliteColumnRow
	for _, r := range rows {
		r := r // per-iteration copy: col.Default points into r (pre-Go 1.22 loop semantics)
		// hidden: 1 = virtual table hidden column, 2 = generated virtual, 3 = generated stored
		if r.Hidden == 1 {
			continue
		}
		col := Column{
			Name:       r.Name,
			DataType:   strings.ToLower(normalizeAffinity(r.Type)),
			ColumnType: strings.ToLower(r.Type),
			Nullable:   r.NotNull == 0,
			OrdinalPos: r.CID + 1,
		}
		if r.Default.Valid {
			col.Default = &r.Default.String
		}
		switch r.Hidden {
		case 2:
			col.Extra = "VIRTUAL GENERATED"
		case 3:
			col.Extra = "STORED GENERATED"
		}
		parseSQLiteTypeParams(&col, r.Type)
		cols = append(cols, col)
		if r.PK > 0 {
			pkRows = append(pkRows, r)
		}
	}
	if len(pkRows) == 0 {
		return cols, nil, nil
	}

	slices.SortFunc(pkRows, func(a, b sqliteColumnRow) int { return a.PK - b.PK })
	pk := &Index{Name: "PRIMARY", Unique: true, IsPrimary: true, Type: "BTREE"}
	for _, r := range pkRows {
		pk.Columns = append(pk.Columns, r.Name)
	}
	return cols, pk, nil
}

// normalizeAffinity extracts the base type name from a declared SQLite type.
func normalizeAffinity(declaredType string) string {
	base, _, _ := strings.Cut(strings.TrimSpace(declaredType), "(")
	return strings.TrimSpace(base)
}

// parseSQLiteTypeParams copies "(n)" or "(p,s)" from a declared type into the
// length and precision fields.
func parseSQLiteTypeParams(col *Column, declaredType string) {
	_, rest, ok := strings.Cut(declaredType, "(")
	if !ok {
		return
	}
	params, _, ok := strings.Cut(rest, ")")
	if !ok {
		return
	}
	first, second, hasScale := strings.Cut(params, ",")
	if n, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64); err == nil {
		col.Precision, col.CharMaxLen = n, n
	}
	if hasScale {
		if n, err := strconv.ParseInt(strings.TrimSpace(second), 10, 64); err == nil {
			col.Scale = n
		}
	}
}

// detectSQLiteAutoIncrement returns the rowid-alias column when the table was
// declared with AUTOINCREMENT. Plain INTEGER PRIMARY KEY tables still reuse
// rowids, so they keep their values but not the AUTOINCREMENT property.
func detectSQLiteAutoIncrement(ctx context.Context, db *sqlx.DB, t *Table) (string, error) {
	if t.PrimaryKey == nil || len(t.PrimaryKey.Columns) != 1 {
		return "", nil
	}
	col := t.column(t.PrimaryKey.Columns[0])
	if col == nil || !strings.EqualFold(col.ColumnType, "integer") {
		return "", nil
	}
	var createSQL sql.NullString
	if err := db.GetContext(ctx, &createSQL,
		"SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?", t.Name,
	); err != nil {
		return "", err
	}
	if createSQL.Valid && strings.Contains(strings.ToUpper(createSQL.String), "AUTOINCREMENT") {
		return col.Name, nil
	}
	return "", nil
}

// introspectSQLiteIndexes returns the secondary indexes of a table. Indexes
// backing the primary key are skipped; UNIQUE constraint indexes are kept.
func introspectSQLiteIndexes(ctx context.Context, db *sqlx.DB, tableName string) ([]Index, error) {
	var rows []sqliteIndexRow
	if err := db.SelectContext(ctx, &rows,
		"SELECT name, \"unique\", origin, partial FROM pragma_index_list(?) ORDER BY name",
		tableName,
	); err != nil {
		return nil, err
	}

	var indexes []Index
	for _, r := range rows {
		if r.Origin == "pk" {
			continue
		}
		idx := Index{Name: r.Name, Unique: r.Unique == 1, Type: "BTREE"}
		if r.Partial == 1 {
			idx.HasExpression = true
			log.Printf("    WARN: partial index %q on %s will be skipped (WHERE clause not migrated)", r.Name, tableName)
		}

		var cols []sql.NullString
		if err := db.SelectContext(ctx, &cols,
			"SELECT name FROM pragma_index_info(?) ORDER BY seqno", r.Name,
		); err != nil {
			return nil, fmt.Errorf("index %s: %w", r.Name, err)
		}
		for _, c := range cols {
			// expression key-parts have no column name
			if !c.Valid {
				idx.HasExpression = true
				continue
			}
			idx.Columns = append(idx.Columns, c.String)
		}
		indexes = append(indexes, idx)
	}
	return indexes, nil
}

func introspectSQLiteForeignKeys(ctx context.Context, db *sqlx.DB, tableName string) ([]ForeignKey, error) {
	var rows []sqliteForeignKeyRow
	if err := db.SelectContext(ctx, &rows,
		"SELECT id, \"table\", \"from\", \"to\", on_update, on_delete FROM pragma_foreign_key_list(?) ORDER BY id, seq",
		tableName,
	); err != nil {
		return nil, err
	}

	var fks []ForeignKey
	byID := make(map[int]int)
	for _, r := range rows {
		i, ok := byID[r.ID]
		if !ok {
			i = len(fks)
			byID[r.ID] = i
			fks = append(fks, ForeignKey{
				Name:       fmt.Sprintf("fk_%s_%d", tableName, r.ID),
				RefTable:   r.RefTable,
				UpdateRule: strings.ToUpper(orDefault(r.OnUpdate, "NO ACTION")),
				DeleteRule: strings.ToUpper(orDefault(r.OnDelete, "NO ACTION")),
			})
		}
		fks[i].Columns = append(fks[i].Columns, r.From)
		// a NULL "to" references the parent's primary key
		fks[i].RefColumns = append(fks[i].RefColumns, r.To.String)
	}
	for i := range fks {
		if slices.Contains(fks[i].RefColumns, "") {
			fks[i].RefColumns = nil
		}
	}
	return fks, nil
}

// orDefault returns s, or def when s is empty (cmp.Or for Go < 1.22).
func orDefault(s, def string) string {
	if s != "" {
		return s
	}
	return def
}
