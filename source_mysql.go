package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

type mysqlSourceDB struct{}

func (m *mysqlSourceDB) Name() string { return "MySQL" }

func (m *mysqlSourceDB) OpenDB(cfg *MigrationConfig) (*sql.DB, error) {
	dsn := mysqlDSN(cfg.Source, cfg.ConnectTimeout.Duration, cfg.QueryTimeout.Duration)
	if cfg.Source.DSN != "" {
		var err error
		if dsn, err = mysqlDSNWithReadOptions(cfg.Source.DSN); err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(cfg.Workers + 1)
	db.SetMaxIdleConns(cfg.Workers + 1)
	return db, nil
}

func (m *mysqlSourceDB) DBName(cfg *MigrationConfig) string { return cfg.Source.Database }

func (m *mysqlSourceDB) IntrospectSchema(ctx context.Context, db *sql.DB, dbName string, allow []string) (*Schema, error) {
	return introspectMySQLSchema(ctx, sqlx.NewDb(db, "mysql"), dbName, allow)
}

func (m *mysqlSourceDB) IntrospectSourceObjects(ctx context.Context, db *sql.DB, dbName string) (*SourceObjects, error) {
	return introspectMySQLSourceObjects(ctx, sqlx.NewDb(db, "mysql"), dbName)
}

func (m *mysqlSourceDB) MapColumn(col Column, opts TypeOptions) (TargetType, error) {
	return mysqlMapColumn(col, opts)
}

func (m *mysqlSourceDB) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (m *mysqlSourceDB) MaxWorkers() int { return 0 }

// --- Schema introspection ---

type mysqlColumnRow struct {
	Name       string         `db:"column_name"`
	DataType   string         `db:"data_type"`
	ColumnType string         `db:"column_type"`
	CharMaxLen int64          `db:"char_max_len"`
	Precision  int64          `db:"num_precision"`
	Scale      int64          `db:"num_scale"`
	Nullable   string         `db:"is_nullable"`
	Default    sql.NullString `db:"column_default"`
	Extra      string         `db:"extra"`
	Collation  sql.NullString `db:"collation_name"`
	OrdinalPos int            `db:"ordinal_position"`
}

type mysqlIndexRow struct {
	Name      string         `db:"index_name"`
	Column    sql.NullString `db:"column_name"`
	NonUnique int            `db:"non_unique"`
	Seq       int            `db:"seq_in_index"`
	Type      string         `db:"index_type"`
	SubPart   sql.NullInt64  `db:"sub_part"`
}

type mysqlForeignKeyRow struct {
	Name       string `db:"constraint_name"`
	Column     string `db:"column_name"`
	RefTable   string `db:"ref_table"`
	RefColumn  string `db:"ref_column"`
	UpdateRule string `db:"update_rule"`
	DeleteRule string `db:"delete_rule"`
}

func introspectMySQLSchema(ctx context.Context, db *sqlx.DB, dbName string, allow []string) (*Schema, error) {
	tables, err := introspectMySQLTables(ctx, db, dbName, allow)
	if err != nil {
		return nil, &SchemaIntrospectionError{Err: fmt.Errorf("list tables: %w", err)}
	}
	if missing := missingTables(allow, tables); len(missing) > 0 {
		return nil, &SchemaIntrospectionError{
			Table: strings.Join(missing, ", "),
			Err:   fmt.Errorf("table not found in database %q", dbName),
		}
	}

	for i := range tables {
		t := &tables[i]

		cols, err := introspectMySQLColumns(ctx, db, dbName, t.Name)
		if err != nil {
			return nil, &SchemaIntrospectionError{Table: t.Name, Err: fmt.Errorf("columns: %w", err)}
		}
		t.Columns = cols

		indexes, err := introspectMySQLIndexes(ctx, db, dbName, t.Name)
		if err != nil {
			return nil, &SchemaIntrospectionError{Table: t.Name, Err: fmt.Errorf("indexes: %w", err)}
		}
		for _, idx := range indexes {
			if idx.IsPrimary {
				pk := idx
				t.PrimaryKey = &pk
			} else {
				t.Indexes = append(t.Indexes, idx)
			}
		}

		fks, err := introspectMySQLForeignKeys(ctx, db, dbName, t.Name)
		if err != nil {
			return nil, &SchemaIntrospectionError{Table: t.Name, Err: fmt.Errorf("foreign keys: %w", err)}
		}
		t.ForeignKeys = fks
	}

	return &Schema{Tables: tables}, nil
}

func introspectMySQLTables(ctx context.Context, db *sqlx.DB, dbName string, allow []string) ([]Table, error) {
	query := `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		 WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'`
	args := []any{dbName}
	if len(allow) > 0 {
		q, inArgs, err := sqlx.In(query+` AND TABLE_NAME IN (?)`, dbName, allow)
		if err != nil {
			return nil, err
		}
		query, args = db.Rebind(q), inArgs
	}
	query += ` ORDER BY TABLE_NAME`

	var names []string
	if err := db.SelectContext(ctx, &names, query, args...); err != nil {
		return nil, err
	}
	tables := make([]Table, len(names))
	for i, name := range names {
		tables[i] = Table{Name: name}
	}
	return tables, nil
}

func introspectMySQLColumns(ctx context.Context, db *sqlx.DB, dbName, tableName string) ([]Column, error) {
	var rows []mysqlColumnRow
	err := db.SelectContext(ctx, &rows,
		`SELECT COLUMN_NAME AS column_name, DATA_TYPE AS data_type, COLUMN_TYPE AS column_type,
		        COALESCE(CHARACTER_MAXIMUM_LENGTH, 0) AS char_max_len,
		        COALESCE(NUMERIC_PRECISION, 0) AS num_precision,
		        COALESCE(NUMERIC_SCALE, 0) AS num_scale,
		        IS_NULLABLE AS is_nullable, COLUMN_DEFAULT AS column_default,
		        EXTRA AS extra, COLLATION_NAME AS collation_name,
		        ORDINAL_POSITION AS ordinal_position
		 FROM INFORMATION_SCHEMA.COLUMNS
		 WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		 ORDER BY ORDINAL_POSITION`,
		dbName, tableName,
	)
	if err != nil {
		return nil, err
	}

	cols := make([]Column, 0, len(rows))
	for _, r := range rows {
		r := r // per-iteration copy: c.Default points into r (pre-Go 1.22 loop semantics)
		c := Column{
			Name:       r.Name,
			DataType:   strings.ToLower(r.DataType),
			ColumnType: strings.ToLower(r.ColumnType),
			CharMaxLen: r.CharMaxLen,
			Precision:  r.Precision,
			Scale:      r.Scale,
			Nullable:   r.Nullable == "YES",
			Extra:      r.Extra,
			Collation:  r.Collation.String,
			OrdinalPos: r.OrdinalPos,
		}
		c.Unsigned = strings.Contains(c.ColumnType, "unsigned")
		if r.Default.Valid {
			c.Default = &r.Default.String
		}
		cols = append(cols, c)
	}
	return cols, nil
}

func introspectMySQLIndexes(ctx context.Context, db *sqlx.DB, dbName, tableName string) ([]Index, error) {
	var rows []mysqlIndexRow
	err := db.SelectContext(ctx, &rows,
		`SELECT INDEX_NAME AS index_name, COLUMN_NAME AS column_name, NON_UNIQUE AS non_unique,
		        SEQ_IN_INDEX AS seq_in_index, INDEX_TYPE AS index_type, SUB_PART AS sub_part
		 FROM INFORMATION_SCHEMA.STATISTICS
		 WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		 ORDER BY INDEX_NAME, SEQ_IN_INDEX`,
		dbName, tableName,
	)
	if err != nil {
		return nil, err
	}

	indexMap := make(map[string]*Index)
	var indexOrder []string
	for _, r := range rows {
		idx, ok := indexMap[r.Name]
		if !ok {
			idx = &Index{
				Name:      r.Name,
				Unique:    r.NonUnique == 0,
				IsPrimary: r.Name == "PRIMARY",
				Type:      strings.ToUpper(r.Type),
			}
			indexMap[r.Name] = idx
			indexOrder = append(indexOrder, r.Name)
		}
		if r.SubPart.Valid {
			idx.HasPrefix = true
		}
		if !r.Column.Valid {
			idx.HasExpression = true
			continue
		}
		idx.Columns = append(idx.Columns, r.Column.String)
	}

	indexes := make([]Index, 0, len(indexOrder))
	for _, name := range indexOrder {
		indexes = append(indexes, *indexMap[name])
	}
	return indexes, nil
}

func introspectMySQLForeignKeys(ctx context.Context, db *sqlx.DB, dbName, tableName string) ([]ForeignKey, error) {
	var rows []mysqlForeignKeyRow
	err := db.SelectContext(ctx, &rows,
		`SELECT kcu.CONSTRAINT_NAME AS constraint_name, kcu.COLUMN_NAME AS column_name,
		        kcu.REFERENCED_TABLE_NAME AS ref_table, kcu.REFERENCED_COLUMN_NAME AS ref_column,
		        rc.UPDATE_RULE AS update_rule, rc.DELETE_RULE AS delete_rule
		 FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
		 JOIN INFORMATION_SCHEMA.REFERENTIAL_CONSTRAINTS rc
		   ON kcu.CONSTRAINT_NAME = rc.CONSTRAINT_NAME
		   AND kcu.TABLE_SCHEMA = rc.CONSTRAINT_SCHEMA
		 WHERE kcu.TABLE_SCHEMA = ? AND kcu.TABLE_NAME = ?
		   AND kcu.REFERENCED_TABLE_NAME IS NOT NULL
		 ORDER BY kcu.CONSTRAINT_NAME, kcu.ORDINAL_POSITION`,
		dbName, tableName,
	)
	if err != nil {
		return nil, err
	}

	fkMap := make(map[string]*ForeignKey)
	var fkOrder []string
	for _, r := range rows {
		fk, ok := fkMap[r.Name]
		if !ok {
			fk = &ForeignKey{
				Name:       r.Name,
				RefTable:   r.RefTable,
				UpdateRule: r.UpdateRule,
				DeleteRule: r.DeleteRule,
			}
			fkMap[r.Name] = fk
			fkOrder = append(fkOrder, r.Name)
		}
		fk.Columns = append(fk.Columns, r.Column)
		fk.RefColumns = append(fk.RefColumns, r.RefColumn)
	}

	fks := make([]ForeignKey, 0, len(fkOrder))
	for _, name := range fkOrder {
		fks = append(fks, *fkMap[name])
	}
	return fks, nil
}

func introspectMySQLSourceObjects(ctx context.Context, db *sqlx.DB, dbName string) (*SourceObjects, error) {
	objs := &SourceObjects{}

	if err := db.SelectContext(ctx, &objs.Views, `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.VIEWS
		WHERE TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME
	`, dbName); err != nil {
		return nil, fmt.Errorf("introspect views: %w", err)
	}

	if err := db.SelectContext(ctx, &objs.Routines, `
		SELECT CONCAT(ROUTINE_TYPE, ' ', ROUTINE_NAME)
		FROM INFORMATION_SCHEMA.ROUTINES
		WHERE ROUTINE_SCHEMA = ?
		ORDER BY ROUTINE_TYPE, ROUTINE_NAME
	`, dbName); err != nil {
		return nil, fmt.Errorf("introspect routines: %w", err)
	}

	if err := db.SelectContext(ctx, &objs.Triggers, `
		SELECT TRIGGER_NAME
		FROM INFORMATION_SCHEMA.TRIGGERS
		WHERE TRIGGER_SCHEMA = ?
		ORDER BY TRIGGER_NAME
	`, dbName); err != nil {
		return nil, fmt.Errorf("introspect triggers: %w", err)
	}

	return objs, nil
}
