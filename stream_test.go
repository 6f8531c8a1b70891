package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// seedSQLite creates a SQLite file at path and runs stmts against it.
func seedSQLite(t *testing.T, path string, stmts ...string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
}

// openSeededSource seeds a source file and returns it open along with the
// named table, introspected and resolved.
func openSeededSource(t *testing.T, table string, stmts ...string) (*sql.DB, *Table) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.db")
	seedSQLite(t, path, stmts...)

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	src := &sqliteSourceDB{}
	schema, err := src.IntrospectSchema(context.Background(), db, "source", []string{table})
	require.NoError(t, err)
	require.Len(t, schema.Tables, 1)
	tbl := &schema.Tables[0]
	_, err = resolveTable(src, tbl, TypeOptions{EnumMode: "text", CollationMode: "none"})
	require.NoError(t, err)
	return db, tbl
}

func insertRows(table string, n int) []string {
	stmts := make([]string, n)
	for i := range stmts {
		stmts[i] = fmt.Sprintf("INSERT INTO %s (name) VALUES ('row-%d')", table, i+1)
	}
	return stmts
}

func streamConfig(chunk int) *MigrationConfig {
	cfg := defaultConfig()
	cfg.ChunkSize = chunk
	return &cfg
}

func drain(t *testing.T, s *rowStreamer) []int {
	t.Helper()
	var sizes []int
	for i := 0; i < 100; i++ {
		batch, err := s.Next(context.Background())
		require.NoError(t, err)
		if len(batch) == 0 {
			return sizes
		}
		sizes = append(sizes, len(batch))
	}
	t.Fatal("streamer never exhausted")
	return nil
}

func TestRowStreamer_Keyset(t *testing.T) {
	stmts := append([]string{"CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL)"}, insertRows("items", 5)...)
	db, tbl := openSeededSource(t, "items", stmts...)

	s := newRowStreamer(db, &sqliteSourceDB{}, tbl, streamConfig(2))
	require.Equal(t, streamKeyset, s.mode)
	require.Equal(t, int64(5), s.estimateRows(context.Background()))

	first, err := s.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Equal(t, []any{int64(2)}, s.cursor.lastKey)
	require.Equal(t, "row-1", first[0][1].Text)

	require.Equal(t, []int{2, 1}, drain(t, s))
	require.Equal(t, int64(5), s.cursor.offset)

	again, err := s.Next(context.Background())
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestRowStreamer_ExactMultiple(t *testing.T) {
	stmts := append([]string{"CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)"}, insertRows("items", 4)...)
	db, tbl := openSeededSource(t, "items", stmts...)

	s := newRowStreamer(db, &sqliteSourceDB{}, tbl, streamConfig(2))
	require.Equal(t, []int{2, 2}, drain(t, s))
}

func TestRowStreamer_EmptyTable(t *testing.T) {
	db, tbl := openSeededSource(t, "items", "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)")

	s := newRowStreamer(db, &sqliteSourceDB{}, tbl, streamConfig(10))
	require.Empty(t, drain(t, s))
	require.True(t, s.done)
}

func TestRowStreamer_OffsetWithoutPrimaryKey(t *testing.T) {
	stmts := append([]string{"CREATE TABLE logs (name TEXT)"}, insertRows("logs", 5)...)
	db, tbl := openSeededSource(t, "logs", stmts...)

	s := newRowStreamer(db, &sqliteSourceDB{}, tbl, streamConfig(3))
	require.Equal(t, streamOffset, s.mode)

	q, args := s.pageQuery()
	require.Contains(t, q, "LIMIT ? OFFSET ?")
	require.Equal(t, []any{3, int64(0)}, args)

	require.Equal(t, []int{3, 2}, drain(t, s))
}

func TestRowStreamer_Buffered(t *testing.T) {
	stmts := append([]string{"CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)"}, insertRows("items", 7)...)
	db, tbl := openSeededSource(t, "items", stmts...)

	cfg := streamConfig(3)
	cfg.Buffered = true
	s := newRowStreamer(db, &sqliteSourceDB{}, tbl, cfg)
	require.Equal(t, streamBuffered, s.mode)
	require.Equal(t, []int{3, 3, 1}, drain(t, s))
	require.Nil(t, s.rows)
}

func TestRowStreamer_CompositeKeyQuery(t *testing.T) {
	db, tbl := openSeededSource(t, "pairs",
		"CREATE TABLE pairs (a INTEGER NOT NULL, b TEXT NOT NULL, v REAL, PRIMARY KEY (a, b))",
		"INSERT INTO pairs VALUES (1, 'x', 0.5), (1, 'y', 1.5), (2, 'a', 2.5)",
	)

	s := newRowStreamer(db, &sqliteSourceDB{}, tbl, streamConfig(2))
	require.Equal(t, streamKeyset, s.mode)

	batch, err := s.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.Equal(t, []any{int64(1), "y"}, s.cursor.lastKey)

	q, args := s.pageQuery()
	require.True(t, strings.Contains(q, `WHERE ("a", "b") > (?, ?)`), q)
	require.Equal(t, []any{int64(1), "y", 2}, args)

	rest, err := s.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, int64(2), rest[0][0].Int)
}

func TestRowStreamer_NumericKeyUsesOffset(t *testing.T) {
	db, tbl := openSeededSource(t, "prices",
		"CREATE TABLE prices (amount DECIMAL(10,2) PRIMARY KEY)",
	)
	s := newRowStreamer(db, &sqliteSourceDB{}, tbl, streamConfig(2))
	require.Equal(t, streamOffset, s.mode)
}

func TestRowStreamer_NullableKeyUsesOffset(t *testing.T) {
	db, tbl := openSeededSource(t, "t",
		"CREATE TABLE t (k TEXT PRIMARY KEY, v INT)",
		"INSERT INTO t VALUES (NULL, 1), (NULL, 2), (NULL, 3), ('a', 4), ('b', 5)",
	)

	s := newRowStreamer(db, &sqliteSourceDB{}, tbl, streamConfig(2))
	require.Equal(t, streamOffset, s.mode)
	require.Equal(t, []int{2, 2, 1}, drain(t, s))
	require.Equal(t, int64(5), s.cursor.offset)
}

func TestKeysetCapable(t *testing.T) {
	key := func(cols ...Column) *Table {
		tbl := &Table{Name: "t", Columns: cols, PrimaryKey: &Index{Name: "PRIMARY", IsPrimary: true}}
		for i := range tbl.Columns {
			tbl.PrimaryKey.Columns = append(tbl.PrimaryKey.Columns, tbl.Columns[i].Name)
		}
		return tbl
	}
	col := func(name, dataType, columnType string, aff Affinity, nullable bool) Column {
		return Column{
			Name:       name,
			DataType:   dataType,
			ColumnType: columnType,
			Nullable:   nullable,
			Target:     &TargetType{Affinity: aff, Nullable: nullable},
		}
	}

	tests := []struct {
		name string
		tbl  *Table
		want bool
	}{
		{"no key", &Table{Name: "t"}, false},
		{"rowid alias", key(col("id", "integer", "integer", AffinityInteger, true)), true},
		{"not null text", key(col("k", "varchar", "varchar(20)", AffinityText, false)), true},
		{"nullable text", key(col("k", "text", "text", AffinityText, true)), false},
		{"nullable composite", key(
			col("a", "integer", "integer", AffinityInteger, true),
			col("b", "text", "text", AffinityText, false),
		), false},
		{"enum", key(col("e", "enum", "enum('b','a')", AffinityText, false)), false},
		{"set", key(col("s", "set", "set('x','y')", AffinityText, false)), false},
		{"real", key(col("r", "double", "double", AffinityReal, false)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, keysetCapable(tt.tbl))
		})
	}
}

func TestRowStreamer_ReadErrorIsSourceReadError(t *testing.T) {
	db, tbl := openSeededSource(t, "items", "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)")
	s := newRowStreamer(db, &sqliteSourceDB{}, tbl, streamConfig(2))

	_, err := db.Exec("DROP TABLE items")
	require.NoError(t, err)

	_, err = s.Next(context.Background())
	var readErr *SourceReadError
	require.True(t, errors.As(err, &readErr), "got %v", err)
	require.Equal(t, "items", readErr.Table)
	require.Equal(t, int64(0), readErr.Offset)
	require.Equal(t, int64(-1), s.estimateRows(context.Background()))
}

func TestPlaceholders(t *testing.T) {
	require.Equal(t, "?", placeholders(1))
	require.Equal(t, "?, ?, ?", placeholders(3))
}
