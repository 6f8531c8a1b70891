package main

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sqliteMigrationConfig(t *testing.T, chunk int, stmts ...string) *MigrationConfig {
	t.Helper()
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "source.db")
	seedSQLite(t, srcPath, stmts...)

	cfg := defaultConfig()
	cfg.Source.Type = "sqlite"
	cfg.Source.Path = srcPath
	cfg.Target.Path = filepath.Join(dir, "target.db")
	cfg.ChunkSize = chunk
	cfg.Workers = 2
	cfg.Retry.BaseDelay = Duration{}
	require.NoError(t, cfg.validate())
	return &cfg
}

// runMigrator runs m to completion and returns the summary, every progress
// event received, and the run error.
func runMigrator(t *testing.T, ctx context.Context, m *Migrator) (*Summary, []Event, error) {
	t.Helper()
	var events []Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range m.Events() {
			events = append(events, e)
		}
	}()
	summary, err := m.Run(ctx)
	<-done
	return summary, events, err
}

func migrate(t *testing.T, cfg *MigrationConfig) (*Summary, []Event, error) {
	t.Helper()
	m, err := NewMigrator(cfg)
	require.NoError(t, err)
	return runMigrator(t, context.Background(), m)
}

func seedFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func openTargetFile(t *testing.T, cfg *MigrationConfig) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", cfg.Target.Path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func result(t *testing.T, s *Summary, table string) TableResult {
	t.Helper()
	for _, r := range s.Tables {
		if r.Name == table {
			return r
		}
	}
	t.Fatalf("no result for table %s", table)
	return TableResult{}
}

var usersSource = []string{
	`CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, name VARCHAR(50) NOT NULL, email VARCHAR(100))`,
	`INSERT INTO users (name, email) VALUES ('ada', 'ada@example.com'), ('bob', NULL), ('cy', 'cy@example.com')`,
}

func TestMigrate_Users(t *testing.T) {
	cfg := sqliteMigrationConfig(t, 2, usersSource...)

	summary, events, err := migrate(t, cfg)
	require.NoError(t, err)
	require.True(t, summary.OK())
	require.NotEmpty(t, summary.RunID)

	r := result(t, summary, "users")
	require.Equal(t, StateCompleted, r.State)
	require.Equal(t, int64(3), r.Rows)
	require.Equal(t, 2, r.Chunks)
	require.Equal(t, int64(3), summary.RowsCopied)

	require.Len(t, events, 4)
	require.Equal(t, TableStarted, events[0].Kind)
	require.Equal(t, int64(3), events[0].EstimatedRows)
	require.Equal(t, ChunkCommitted, events[1].Kind)
	require.Equal(t, 2, events[1].ChunkRows)
	require.Equal(t, ChunkCommitted, events[2].Kind)
	require.Equal(t, 1, events[2].ChunkRows)
	require.Equal(t, int64(3), events[2].Rows)
	require.Equal(t, TableCompleted, events[3].Kind)

	db := openTargetFile(t, cfg)
	var email sql.NullString
	require.NoError(t, db.QueryRow(`SELECT email FROM users WHERE name = 'bob'`).Scan(&email))
	require.False(t, email.Valid, "NULL must survive the copy")

	var ddl string
	require.NoError(t, db.QueryRow(`SELECT sql FROM sqlite_master WHERE name = 'users'`).Scan(&ddl))
	require.Contains(t, ddl, "PRIMARY KEY AUTOINCREMENT")
	require.Contains(t, ddl, `"name" VARCHAR(50) NOT NULL`)
}

func TestMigrate_ChunkCount(t *testing.T) {
	tests := []struct {
		rows, chunk, wantChunks int
	}{
		{0, 2, 0},
		{1, 2, 1},
		{4, 2, 2},
		{5, 2, 3},
		{5, 10, 1},
		{5, 5, 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d rows by %d", tt.rows, tt.chunk), func(t *testing.T) {
			stmts := append([]string{"CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)"}, insertRows("items", tt.rows)...)
			cfg := sqliteMigrationConfig(t, tt.chunk, stmts...)

			summary, _, err := migrate(t, cfg)
			require.NoError(t, err)

			r := result(t, summary, "items")
			require.Equal(t, StateCompleted, r.State)
			require.Equal(t, tt.wantChunks, r.Chunks)
			require.Equal(t, int64(tt.rows), r.Rows)

			var n int
			require.NoError(t, openTargetFile(t, cfg).QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n))
			require.Equal(t, tt.rows, n)
		})
	}
}

func TestMigrate_RoundTrip(t *testing.T) {
	cfg := sqliteMigrationConfig(t, 2,
		`CREATE TABLE samples (id INTEGER PRIMARY KEY, i BIGINT, r DOUBLE, s TEXT, b BLOB, d DATE, ts DATETIME, n NUMERIC)`,
		`INSERT INTO samples VALUES
			(1, -9223372036854775808, 1.25, 'héllo', X'00FF10', '2024-02-29', '2024-02-29 13:04:05', 12.5),
			(2, 9223372036854775807, -0.5, '', X'00', '1999-12-31', '1999-12-31 23:59:59', 7),
			(3, NULL, NULL, NULL, NULL, NULL, NULL, NULL)`,
	)

	summary, _, err := migrate(t, cfg)
	require.NoError(t, err)
	require.True(t, summary.OK())

	const q = `SELECT quote(id), quote(i), quote(r), quote(s), quote(b), quote(d), quote(ts), quote(n) FROM samples ORDER BY id`
	read := func(path string) [][]string {
		db, err := sql.Open("sqlite", path)
		require.NoError(t, err)
		defer db.Close()
		rows, err := db.Query(q)
		require.NoError(t, err)
		defer rows.Close()
		var out [][]string
		for rows.Next() {
			row := make([]string, 8)
			dest := make([]any, len(row))
			for i := range row {
				dest[i] = &row[i]
			}
			require.NoError(t, rows.Scan(dest...))
			out = append(out, row)
		}
		require.NoError(t, rows.Err())
		return out
	}

	require.Equal(t, read(cfg.Source.Path), read(cfg.Target.Path))
}

func TestMigrate_ColumnCatalogRoundTrip(t *testing.T) {
	cfg := sqliteMigrationConfig(t, 2,
		`CREATE TABLE defaults (
			id INTEGER PRIMARY KEY,
			label TEXT NOT NULL DEFAULT 'x',
			delta INT NOT NULL DEFAULT -1,
			ratio REAL DEFAULT (1.5*2),
			created DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			tag TEXT DEFAULT "dq",
			amount DECIMAL(10,2) NOT NULL DEFAULT 0.00,
			note VARCHAR(20)
		)`,
		`INSERT INTO defaults (id) VALUES (1)`,
	)

	summary, _, err := migrate(t, cfg)
	require.NoError(t, err)
	require.True(t, summary.OK())

	src, err := sql.Open("sqlite", cfg.Source.Path)
	require.NoError(t, err)
	defer src.Close()

	want := tableInfo(t, src, "defaults")
	require.Equal(t, `"dq"`, want[5].Default.String)
	want[5].Default.String = `'dq'`
	require.Equal(t, want, tableInfo(t, openTargetFile(t, cfg), "defaults"))

	var tag string
	var delta int
	require.NoError(t, openTargetFile(t, cfg).QueryRow(`INSERT INTO defaults (id) VALUES (2) RETURNING tag, delta`).Scan(&tag, &delta))
	require.Equal(t, "dq", tag)
	require.Equal(t, -1, delta)
}

func TestMigrate_NullableTextKey(t *testing.T) {
	cfg := sqliteMigrationConfig(t, 2,
		`CREATE TABLE t (k TEXT PRIMARY KEY, v INT)`,
		`INSERT INTO t VALUES (NULL, 1), (NULL, 2), (NULL, 3), ('a', 4), ('b', 5)`,
	)

	summary, _, err := migrate(t, cfg)
	require.NoError(t, err)
	require.True(t, summary.OK())
	require.Equal(t, int64(5), result(t, summary, "t").Rows)

	var n, sum int
	require.NoError(t, openTargetFile(t, cfg).QueryRow(`SELECT COUNT(*), SUM(v) FROM t`).Scan(&n, &sum))
	require.Equal(t, 5, n)
	require.Equal(t, 15, sum)
}

func TestMigrate_DependencyOrderAndForeignKeys(t *testing.T) {
	cfg := sqliteMigrationConfig(t, 10,
		`CREATE TABLE comments (id INTEGER PRIMARY KEY, post_id INTEGER NOT NULL REFERENCES posts (id) ON DELETE CASCADE, body TEXT)`,
		`CREATE TABLE posts (id INTEGER PRIMARY KEY, author_id INTEGER REFERENCES authors (id), title TEXT)`,
		`CREATE TABLE authors (id INTEGER PRIMARY KEY, name TEXT)`,
		`INSERT INTO authors VALUES (1, 'ann')`,
		`INSERT INTO posts VALUES (1, 1, 'hello'), (2, 1, 'again')`,
		`INSERT INTO comments VALUES (1, 1, 'nice'), (2, 2, 'ok'), (3, 1, 'more')`,
	)

	summary, events, err := migrate(t, cfg)
	require.NoError(t, err)
	require.True(t, summary.OK())

	names := []string{}
	for _, r := range summary.Tables {
		names = append(names, r.Name)
	}
	require.Equal(t, []string{"authors", "posts", "comments"}, names)

	started := []string{}
	for _, e := range events {
		if e.Kind == TableStarted {
			started = append(started, e.Table)
		}
	}
	require.Equal(t, []string{"authors", "posts", "comments"}, started)

	db := openTargetFile(t, cfg)
	var ddl string
	require.NoError(t, db.QueryRow(`SELECT sql FROM sqlite_master WHERE name = 'comments'`).Scan(&ddl))
	require.Contains(t, ddl, `FOREIGN KEY ("post_id") REFERENCES "posts" ("id") ON DELETE CASCADE`)

	for _, w := range summary.Warnings {
		require.NotContains(t, w, "reference missing rows")
	}
}

func TestMigrate_WithoutForeignKeys(t *testing.T) {
	cfg := sqliteMigrationConfig(t, 10,
		`CREATE TABLE parents (id INTEGER PRIMARY KEY)`,
		`CREATE TABLE children (id INTEGER PRIMARY KEY, parent_id INTEGER REFERENCES parents (id))`,
	)
	cfg.WithoutForeignKeys = true
	cfg.DependencyOrder = false

	summary, _, err := migrate(t, cfg)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Completed)

	var ddl string
	require.NoError(t, openTargetFile(t, cfg).QueryRow(`SELECT sql FROM sqlite_master WHERE name = 'children'`).Scan(&ddl))
	require.NotContains(t, ddl, "FOREIGN KEY")
}

func TestMigrate_ForeignKeyViolationsReported(t *testing.T) {
	cfg := sqliteMigrationConfig(t, 10,
		`CREATE TABLE parents (id INTEGER PRIMARY KEY)`,
		`CREATE TABLE children (id INTEGER PRIMARY KEY, parent_id INTEGER REFERENCES parents (id))`,
		`INSERT INTO children VALUES (1, 42)`,
	)

	summary, _, err := migrate(t, cfg)
	require.NoError(t, err)
	require.True(t, summary.OK())
	require.Contains(t, summary.Warnings, "1 row(s) in children reference missing rows in parents")
}

// faultyWriter wraps the real writer and fails the chunk numbered failOn.
type faultyWriter struct {
	inner  batchWriter
	calls  int
	failOn int
	err    error
	after  func()
}

func (w *faultyWriter) WriteBatch(ctx context.Context, batch []Row, offset int64) error {
	w.calls++
	if w.calls == w.failOn {
		return w.err
	}
	if err := w.inner.WriteBatch(ctx, batch, offset); err != nil {
		return err
	}
	if w.after != nil {
		w.after()
	}
	return nil
}

func withWriter(m *Migrator, wrap func(inner batchWriter) batchWriter) {
	orig := m.newWriter
	m.newWriter = func(db *sql.DB, t *Table, timeout time.Duration) batchWriter {
		return wrap(orig(db, t, timeout))
	}
}

func TestMigrate_WriteFaultFailsTable(t *testing.T) {
	stmts := append([]string{"CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)"}, insertRows("items", 7)...)
	cfg := sqliteMigrationConfig(t, 2, stmts...)

	m, err := NewMigrator(cfg)
	require.NoError(t, err)
	fault := errors.New("disk said no")
	withWriter(m, func(inner batchWriter) batchWriter {
		return &faultyWriter{inner: inner, failOn: 3, err: fault}
	})

	summary, events, runErr := runMigrator(t, context.Background(), m)
	require.NoError(t, runErr)
	require.False(t, summary.OK())

	r := result(t, summary, "items")
	require.Equal(t, StateFailed, r.State)
	require.Equal(t, 2, r.Chunks)
	require.Equal(t, int64(4), r.Rows)
	require.ErrorIs(t, r.Err(), fault)
	require.Equal(t, TableFailed, events[len(events)-1].Kind)

	var n int
	require.NoError(t, openTargetFile(t, cfg).QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n))
	require.Equal(t, 4, n, "committed chunks stay; the failed chunk leaves nothing")
}

func TestMigrate_TransientWriteFaultRetried(t *testing.T) {
	stmts := append([]string{"CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)"}, insertRows("items", 5)...)
	cfg := sqliteMigrationConfig(t, 2, stmts...)

	m, err := NewMigrator(cfg)
	require.NoError(t, err)
	withWriter(m, func(inner batchWriter) batchWriter {
		return &faultyWriter{inner: inner, failOn: 2, err: driver.ErrBadConn}
	})

	summary, _, runErr := runMigrator(t, context.Background(), m)
	require.NoError(t, runErr)

	r := result(t, summary, "items")
	require.Equal(t, StateCompleted, r.State)
	require.Equal(t, 3, r.Chunks)
	require.Equal(t, int64(5), r.Rows)
}

type alwaysFailing struct{ err error }

func (w alwaysFailing) WriteBatch(context.Context, []Row, int64) error { return w.err }

func TestMigrate_PersistentConnectionFaultWithLiveEndpoints(t *testing.T) {
	cfg := sqliteMigrationConfig(t, 2,
		"CREATE TABLE a (id INTEGER PRIMARY KEY)", "INSERT INTO a VALUES (1)",
		"CREATE TABLE b (id INTEGER PRIMARY KEY)", "INSERT INTO b VALUES (1)",
	)
	cfg.DependencyOrder = false
	cfg.Workers = 1

	m, err := NewMigrator(cfg)
	require.NoError(t, err)
	withWriter(m, func(inner batchWriter) batchWriter {
		return alwaysFailing{err: driver.ErrBadConn}
	})

	summary, _, runErr := runMigrator(t, context.Background(), m)
	require.NoError(t, runErr, "endpoints still answer pings, so only tables fail")
	require.False(t, summary.Aborted)
	require.Equal(t, 2, summary.Failed)
}

func TestMigrate_TableExists(t *testing.T) {
	cfg := sqliteMigrationConfig(t, 2, usersSource...)

	_, _, err := migrate(t, cfg)
	require.NoError(t, err)

	summary, _, err := migrate(t, cfg)
	require.NoError(t, err)
	r := result(t, summary, "users")
	require.Equal(t, StateFailed, r.State)
	var exists *TargetAlreadyExistsError
	require.ErrorAs(t, r.Err(), &exists)

	var n int
	require.NoError(t, openTargetFile(t, cfg).QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n))
	require.Equal(t, 3, n, "refused table keeps its rows")
}

func TestMigrate_OverwriteIsIdempotent(t *testing.T) {
	cfg := sqliteMigrationConfig(t, 2, usersSource...)
	cfg.OnTableExists = "overwrite"

	for run := 0; run < 2; run++ {
		summary, _, err := migrate(t, cfg)
		require.NoError(t, err)
		require.True(t, summary.OK(), "run %d", run)
	}

	var n int
	require.NoError(t, openTargetFile(t, cfg).QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n))
	require.Equal(t, 3, n)
}

func TestMigrate_Cancellation(t *testing.T) {
	stmts := append([]string{"CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)"}, insertRows("items", 6)...)
	cfg := sqliteMigrationConfig(t, 2, stmts...)
	cfg.Vacuum = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m, err := NewMigrator(cfg)
	require.NoError(t, err)
	withWriter(m, func(inner batchWriter) batchWriter {
		return &faultyWriter{inner: inner, after: cancel}
	})

	summary, _, runErr := runMigrator(t, ctx, m)
	require.ErrorIs(t, runErr, context.Canceled)
	require.True(t, summary.Interrupted)
	require.False(t, summary.Compacted)

	r := result(t, summary, "items")
	require.Equal(t, StateCopying, r.State)
	require.Equal(t, 1, r.Chunks)
	require.Equal(t, []string{"items (copying)"}, summary.IncompleteTables())
}

func TestMigrate_MissingTable(t *testing.T) {
	cfg := sqliteMigrationConfig(t, 2, usersSource...)
	cfg.Tables = []string{"users", "ghosts"}

	summary, _, err := migrate(t, cfg)
	var ie *SchemaIntrospectionError
	require.ErrorAs(t, err, &ie)
	require.Equal(t, "ghosts", ie.Table)
	require.NotNil(t, summary)
	require.Empty(t, summary.Tables)
}

func TestMigrate_AllowList(t *testing.T) {
	cfg := sqliteMigrationConfig(t, 2,
		"CREATE TABLE keep (id INTEGER PRIMARY KEY)",
		"CREATE TABLE skip (id INTEGER PRIMARY KEY)",
	)
	cfg.Tables = []string{"keep"}

	summary, _, err := migrate(t, cfg)
	require.NoError(t, err)
	require.Len(t, summary.Tables, 1)

	exists, err := targetObjectExists(context.Background(), openTargetFile(t, cfg), "table", "skip")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestMigrate_Hooks(t *testing.T) {
	cfg := sqliteMigrationConfig(t, 2, usersSource...)
	dir := filepath.Dir(cfg.Target.Path)
	seedFile(t, filepath.Join(dir, "before.sql"), "CREATE TABLE audit (phase TEXT); INSERT INTO audit VALUES ('before');")
	seedFile(t, filepath.Join(dir, "after.sql"), "INSERT INTO audit SELECT 'after:' || COUNT(*) FROM users;")
	cfg.configDir = dir
	cfg.Hooks.BeforeData = []string{"before.sql"}
	cfg.Hooks.AfterAll = []string{"after.sql"}

	_, _, err := migrate(t, cfg)
	require.NoError(t, err)

	rows, err := openTargetFile(t, cfg).Query(`SELECT phase FROM audit ORDER BY rowid`)
	require.NoError(t, err)
	defer rows.Close()
	var phases []string
	for rows.Next() {
		var p string
		require.NoError(t, rows.Scan(&p))
		phases = append(phases, p)
	}
	require.Equal(t, []string{"before", "after:3"}, phases)
}

func TestMigrate_Vacuum(t *testing.T) {
	cfg := sqliteMigrationConfig(t, 2, usersSource...)
	cfg.Vacuum = true

	summary, _, err := migrate(t, cfg)
	require.NoError(t, err)
	require.True(t, summary.Compacted)
}

func TestMigrator_RunOnce(t *testing.T) {
	cfg := sqliteMigrationConfig(t, 2, usersSource...)
	m, err := NewMigrator(cfg)
	require.NoError(t, err)

	_, _, err = runMigrator(t, context.Background(), m)
	require.NoError(t, err)

	_, err = m.Run(context.Background())
	require.ErrorContains(t, err, "already ran")
}
