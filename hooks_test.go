package main

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want []string
	}{
		{
			"single statement",
			"SELECT 1",
			[]string{"SELECT 1"},
		},
		{
			"two statements",
			"SELECT 1; SELECT 2;",
			[]string{"SELECT 1", "SELECT 2"},
		},
		{
			"empty statements skipped",
			"SELECT 1;; ;SELECT 2;",
			[]string{"SELECT 1", "SELECT 2"},
		},
		{
			"semicolon inside quotes",
			"SELECT 'hello;world'; SELECT 2",
			[]string{"SELECT 'hello;world'", "SELECT 2"},
		},
		{
			"escaped quotes",
			"SELECT 'it''s'; SELECT 2",
			[]string{"SELECT 'it''s'", "SELECT 2"},
		},
		{
			"empty input",
			"",
			nil,
		},
		{
			"multiline SQL",
			"DELETE FROM users\nWHERE id = 1;\nDELETE FROM posts\nWHERE user_id = 1;",
			[]string{"DELETE FROM users\nWHERE id = 1", "DELETE FROM posts\nWHERE user_id = 1"},
		},
		{
			"comments preserved in statements",
			"-- cleanup\nDELETE FROM t; SELECT 1",
			[]string{"-- cleanup\nDELETE FROM t", "SELECT 1"},
		},
		{
			"line comment with semicolon",
			"-- a; b\nSELECT 1;",
			[]string{"-- a; b\nSELECT 1"},
		},
		{
			"block comment with semicolon",
			"/* comment; still comment */ SELECT 1; SELECT 2;",
			[]string{"/* comment; still comment */ SELECT 1", "SELECT 2"},
		},
		{
			"double-quoted identifier with semicolon",
			`SELECT "a;b" FROM t; SELECT 2;`,
			[]string{`SELECT "a;b" FROM t`, "SELECT 2"},
		},
		{
			"backtick and bracket identifiers",
			"SELECT `x;y`, [p;q] FROM t; SELECT 2",
			[]string{"SELECT `x;y`, [p;q] FROM t", "SELECT 2"},
		},
		{
			"trigger body",
			"CREATE TRIGGER trg AFTER INSERT ON a BEGIN UPDATE b SET n = n + 1; DELETE FROM c; END; SELECT 1;",
			[]string{"CREATE TRIGGER trg AFTER INSERT ON a BEGIN UPDATE b SET n = n + 1; DELETE FROM c; END", "SELECT 1"},
		},
		{
			"temp trigger body",
			"CREATE TEMP TRIGGER IF NOT EXISTS t2 BEFORE DELETE ON a BEGIN SELECT RAISE(ABORT, 'no;'); END;",
			[]string{"CREATE TEMP TRIGGER IF NOT EXISTS t2 BEFORE DELETE ON a BEGIN SELECT RAISE(ABORT, 'no;'); END"},
		},
		{
			"begin transaction is not a trigger",
			"BEGIN; INSERT INTO t VALUES (1); COMMIT;",
			[]string{"BEGIN", "INSERT INTO t VALUES (1)", "COMMIT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitStatements(tt.sql)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitStatements(%q) =\n  %v\nwant:\n  %v", tt.sql, got, tt.want)
			}
		})
	}
}

func TestStripSQLComments(t *testing.T) {
	got := strings.Fields(stripSQLComments("CREATE/* x */TRIGGER -- y\nBEGIN"))
	want := []string{"CREATE", "TRIGGER", "BEGIN"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("stripSQLComments() fields = %v, want %v", got, want)
	}
}

func TestLoadAndExecSQLFiles(t *testing.T) {
	dir := t.TempDir()
	hook := "CREATE TABLE audit (db TEXT);\nINSERT INTO audit VALUES ('{{database}}');\n"
	if err := os.WriteFile(filepath.Join(dir, "after.sql"), []byte(hook), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := &MigrationConfig{configDir: dir, Source: SourceConfig{Database: "shop"}}
	db := openTestTarget(t)

	if err := loadAndExecSQLFiles(context.Background(), db, cfg, []string{"after.sql"}, "after_all"); err != nil {
		t.Fatalf("loadAndExecSQLFiles() error: %v", err)
	}

	var got string
	if err := db.QueryRow("SELECT db FROM audit").Scan(&got); err != nil {
		t.Fatal(err)
	}
	if got != "shop" {
		t.Errorf("{{database}} expanded to %q, want shop", got)
	}
}

func TestLoadAndExecSQLFiles_Errors(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.sql"), []byte("SELECT 1; NOT SQL;"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := &MigrationConfig{configDir: dir}
	db := openTestTarget(t)

	err := loadAndExecSQLFiles(context.Background(), db, cfg, []string{"bad.sql"}, "before_data")
	if err == nil || !strings.Contains(err.Error(), "statement 2") {
		t.Fatalf("expected statement 2 failure, got %v", err)
	}

	err = loadAndExecSQLFiles(context.Background(), db, cfg, []string{"missing.sql"}, "before_data")
	if err == nil || !strings.Contains(err.Error(), "missing.sql") {
		t.Fatalf("expected read failure naming the file, got %v", err)
	}
}
