package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
)

// loadAndExecSQLFiles reads each SQL file, expands {{database}}, and executes
// every statement against the target.
func loadAndExecSQLFiles(ctx context.Context, db *sql.DB, cfg *MigrationConfig, files []string, phase string) error {
	if len(files) == 0 {
		return nil
	}
	log.Printf("  running %s hooks (%d files)...", phase, len(files))

	for _, f := range files {
		path := cfg.resolvePath(f)
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("hook %s: read %s: %w", phase, f, err)
		}

		text := strings.ReplaceAll(string(data), "{{database}}", cfg.Source.Database)
		stmts := splitStatements(text)

		log.Printf("    %s: %d statements", f, len(stmts))
		for i, stmt := range stmts {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("hook %s: %s: statement %d: %w\nSQL: %s", phase, f, i+1, err, stmt)
			}
		}
	}
	return nil
}

// splitStatements splits SQL text on semicolons, ignoring empty entries and
// semicolons inside quotes, comments and CREATE TRIGGER bodies.
func splitStatements(sql string) []string {
	var stmts []string
	var current strings.Builder
	var quote byte // one of ' " ` ] while inside a quoted token
	inLineComment := false
	inBlockComment := false

	for i := 0; i < len(sql); i++ {
		c := sql[i]

		if inLineComment {
			current.WriteByte(c)
			if c == '\n' {
				inLineComment = false
			}
			continue
		}

		if inBlockComment {
			current.WriteByte(c)
			if c == '*' && i+1 < len(sql) && sql[i+1] == '/' {
				current.WriteByte(sql[i+1])
				i++
				inBlockComment = false
			}
			continue
		}

		if quote != 0 {
			current.WriteByte(c)
			if c == quote {
				// doubled quote is an escaped quote character
				if quote != ']' && i+1 < len(sql) && sql[i+1] == quote {
					current.WriteByte(sql[i+1])
					i++
				} else {
					quote = 0
				}
			}
			continue
		}

		switch {
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			current.WriteByte(c)
			current.WriteByte(sql[i+1])
			i++
			inLineComment = true
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			current.WriteByte(c)
			current.WriteByte(sql[i+1])
			i++
			inBlockComment = true
		case c == '\'', c == '"', c == '`':
			current.WriteByte(c)
			quote = c
		case c == '[':
			current.WriteByte(c)
			quote = ']'
		case c == ';':
			if inTriggerBody(current.String()) {
				current.WriteByte(c)
				continue
			}
			if s := strings.TrimSpace(current.String()); s != "" {
				stmts = append(stmts, s)
			}
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}

	// Trailing statement without semicolon
	if s := strings.TrimSpace(current.String()); s != "" {
		stmts = append(stmts, s)
	}

	return stmts
}

// inTriggerBody reports whether stmt is a CREATE TRIGGER whose BEGIN ... END
// block is still open.
func inTriggerBody(stmt string) bool {
	words := strings.Fields(strings.ToUpper(stripSQLComments(stmt)))
	if len(words) < 2 || words[0] != "CREATE" {
		return false
	}
	isTrigger := false
	for _, w := range words[1:min(len(words), 4)] {
		if w == "TRIGGER" {
			isTrigger = true
			break
		}
	}
	if !isTrigger {
		return false
	}
	begun := false
	for _, w := range words {
		if w == "BEGIN" {
			begun = true
		}
	}
	return begun && words[len(words)-1] != "END"
}

func stripSQLComments(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '-' && i+1 < len(s) && s[i+1] == '-':
			for i < len(s) && s[i] != '\n' {
				i++
			}
			b.WriteByte(' ')
		case s[i] == '/' && i+1 < len(s) && s[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				return b.String()
			}
			i += end + 3
			b.WriteByte(' ')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
