package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// targetDSN builds the modernc DSN for the target file. Foreign keys stay off
// during the load; writers take the write lock at BEGIN and wait busyTimeout
// for each other.
func targetDSN(path string, busyTimeout time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	q.Add("_pragma", "foreign_keys(0)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// openTarget opens (creating if needed) the target SQLite file.
func openTarget(ctx context.Context, cfg *MigrationConfig) (*sql.DB, error) {
	db, err := sql.Open("sqlite", targetDSN(cfg.Target.Path, cfg.QueryTimeout.Duration))
	if err != nil {
		return nil, fmt.Errorf("open sqlite target: %w", err)
	}
	db.SetMaxOpenConns(cfg.Workers + 1)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout.Duration)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite target %s: %w", cfg.Target.Path, err)
	}
	return db, nil
}
