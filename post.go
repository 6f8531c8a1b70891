package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// foreignKeyViolations runs PRAGMA foreign_key_check on the target and returns
// one warning per violating (table, parent) pair. Foreign keys are not
// enforced during the load, so violations carried over from the source only
// surface here.
func foreignKeyViolations(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type pair struct{ table, parent string }
	counts := make(map[pair]int)
	var order []pair
	for rows.Next() {
		var table, parent string
		var rowid sql.NullInt64
		var fkid int
		if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return nil, err
		}
		p := pair{table, parent}
		if counts[p] == 0 {
			order = append(order, p)
		}
		counts[p]++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	warnings := make([]string, 0, len(order))
	for _, p := range order {
		warnings = append(warnings, fmt.Sprintf(
			"%d row(s) in %s reference missing rows in %s", counts[p], p.table, p.parent))
	}
	return warnings, nil
}

// compactTarget rebuilds the target file to reclaim unused pages.
func compactTarget(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
		return &CompactionError{Err: err}
	}
	return nil
}

// postMigrate runs the steps that follow the data copy: the foreign key
// check, after_all hooks, then the optional VACUUM.
func postMigrate(ctx context.Context, db *sql.DB, cfg *MigrationConfig, summary *Summary) error {
	log.Printf("running post-migration steps...")

	log.Printf("  foreign key check...")
	warnings, err := foreignKeyViolations(ctx, db)
	if err != nil {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("foreign key check failed: %v", err))
		log.Printf("    WARN: foreign key check failed: %v", err)
	}
	for _, w := range warnings {
		log.Printf("    WARN: %s", w)
	}
	summary.Warnings = append(summary.Warnings, warnings...)

	if err := loadAndExecSQLFiles(ctx, db, cfg, cfg.Hooks.AfterAll, "after_all"); err != nil {
		return fmt.Errorf("after_all hooks: %w", err)
	}

	if cfg.Vacuum {
		log.Printf("  vacuuming %s...", cfg.Target.Path)
		if err := compactTarget(ctx, db); err != nil {
			return err
		}
		summary.Compacted = true
	}
	return nil
}
