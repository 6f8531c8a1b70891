package main

import (
	"context"
	"database/sql"
	"fmt"
)

// SourceDB abstracts source database operations so the engine can read from
// MySQL (the primary source) and from SQLite files.
type SourceDB interface {
	// Name returns a human-readable name for the source ("MySQL", "SQLite").
	Name() string

	// OpenDB opens a read connection pool with driver-specific options.
	OpenDB(cfg *MigrationConfig) (*sql.DB, error)

	// DBName returns the logical database name used in catalog queries and logs.
	DBName(cfg *MigrationConfig) string

	// IntrospectSchema reads the requested tables (all base tables when allow
	// is empty) with their columns, indexes, and foreign keys, in catalog order.
	IntrospectSchema(ctx context.Context, db *sql.DB, dbName string, allow []string) (*Schema, error)

	// IntrospectSourceObjects discovers views, routines, triggers that are not migrated.
	IntrospectSourceObjects(ctx context.Context, db *sql.DB, dbName string) (*SourceObjects, error)

	// MapColumn resolves the SQLite target type for a source column.
	MapColumn(col Column, opts TypeOptions) (TargetType, error)

	// QuoteIdentifier quotes a source identifier for use in queries.
	QuoteIdentifier(name string) string

	// MaxWorkers returns the maximum number of parallel table workers.
	// 0 means use the config value; >0 caps workers to this value.
	MaxWorkers() int
}

// newSourceDB returns a SourceDB implementation for the given source type.
func newSourceDB(sourceType string) (SourceDB, error) {
	switch sourceType {
	case "mysql":
		return &mysqlSourceDB{}, nil
	case "sqlite":
		return &sqliteSourceDB{}, nil
	default:
		return nil, fmt.Errorf("unsupported source type %q (must be mysql or sqlite)", sourceType)
	}
}

// readSchema introspects the source and puts the tables in migration order.
func readSchema(ctx context.Context, src SourceDB, db *sql.DB, dbName string, allow []string, dependencyOrder bool) (*Schema, error) {
	schema, err := src.IntrospectSchema(ctx, db, dbName, allow)
	if err != nil {
		return nil, err
	}
	schema.Warnings = append(schema.Warnings, pruneForeignKeys(schema)...)
	if dependencyOrder {
		schema.Tables = orderByDependencies(schema.Tables)
	}
	return schema, nil
}

// missingTables returns the allow-listed names absent from found, in allow order.
func missingTables(allow []string, found []Table) []string {
	seen := make(map[string]bool, len(found))
	for _, t := range found {
		seen[t.Name] = true
	}
	var missing []string
	for _, name := range allow {
		if !seen[name] {
			missing = append(missing, name)
		}
	}
	return missing
}
