package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Migrator runs one migration. It owns every table's state; workers report
// through its methods only.
type Migrator struct {
	cfg      *MigrationConfig
	src      SourceDB
	progress *progressStream

	// newWriter builds the chunk writer for a table; tests swap it to inject faults.
	newWriter func(db *sql.DB, t *Table, timeout time.Duration) batchWriter

	mu      sync.Mutex
	ran     bool
	results []TableResult
	index   map[string]int
}

// NewMigrator prepares a migration for a validated configuration.
func NewMigrator(cfg *MigrationConfig) (*Migrator, error) {
	src, err := newSourceDB(cfg.Source.Type)
	if err != nil {
		return nil, err
	}
	return &Migrator{
		cfg:      cfg,
		src:      src,
		progress: newProgressStream(cfg.ProgressBuffer),
		newWriter: func(db *sql.DB, t *Table, timeout time.Duration) batchWriter {
			return newRowWriter(db, t, timeout)
		},
	}, nil
}

// Events returns the progress stream. It is closed when Run returns.
func (m *Migrator) Events() <-chan Event { return m.progress.ch }

// Run performs the migration. The summary is returned even when err is
// non-nil, except when no connection could be made at all.
func (m *Migrator) Run(ctx context.Context) (*Summary, error) {
	m.mu.Lock()
	if m.ran {
		m.mu.Unlock()
		return nil, fmt.Errorf("migrator already ran")
	}
	m.ran = true
	m.mu.Unlock()
	defer m.progress.close()

	cfg := m.cfg
	start := time.Now()
	dbName := m.src.DBName(cfg)
	summary := &Summary{
		RunID:     uuid.NewString(),
		Source:    fmt.Sprintf("%s %s", m.src.Name(), dbName),
		Target:    cfg.Target.Path,
		StartedAt: start,
	}
	finish := func() *Summary {
		m.mu.Lock()
		summary.Tables = append([]TableResult(nil), m.results...)
		m.mu.Unlock()
		summary.tally()
		summary.Duration = time.Since(start)
		summary.DroppedEvents = m.progress.droppedCount()
		return summary
	}

	log.Printf("connecting to %s...", m.src.Name())
	srcDB, err := m.src.OpenDB(cfg)
	if err != nil {
		return nil, err
	}
	defer srcDB.Close()
	if err := pingWithTimeout(ctx, srcDB, cfg.ConnectTimeout.Duration); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", m.src.Name(), err)
	}

	log.Printf("opening target %s...", cfg.Target.Path)
	dstDB, err := openTarget(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer dstDB.Close()

	log.Printf("introspecting %s schema '%s'...", m.src.Name(), dbName)
	ictx, cancel := context.WithTimeout(ctx, cfg.QueryTimeout.Duration)
	schema, err := readSchema(ictx, m.src, srcDB, dbName, cfg.Tables, cfg.DependencyOrder)
	cancel()
	if err != nil {
		return finish(), err
	}
	log.Printf("found %d tables", len(schema.Tables))
	for _, t := range schema.Tables {
		log.Printf("  %s (%d cols, %d indexes, %d fks)", t.Name, len(t.Columns), len(t.Indexes), len(t.ForeignKeys))
	}
	m.collectWarnings(ctx, srcDB, schema, summary)

	m.mu.Lock()
	m.results = make([]TableResult, len(schema.Tables))
	m.index = make(map[string]int, len(schema.Tables))
	for i, t := range schema.Tables {
		m.results[i] = TableResult{Name: t.Name, State: StatePending}
		m.index[t.Name] = i
	}
	m.mu.Unlock()

	runErr := m.createTables(ctx, dstDB, schema, summary)

	if runErr == nil && ctx.Err() == nil {
		if err := loadAndExecSQLFiles(ctx, dstDB, cfg, cfg.Hooks.BeforeData, "before_data"); err != nil {
			runErr = fmt.Errorf("before_data hooks: %w", err)
		}
	}

	if runErr == nil && ctx.Err() == nil {
		log.Printf("migrating data with %d workers...", cfg.Workers)
		runErr = m.copyData(ctx, srcDB, dstDB, schema)
	}

	switch {
	case errors.Is(runErr, ErrMigrationAborted):
		summary.Aborted = true
		log.Printf("migration aborted: %v", runErr)
	case ctx.Err() != nil:
		summary.Interrupted = true
		if runErr == nil {
			runErr = fmt.Errorf("migration interrupted: %w", ctx.Err())
		}
		log.Printf("migration interrupted")
	case runErr == nil:
		runErr = postMigrate(ctx, dstDB, cfg, summary)
	}

	finish()
	log.Printf("migration finished in %s", summary.Duration.Round(time.Millisecond))
	return summary, runErr
}

// createTables resolves target types and creates every table in migration
// order. A table that cannot be created fails on its own; a target that
// cannot be written to aborts the run.
func (m *Migrator) createTables(ctx context.Context, dstDB *sql.DB, schema *Schema, summary *Summary) error {
	log.Printf("creating tables...")
	opts := typeOptions(m.cfg)
	for i := range schema.Tables {
		if ctx.Err() != nil {
			return nil
		}
		t := &schema.Tables[i]

		degraded, err := resolveTable(m.src, t, opts)
		if err == nil {
			summary.Degradations = append(summary.Degradations, degraded...)
			for _, col := range t.Columns {
				for _, c := range col.Target.Caveats {
					w := fmt.Sprintf("%s.%s: %s", t.Name, col.Name, c)
					log.Printf("    WARN: %s", w)
					summary.Warnings = append(summary.Warnings, w)
				}
			}
			log.Printf("  creating %s", t.Name)
			ddlCtx, cancel := context.WithTimeout(ctx, m.cfg.QueryTimeout.Duration)
			err = createTable(ddlCtx, dstDB, t, !m.cfg.WithoutForeignKeys, m.cfg.overwrite())
			cancel()
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.failTable(t.Name, err)
			if isTargetStorageError(err) {
				return fmt.Errorf("%w: target storage: %v", ErrMigrationAborted, err)
			}
			continue
		}
		m.setState(t.Name, StateSchemaCreated)
	}
	return nil
}

// copyData copies the created tables level by level; tables inside a level
// run on a bounded worker pool.
func (m *Migrator) copyData(ctx context.Context, srcDB, dstDB *sql.DB, schema *Schema) error {
	var levels [][]int
	if m.cfg.DependencyOrder {
		levels = dependencyLevels(schema.Tables)
	} else {
		all := make([]int, len(schema.Tables))
		for i := range all {
			all[i] = i
		}
		levels = [][]int{all}
	}

	for _, level := range levels {
		if ctx.Err() != nil {
			return nil
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(m.cfg.Workers)
		for _, i := range level {
			t := &schema.Tables[i]
			if m.state(t.Name) != StateSchemaCreated {
				continue
			}
			g.Go(func() error {
				return m.copyTable(gctx, srcDB, dstDB, t)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// copyTable streams one table chunk by chunk. It returns an error only for
// process-global failures; table failures are recorded in the results.
func (m *Migrator) copyTable(ctx context.Context, srcDB, dstDB *sql.DB, t *Table) error {
	cfg := m.cfg
	s := newRowStreamer(srcDB, m.src, t, cfg)
	defer s.Close()

	est := s.estimateRows(ctx)
	if est >= 0 {
		log.Printf("  %s: copying ~%s rows (%s reads)", t.Name, humanize.Comma(est), s.mode)
	} else {
		log.Printf("  %s: copying (%s reads)", t.Name, s.mode)
	}
	m.progress.emit(Event{Kind: TableStarted, Table: t.Name, EstimatedRows: est})
	m.setState(t.Name, StateCopying)

	w := m.newWriter(dstDB, t, cfg.QueryTimeout.Duration)
	var rows int64
	chunks := 0
	for {
		batch, err := s.Next(ctx)
		if err != nil {
			return m.tableError(ctx, srcDB, dstDB, t.Name, err)
		}
		if len(batch) == 0 {
			break
		}

		offset := rows
		err = withRetry(ctx, cfg.Retry, "write "+t.Name, func(ctx context.Context) error {
			return w.WriteBatch(ctx, batch, offset)
		})
		if err != nil {
			return m.tableError(ctx, srcDB, dstDB, t.Name, err)
		}

		rows += int64(len(batch))
		chunks++
		m.recordChunk(t.Name, rows, chunks)
		m.progress.emit(Event{Kind: ChunkCommitted, Table: t.Name, Chunk: chunks, ChunkRows: len(batch), Rows: rows})
	}

	m.setState(t.Name, StateCompleted)
	m.progress.emit(Event{Kind: TableCompleted, Table: t.Name, Rows: rows, Chunk: chunks})
	log.Printf("  %s: %s rows in %d chunks", t.Name, humanize.Comma(rows), chunks)
	return nil
}

// tableError fails the table unless the run was cancelled, and escalates to
// ErrMigrationAborted when an endpoint is gone.
func (m *Migrator) tableError(ctx context.Context, srcDB, dstDB *sql.DB, table string, err error) error {
	if ctx.Err() != nil {
		// interrupted: the table keeps its current state
		return nil
	}
	m.failTable(table, err)

	if isTargetStorageError(err) {
		return fmt.Errorf("%w: target storage: %v", ErrMigrationAborted, err)
	}
	if isConnectionError(err) || isTransient(err) {
		if perr := m.checkEndpoints(ctx, srcDB, dstDB); perr != nil {
			return fmt.Errorf("%w: %v", ErrMigrationAborted, perr)
		}
	}
	return nil
}

func (m *Migrator) checkEndpoints(ctx context.Context, srcDB, dstDB *sql.DB) error {
	timeout := m.cfg.ConnectTimeout.Duration
	if err := pingWithTimeout(ctx, srcDB, timeout); err != nil {
		return fmt.Errorf("source %s unreachable: %w", m.src.Name(), err)
	}
	if err := pingWithTimeout(ctx, dstDB, timeout); err != nil {
		return fmt.Errorf("target unreachable: %w", err)
	}
	return nil
}

func pingWithTimeout(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return db.PingContext(ctx)
}

// collectWarnings gathers schema-level warnings and logs them.
func (m *Migrator) collectWarnings(ctx context.Context, srcDB *sql.DB, schema *Schema, summary *Summary) {
	warnings := append([]string(nil), schema.Warnings...)

	octx, cancel := context.WithTimeout(ctx, m.cfg.QueryTimeout.Duration)
	objs, err := m.src.IntrospectSourceObjects(octx, srcDB, m.src.DBName(m.cfg))
	cancel()
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("could not list non-table source objects: %v", err))
	} else {
		warnings = append(warnings, sourceObjectWarnings(objs)...)
	}

	warnings = append(warnings, collectIndexCompatibilityWarnings(schema)...)
	warnings = append(warnings, collectGeneratedColumnWarnings(schema)...)
	warnings = append(warnings, collectCollationWarnings(schema, m.cfg.TypeMapping.CollationMode)...)
	for _, w := range warnings {
		log.Printf("  WARN: %s", w)
	}
	summary.Warnings = append(summary.Warnings, warnings...)

	if errs := collectUnsupportedTypeErrors(m.src, schema, typeOptions(m.cfg)); len(errs) > 0 {
		log.Printf("unsupported types: %d column(s) have no SQLite mapping; their tables will fail (use --best-effort to store them as TEXT)", len(errs))
		for _, e := range errs {
			log.Printf("  WARN: %s", e)
		}
	}
}

func (m *Migrator) state(table string) TableState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results[m.index[table]].State
}

func (m *Migrator) setState(table string, s TableState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[m.index[table]].State = s
}

func (m *Migrator) recordChunk(table string, rows int64, chunks int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &m.results[m.index[table]]
	r.Rows = rows
	r.Chunks = chunks
}

func (m *Migrator) failTable(table string, err error) {
	m.mu.Lock()
	r := &m.results[m.index[table]]
	r.State = StateFailed
	r.err = err
	r.Error = strings.SplitN(err.Error(), "\n", 2)[0]
	m.mu.Unlock()

	log.Printf("  WARN: %s failed: %v", table, err)
	m.progress.emit(Event{Kind: TableFailed, Table: table, Err: err.Error()})
}
