package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// batchWriter commits one chunk of rows to the target.
type batchWriter interface {
	WriteBatch(ctx context.Context, batch []Row, offset int64) error
}

// rowWriter inserts chunks into one target table, one transaction per chunk.
type rowWriter struct {
	db        *sql.DB
	table     *Table
	insertSQL string
	timeout   time.Duration
}

func newRowWriter(db *sql.DB, t *Table, timeout time.Duration) *rowWriter {
	return &rowWriter{
		db:      db,
		table:   t,
		timeout: timeout,
		insertSQL: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quoteIdent(t.Name), quotedColumnList(t.columnNames()), placeholders(len(t.Columns))),
	}
}

// WriteBatch validates every value, then inserts the batch in a single
// transaction. Either the whole batch commits or none of it does.
func (w *rowWriter) WriteBatch(ctx context.Context, batch []Row, offset int64) error {
	if len(batch) == 0 {
		return nil
	}

	args := make([][]any, len(batch))
	for i, row := range batch {
		if len(row) != len(w.table.Columns) {
			return &TargetWriteError{Table: w.table.Name, Offset: offset,
				Err: fmt.Errorf("row %d has %d values, want %d", offset+int64(i), len(row), len(w.table.Columns))}
		}
		rowArgs := make([]any, len(row))
		for j, v := range row {
			col := &w.table.Columns[j]
			if err := validateValue(v, col); err != nil {
				return &TargetWriteError{Table: w.table.Name, Offset: offset,
					Err: fmt.Errorf("row %d: %w", offset+int64(i), err)}
			}
			rowArgs[j] = v.bind(col.Target)
		}
		args[i] = rowArgs
	}

	if err := w.insert(ctx, args); err != nil {
		return &TargetWriteError{Table: w.table.Name, Offset: offset, Err: err}
	}
	return nil
}

func (w *rowWriter) insert(ctx context.Context, args [][]any) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, w.insertSQL)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, rowArgs := range args {
		if _, err := stmt.ExecContext(ctx, rowArgs...); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
