package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type streamMode int

const (
	streamOffset streamMode = iota
	streamKeyset
	streamBuffered
)

func (m streamMode) String() string {
	switch m {
	case streamKeyset:
		return "keyset"
	case streamBuffered:
		return "buffered"
	default:
		return "offset"
	}
}

// chunkCursor is the private read position of one streamer.
type chunkCursor struct {
	offset  int64 // rows delivered so far
	lastKey []any // primary key tuple of the last delivered row (keyset mode)
}

// rowStreamer reads one table in chunks. It is lazy, finite and not
// restartable: once Next returns an empty batch every later call does too.
type rowStreamer struct {
	db      *sql.DB
	table   *Table
	chunk   int
	timeout time.Duration
	retry   RetryConfig
	mode    streamMode

	selectList string
	from       string
	pkIdx      []int
	pkList     string

	cursor chunkCursor
	done   bool
	rows   *sql.Rows // open result set in buffered mode
}

func newRowStreamer(db *sql.DB, src SourceDB, t *Table, cfg *MigrationConfig) *rowStreamer {
	s := &rowStreamer{
		db:      db,
		table:   t,
		chunk:   cfg.ChunkSize,
		timeout: cfg.QueryTimeout.Duration,
		retry:   cfg.Retry,
		from:    src.QuoteIdentifier(t.Name),
	}

	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = src.QuoteIdentifier(c.Name)
	}
	s.selectList = strings.Join(cols, ", ")

	switch {
	case cfg.Buffered:
		s.mode = streamBuffered
	case keysetCapable(t):
		s.mode = streamKeyset
		pk := make([]string, len(t.PrimaryKey.Columns))
		for i, name := range t.PrimaryKey.Columns {
			pk[i] = src.QuoteIdentifier(name)
			for j, c := range t.Columns {
				if c.Name == name {
					s.pkIdx = append(s.pkIdx, j)
				}
			}
		}
		s.pkList = strings.Join(pk, ", ")
	default:
		s.mode = streamOffset
	}
	return s
}

// keysetCapable reports whether every primary key column is non-NULL and
// compares with > in the same order ORDER BY sorts it. A NULL key ends a
// keyset scan early, and enum/set keys sort by member index, not by text.
func keysetCapable(t *Table) bool {
	if t.PrimaryKey == nil || len(t.PrimaryKey.Columns) == 0 {
		return false
	}
	for _, name := range t.PrimaryKey.Columns {
		col := t.column(name)
		if col == nil || col.Target == nil {
			return false
		}
		if col.Target.Affinity != AffinityInteger && col.Target.Affinity != AffinityText {
			return false
		}
		switch col.DataType {
		case "enum", "set":
			return false
		}
		if col.Target.Nullable && !isRowidAliasKey(t, col) {
			return false
		}
	}
	return true
}

// isRowidAliasKey reports whether col is a SQLite INTEGER PRIMARY KEY. The
// catalog lists it as nullable but it aliases the rowid and is never NULL.
func isRowidAliasKey(t *Table, col *Column) bool {
	return len(t.PrimaryKey.Columns) == 1 && strings.EqualFold(strings.TrimSpace(col.ColumnType), "integer")
}

// estimateRows returns a best-effort row count, or -1 when it is unavailable.
func (s *rowStreamer) estimateRows(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.from).Scan(&n); err != nil {
		return -1
	}
	return n
}

// Next returns the next chunk of at most chunk rows. An empty batch means the
// table is exhausted.
func (s *rowStreamer) Next(ctx context.Context) ([]Row, error) {
	if s.done {
		return nil, nil
	}

	var batch []Row
	var err error
	if s.mode == streamBuffered {
		batch, err = s.nextBuffered(ctx)
	} else {
		err = withRetry(ctx, s.retry, "read "+s.table.Name, func(ctx context.Context) error {
			var rerr error
			batch, rerr = s.readPage(ctx)
			return rerr
		})
	}
	if err != nil {
		return nil, &SourceReadError{Table: s.table.Name, Offset: s.cursor.offset, Err: err}
	}

	if len(batch) < s.chunk {
		s.done = true
		s.Close()
	}
	if len(batch) > 0 {
		s.cursor.offset += int64(len(batch))
		if s.mode == streamKeyset {
			last := batch[len(batch)-1]
			key := make([]any, len(s.pkIdx))
			for i, j := range s.pkIdx {
				key[i] = last[j].bind(s.table.Columns[j].Target)
			}
			s.cursor.lastKey = key
		}
	}
	return batch, nil
}

func (s *rowStreamer) pageQuery() (string, []any) {
	switch s.mode {
	case streamKeyset:
		q := fmt.Sprintf("SELECT %s FROM %s", s.selectList, s.from)
		var args []any
		if s.cursor.lastKey != nil {
			if len(s.pkIdx) == 1 {
				q += fmt.Sprintf(" WHERE %s > ?", s.pkList)
			} else {
				q += fmt.Sprintf(" WHERE (%s) > (%s)", s.pkList, placeholders(len(s.pkIdx)))
			}
			args = append(args, s.cursor.lastKey...)
		}
		q += fmt.Sprintf(" ORDER BY %s LIMIT ?", s.pkList)
		return q, append(args, s.chunk)
	default:
		q := fmt.Sprintf("SELECT %s FROM %s LIMIT ? OFFSET ?", s.selectList, s.from)
		return q, []any{s.chunk, s.cursor.offset}
	}
}

func (s *rowStreamer) readPage(ctx context.Context) ([]Row, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	q, args := s.pageQuery()
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batch := make([]Row, 0, min(s.chunk, 4096))
	for rows.Next() {
		row, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		batch = append(batch, row)
	}
	return batch, rows.Err()
}

// nextBuffered pulls the next chunk from a single open result set. The result
// set is tied to the run context, so reads are not retried.
func (s *rowStreamer) nextBuffered(ctx context.Context) ([]Row, error) {
	if s.rows == nil {
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", s.selectList, s.from))
		if err != nil {
			return nil, err
		}
		s.rows = rows
	}

	batch := make([]Row, 0, min(s.chunk, 4096))
	for len(batch) < s.chunk && s.rows.Next() {
		row, err := s.scanRow(s.rows)
		if err != nil {
			return nil, err
		}
		batch = append(batch, row)
	}
	if err := s.rows.Err(); err != nil {
		return nil, err
	}
	return batch, nil
}

func (s *rowStreamer) scanRow(rows *sql.Rows) (Row, error) {
	raw := make([]any, len(s.table.Columns))
	dest := make([]any, len(raw))
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}
	row := make(Row, len(raw))
	for i, v := range raw {
		row[i] = newValue(v, &s.table.Columns[i])
	}
	return row, nil
}

// Close releases the open result set of a buffered streamer.
func (s *rowStreamer) Close() {
	if s.rows != nil {
		s.rows.Close()
		s.rows = nil
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
