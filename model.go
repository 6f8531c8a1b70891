package main

// Column represents a single source column plus its resolved SQLite target type.
type Column struct {
	Name       string
	DataType   string // e.g. "int", "varchar", "enum"
	ColumnType string // full type e.g. "tinyint(1) unsigned", "enum('a','b')"
	CharMaxLen int64
	Precision  int64
	Scale      int64
	Unsigned   bool
	Nullable   bool
	Default    *string
	Extra      string // e.g. "auto_increment", "VIRTUAL GENERATED", "DEFAULT_GENERATED"
	Collation  string
	OrdinalPos int

	// Target is set once by the type mapper and only read afterwards.
	Target *TargetType
}

// TargetType is the SQLite-side descriptor the type mapper resolves for a column.
type TargetType struct {
	Declared      string // declared type used in CREATE TABLE, e.g. "VARCHAR(50)"
	Affinity      Affinity
	Nullable      bool
	Default       string // rendered SQL default expression, empty for none
	AutoIncrement bool   // emitted as INTEGER PRIMARY KEY AUTOINCREMENT
	Collate       string // e.g. "NOCASE"
	Check         string // CHECK expression body, without the CHECK keyword
	Degraded      bool   // best-effort fallback to TEXT
	Caveats       []string
}

// Index represents a source index (may span multiple columns).
type Index struct {
	Name          string
	Columns       []string // ordered by position in the index
	Unique        bool
	IsPrimary     bool
	Type          string // BTREE, FULLTEXT, SPATIAL, HASH
	HasPrefix     bool   // MySQL prefix index (SUB_PART)
	HasExpression bool   // expression/partial index not representable as a column list
}

// ForeignKey represents a source foreign key constraint.
type ForeignKey struct {
	Name       string
	Columns    []string
	RefTable   string
	RefColumns []string
	UpdateRule string // CASCADE, SET NULL, etc.
	DeleteRule string
}

// Table holds the full introspected definition of a source table.
type Table struct {
	Name        string
	Columns     []Column
	PrimaryKey  *Index
	Indexes     []Index // non-primary indexes
	ForeignKeys []ForeignKey
}

// Schema holds the introspected tables in migration order.
type Schema struct {
	Tables   []Table
	Warnings []string
}

func (t *Table) column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

func (t *Table) columnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}
