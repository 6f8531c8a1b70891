package main

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// Affinity is a SQLite column type affinity.
type Affinity string

const (
	AffinityInteger Affinity = "INTEGER"
	AffinityReal    Affinity = "REAL"
	AffinityNumeric Affinity = "NUMERIC"
	AffinityText    Affinity = "TEXT"
	AffinityBlob    Affinity = "BLOB"
)

// TypeOptions carries the type mapping switches from the configuration.
type TypeOptions struct {
	BestEffort    bool
	EnumMode      string // text|check
	CollationMode string // none|nocase
}

func typeOptions(cfg *MigrationConfig) TypeOptions {
	return TypeOptions{
		BestEffort:    cfg.BestEffortTypes,
		EnumMode:      cfg.TypeMapping.EnumMode,
		CollationMode: cfg.TypeMapping.CollationMode,
	}
}

// Degradation records a column mapped to TEXT in best-effort mode.
type Degradation struct {
	Table      string `yaml:"table"`
	Column     string `yaml:"column"`
	SourceType string `yaml:"source_type"`
}

// affinityOf applies SQLite's affinity rules (datatype3 §3.1) to a declared type.
func affinityOf(declared string) Affinity {
	u := strings.ToUpper(declared)
	switch {
	case strings.Contains(u, "INT"):
		return AffinityInteger
	case strings.Contains(u, "CHAR"), strings.Contains(u, "CLOB"), strings.Contains(u, "TEXT"):
		return AffinityText
	case strings.Contains(u, "BLOB"), strings.TrimSpace(u) == "":
		return AffinityBlob
	case strings.Contains(u, "REAL"), strings.Contains(u, "FLOA"), strings.Contains(u, "DOUB"):
		return AffinityReal
	default:
		return AffinityNumeric
	}
}

// resolveTable fills in the target descriptor of every column of t. Columns
// are resolved exactly once; a second call is an error.
func resolveTable(src SourceDB, t *Table, opts TypeOptions) ([]Degradation, error) {
	var degraded []Degradation
	for i := range t.Columns {
		col := &t.Columns[i]
		if col.Target != nil {
			return nil, fmt.Errorf("column %s.%s already has a resolved target type", t.Name, col.Name)
		}

		tt, err := src.MapColumn(*col, opts)
		if err != nil {
			if ute, ok := err.(*UnsupportedTypeError); ok {
				ute.Table = t.Name
			}
			return nil, err
		}

		if strings.Contains(strings.ToLower(col.Extra), "auto_increment") {
			if isRowidAlias(t, col, tt) {
				tt.AutoIncrement = true
				tt.Declared = "INTEGER"
			} else {
				tt.Caveats = append(tt.Caveats, "auto_increment dropped: not a single-column integer primary key")
			}
		}
		if tt.Degraded {
			degraded = append(degraded, Degradation{Table: t.Name, Column: col.Name, SourceType: col.ColumnType})
		}
		col.Target = &tt
	}
	return degraded, nil
}

func isRowidAlias(t *Table, col *Column, tt TargetType) bool {
	return t.PrimaryKey != nil &&
		len(t.PrimaryKey.Columns) == 1 &&
		t.PrimaryKey.Columns[0] == col.Name &&
		tt.Affinity == AffinityInteger
}

// mysqlMapColumn maps a MySQL column to its SQLite target type. Fixed-width
// integer variants collapse to INTEGER; everything else keeps a declared type
// whose SQLite affinity matches the MySQL storage class.
func mysqlMapColumn(col Column, opts TypeOptions) (TargetType, error) {
	tt := TargetType{Nullable: col.Nullable}

	switch col.DataType {
	case "tinyint", "smallint", "mediumint", "int", "integer", "bigint", "bool", "boolean", "serial":
		tt.Declared = "INTEGER"
	case "float":
		tt.Declared = "FLOAT"
	case "double", "real", "double precision":
		tt.Declared = "DOUBLE"
	case "decimal", "numeric", "fixed", "dec":
		if col.Precision > 0 {
			tt.Declared = fmt.Sprintf("DECIMAL(%d,%d)", col.Precision, col.Scale)
		} else {
			tt.Declared = "DECIMAL"
		}
	case "varchar", "nvarchar":
		tt.Declared = withLength("VARCHAR", col.CharMaxLen)
	case "char", "nchar":
		tt.Declared = withLength("CHARACTER", col.CharMaxLen)
	case "tinytext", "text", "mediumtext", "longtext", "json", "enum", "set":
		tt.Declared = "TEXT"
	case "date":
		tt.Declared = "DATE"
	case "datetime", "timestamp":
		tt.Declared = "DATETIME"
	case "time":
		tt.Declared = "TIME"
	case "year":
		tt.Declared = "YEAR"
	case "bit", "binary", "varbinary", "tinyblob", "blob", "mediumblob", "longblob":
		tt.Declared = "BLOB"
	default:
		if !opts.BestEffort {
			return TargetType{}, &UnsupportedTypeError{Column: col.Name, SourceType: col.ColumnType}
		}
		tt.Declared = "TEXT"
		tt.Degraded = true
		tt.Caveats = append(tt.Caveats, fmt.Sprintf("unsupported type %q stored as TEXT", col.ColumnType))
	}
	tt.Affinity = affinityOf(tt.Declared)

	if col.DataType == "enum" && opts.EnumMode == "check" {
		values, err := parseMySQLEnumSetValues(col.ColumnType)
		if err != nil {
			return TargetType{}, err
		}
		literals := make([]string, len(values))
		for i, v := range values {
			literals[i] = sqlLiteral(v)
		}
		tt.Check = fmt.Sprintf("%s IN (%s)", quoteIdent(col.Name), strings.Join(literals, ", "))
	}
	if opts.CollationMode == "nocase" && tt.Affinity == AffinityText {
		tt.Collate = sqliteCollation(col.Collation)
	}

	def, caveat := mysqlMapDefault(col, tt)
	tt.Default = def
	if caveat != "" {
		tt.Caveats = append(tt.Caveats, caveat)
	}
	return tt, nil
}

func withLength(base string, n int64) string {
	if n <= 0 {
		return base
	}
	return fmt.Sprintf("%s(%d)", base, n)
}

// mysqlMapDefault renders a MySQL column default as a SQLite default
// expression. A non-empty caveat means the default was dropped.
func mysqlMapDefault(col Column, tt TargetType) (string, string) {
	if col.Default == nil {
		return "", ""
	}

	raw := strings.TrimSpace(*col.Default)
	if strings.EqualFold(raw, "null") {
		return "", ""
	}

	lower := strings.ToLower(raw)
	switch lower {
	case "current_timestamp", "current_timestamp()", "now()", "localtimestamp", "localtimestamp()", "localtime", "localtime()":
		return "CURRENT_TIMESTAMP", ""
	case "curdate()", "current_date", "current_date()":
		return "CURRENT_DATE", ""
	case "curtime()", "current_time", "current_time()":
		return "CURRENT_TIME", ""
	}
	if strings.HasPrefix(lower, "current_timestamp(") && strings.HasSuffix(lower, ")") {
		return "CURRENT_TIMESTAMP", ""
	}

	if strings.HasPrefix(lower, "b'") && strings.HasSuffix(lower, "'") {
		n, ok := new(big.Int).SetString(raw[2:len(raw)-1], 2)
		if !ok {
			return "", fmt.Sprintf("bit default %s dropped", raw)
		}
		b := n.Bytes()
		if len(b) == 0 {
			b = []byte{0}
		}
		return "X'" + strings.ToUpper(hex.EncodeToString(b)) + "'", ""
	}

	quoted := len(raw) >= 2 && raw[0] == '\'' && raw[len(raw)-1] == '\''
	if !quoted && (strings.Contains(strings.ToUpper(col.Extra), "DEFAULT_GENERATED") || isExpressionDefault(raw)) {
		return "", fmt.Sprintf("expression default %s dropped", raw)
	}

	unquoted := mysqlDefaultUnquote(raw)
	switch tt.Affinity {
	case AffinityInteger, AffinityReal, AffinityNumeric:
		if isNumericLiteral(unquoted) {
			return unquoted, ""
		}
		return sqlLiteral(unquoted), ""
	case AffinityBlob:
		return "X'" + strings.ToUpper(hex.EncodeToString([]byte(unquoted))) + "'", ""
	default:
		return sqlLiteral(unquoted), ""
	}
}

func isExpressionDefault(raw string) bool {
	return strings.HasSuffix(raw, ")") && strings.Contains(raw, "(")
}

func mysqlDefaultUnquote(v string) string {
	if len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'' {
		inner := v[1 : len(v)-1]
		inner = strings.ReplaceAll(inner, "''", "'")
		return strings.ReplaceAll(inner, `\'`, "'")
	}
	return v
}

// sqliteMapColumn keeps the declared type of a SQLite source column; SQLite
// defaults are already SQLite expressions and only identifier spellings are
// rewritten.
func sqliteMapColumn(col Column, _ TypeOptions) (TargetType, error) {
	tt := TargetType{
		Declared: strings.ToUpper(strings.TrimSpace(col.ColumnType)),
		Nullable: col.Nullable,
	}
	tt.Affinity = affinityOf(tt.Declared)
	if col.Default != nil && !strings.EqualFold(strings.TrimSpace(*col.Default), "null") {
		tt.Default = sqliteDefault(strings.TrimSpace(*col.Default))
	}
	return tt, nil
}

// sqliteDefault turns an identifier-spelled default into a string literal.
// SQLite reads DEFAULT "x", DEFAULT [x] and DEFAULT x as the string 'x', but
// the same text inside parentheses is a column reference and fails.
func sqliteDefault(def string) string {
	if n := len(def); n >= 2 {
		first, last := def[0], def[n-1]
		if (first == '"' || first == '`') && last == first {
			q := string(first)
			return sqlLiteral(strings.ReplaceAll(def[1:n-1], q+q, q))
		}
		if first == '[' && last == ']' {
			return sqlLiteral(def[1 : n-1])
		}
	}
	if !isBareIdent(def) {
		return def
	}
	switch upper := strings.ToUpper(def); upper {
	case "TRUE", "FALSE", "CURRENT_TIMESTAMP", "CURRENT_DATE", "CURRENT_TIME":
		return upper
	}
	return sqlLiteral(def)
}

func isBareIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 0x80, r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r == '$' || r >= '0' && r <= '9'):
		default:
			return false
		}
	}
	return true
}

func isNumericLiteral(s string) bool {
	if s == "" {
		return false
	}
	hasDot := false
	start := 0
	if s[0] == '-' || s[0] == '+' {
		start = 1
	}
	if start >= len(s) {
		return false
	}
	for i := start; i < len(s); i++ {
		if s[i] == '.' {
			if hasDot {
				return false
			}
			hasDot = true
			continue
		}
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
