package main

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Tag identifies the storage class carried by a Value.
type Tag uint8

const (
	TagNull Tag = iota
	TagInteger
	TagFloat
	TagText
	TagBinary
	TagTemporal
)

func (t Tag) String() string {
	switch t {
	case TagNull:
		return "null"
	case TagInteger:
		return "integer"
	case TagFloat:
		return "float"
	case TagText:
		return "text"
	case TagBinary:
		return "binary"
	case TagTemporal:
		return "temporal"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

// Value is one source cell converted from the loosely typed driver value.
type Value struct {
	Tag   Tag
	Int   int64
	Float float64
	Text  string
	Bytes []byte
	Time  time.Time
}

// Row is one source row in column order.
type Row []Value

const (
	sqliteDateLayout     = "2006-01-02"
	sqliteDateTimeLayout = "2006-01-02 15:04:05"
	sqliteDateTimeFrac   = "2006-01-02 15:04:05.999999"
)

// newValue converts a value produced by the source driver into a Value
// shaped by the column's target affinity.
func newValue(raw any, col *Column) Value {
	tt := col.Target
	switch v := raw.(type) {
	case nil:
		return Value{Tag: TagNull}
	case int64:
		return Value{Tag: TagInteger, Int: v}
	case int32:
		return Value{Tag: TagInteger, Int: int64(v)}
	case int:
		return Value{Tag: TagInteger, Int: int64(v)}
	case uint64:
		if v > math.MaxInt64 {
			return Value{Tag: TagText, Text: strconv.FormatUint(v, 10)}
		}
		return Value{Tag: TagInteger, Int: int64(v)}
	case bool:
		if v {
			return Value{Tag: TagInteger, Int: 1}
		}
		return Value{Tag: TagInteger, Int: 0}
	case float64:
		return Value{Tag: TagFloat, Float: v}
	case float32:
		return Value{Tag: TagFloat, Float: float64(v)}
	case time.Time:
		if v.IsZero() {
			return zeroTemporal(tt)
		}
		return Value{Tag: TagTemporal, Time: v}
	case string:
		return textValue(v, tt)
	case []byte:
		if tt.Affinity == AffinityBlob {
			return Value{Tag: TagBinary, Bytes: append([]byte(nil), v...)}
		}
		if !utf8.Valid(v) && tt.Degraded {
			return Value{Tag: TagText, Text: hex.EncodeToString(v)}
		}
		return textValue(string(v), tt)
	default:
		return Value{Tag: TagText, Text: fmt.Sprint(v)}
	}
}

// zeroTemporal handles MySQL zero dates, which the driver returns as the zero time.
func zeroTemporal(tt *TargetType) Value {
	if tt.Nullable {
		return Value{Tag: TagNull}
	}
	if strings.HasPrefix(tt.Declared, "DATE") && tt.Declared != "DATETIME" {
		return Value{Tag: TagText, Text: "0000-00-00"}
	}
	return Value{Tag: TagText, Text: "0000-00-00 00:00:00"}
}

// textValue narrows text for integer and real columns so the stored value
// keeps the numeric storage class.
func textValue(s string, tt *TargetType) Value {
	switch tt.Affinity {
	case AffinityInteger:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Value{Tag: TagInteger, Int: n}
		}
	case AffinityReal:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return Value{Tag: TagFloat, Float: f}
		}
	}
	return Value{Tag: TagText, Text: s}
}

// validateValue checks a value against the resolved target column before it
// is bound to an INSERT.
func validateValue(v Value, col *Column) error {
	tt := col.Target
	if v.Tag == TagNull {
		if !tt.Nullable && !tt.AutoIncrement {
			return fmt.Errorf("column %s: NULL in NOT NULL column", col.Name)
		}
		return nil
	}

	ok := false
	switch tt.Affinity {
	case AffinityInteger:
		ok = v.Tag == TagInteger || (v.Tag == TagText && isNumericText(v.Text))
	case AffinityReal:
		ok = v.Tag == TagInteger || v.Tag == TagFloat || (v.Tag == TagText && isNumericText(v.Text))
	case AffinityNumeric:
		ok = v.Tag != TagBinary
	case AffinityText:
		ok = v.Tag == TagText || v.Tag == TagTemporal || v.Tag == TagInteger || v.Tag == TagFloat
	case AffinityBlob:
		ok = true
	}
	if !ok {
		return fmt.Errorf("column %s: %s value not storable in %s column", col.Name, v.Tag, tt.Declared)
	}
	return nil
}

func isNumericText(s string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil
}

// bind returns the driver argument for v.
func (v Value) bind(tt *TargetType) any {
	switch v.Tag {
	case TagInteger:
		return v.Int
	case TagFloat:
		return v.Float
	case TagText:
		return v.Text
	case TagBinary:
		return v.Bytes
	case TagTemporal:
		return formatTemporal(v.Time, tt.Declared)
	default:
		return nil
	}
}

// formatTemporal renders a time in the text layout SQLite's date functions read.
func formatTemporal(t time.Time, declared string) string {
	t = t.UTC()
	if declared == "DATE" {
		return t.Format(sqliteDateLayout)
	}
	if t.Nanosecond() == 0 {
		return t.Format(sqliteDateTimeLayout)
	}
	return t.Format(sqliteDateTimeFrac)
}
