package main

import (
	"fmt"
	"strings"
)

// parseMySQLEnumSetValues returns the members of an enum(...) or set(...)
// column type. INFORMATION_SCHEMA reports them single-quoted, with quotes
// doubled and backslash escapes kept.
func parseMySQLEnumSetValues(columnType string) ([]string, error) {
	open := strings.IndexByte(columnType, '(')
	end := strings.LastIndexByte(columnType, ')')
	if open < 0 || end <= open {
		return nil, fmt.Errorf("invalid enum/set column_type %q", columnType)
	}
	list := columnType[open+1 : end]

	var (
		values  []string
		member  strings.Builder
		inQuote bool
	)
	for i := 0; i < len(list); i++ {
		c := list[i]
		if !inQuote {
			switch c {
			case '\'':
				inQuote = true
			case ',', ' ':
			default:
				return nil, fmt.Errorf("invalid enum/set value list in %q", columnType)
			}
			continue
		}
		switch {
		case c == '\\' && i+1 < len(list):
			i++
			member.WriteByte(list[i])
		case c == '\'' && i+1 < len(list) && list[i+1] == '\'':
			i++
			member.WriteByte('\'')
		case c == '\'':
			values = append(values, member.String())
			member.Reset()
			inQuote = false
		default:
			member.WriteByte(c)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated value in %q", columnType)
	}
	return values, nil
}
