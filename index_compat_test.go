package main

import (
	"strings"
	"testing"
)

func TestIndexUnsupportedReason(t *testing.T) {
	tests := []struct {
		name string
		idx  Index
		ok   bool
	}{
		{"plain btree", Index{Name: "idx_a", Type: "BTREE", Columns: []string{"a"}}, false},
		{"hash treated as btree", Index{Name: "idx_h", Type: "HASH", Columns: []string{"a"}}, false},
		{"prefix index kept", Index{Name: "idx_p", Type: "BTREE", Columns: []string{"a"}, HasPrefix: true}, false},
		{"expression index", Index{Name: "idx_e", Type: "BTREE", HasExpression: true}, true},
		{"fulltext", Index{Name: "idx_f", Type: "FULLTEXT", Columns: []string{"body"}}, true},
		{"spatial", Index{Name: "idx_s", Type: "SPATIAL", Columns: []string{"pos"}}, true},
		{"no columns", Index{Name: "idx_n", Type: "BTREE"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, unsupported := indexUnsupportedReason(tt.idx)
			if unsupported != tt.ok {
				t.Fatalf("indexUnsupportedReason() unsupported=%t, want %t", unsupported, tt.ok)
			}
		})
	}
}

func TestCollectIndexCompatibilityWarnings(t *testing.T) {
	schema := &Schema{Tables: []Table{
		{
			Name: "posts",
			Indexes: []Index{
				{Name: "idx_title", Type: "BTREE", Columns: []string{"title"}},
				{Name: "idx_body", Type: "FULLTEXT", Columns: []string{"body"}},
				{Name: "idx_slug", Type: "BTREE", Columns: []string{"slug"}, HasPrefix: true},
			},
		},
	}}

	warnings := collectIndexCompatibilityWarnings(schema)
	if len(warnings) != 2 {
		t.Fatalf("warnings len=%d, want 2 (%v)", len(warnings), warnings)
	}
	if !strings.Contains(warnings[0], "posts.idx_body") || !strings.Contains(warnings[0], "skipped") {
		t.Fatalf("unexpected warning content: %q", warnings[0])
	}
	if !strings.Contains(warnings[1], "posts.idx_slug") || !strings.Contains(warnings[1], "full column") {
		t.Fatalf("unexpected warning content: %q", warnings[1])
	}
}
