package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// TableState is the lifecycle position of one table in a run.
type TableState int

const (
	StatePending TableState = iota
	StateSchemaCreated
	StateCopying
	StateCompleted
	StateFailed
)

func (s TableState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSchemaCreated:
		return "schema-created"
	case StateCopying:
		return "copying"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s TableState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s TableState) terminal() bool { return s == StateCompleted || s == StateFailed }

// TableResult is the outcome of one table.
type TableResult struct {
	Name   string     `yaml:"name"`
	State  TableState `yaml:"state"`
	Rows   int64      `yaml:"rows"`
	Chunks int        `yaml:"chunks"`
	Error  string     `yaml:"error,omitempty"`

	err error
}

// Err returns the error that failed the table, if any.
func (r TableResult) Err() error { return r.err }

// Summary is the structured result of a migration run.
type Summary struct {
	RunID         string        `yaml:"run_id"`
	Source        string        `yaml:"source"`
	Target        string        `yaml:"target"`
	StartedAt     time.Time     `yaml:"started_at"`
	Duration      time.Duration `yaml:"-"`
	Tables        []TableResult `yaml:"tables"`
	Completed     int           `yaml:"tables_completed"`
	Failed        int           `yaml:"tables_failed"`
	Incomplete    int           `yaml:"tables_incomplete"`
	RowsCopied    int64         `yaml:"rows_copied"`
	Degradations  []Degradation `yaml:"degradations,omitempty"`
	Warnings      []string      `yaml:"warnings,omitempty"`
	Compacted     bool          `yaml:"compacted"`
	Interrupted   bool          `yaml:"interrupted"`
	Aborted       bool          `yaml:"aborted"`
	DroppedEvents int64         `yaml:"dropped_events"`
}

// tally recomputes the aggregate counts from the per-table results.
func (s *Summary) tally() {
	s.Completed, s.Failed, s.Incomplete, s.RowsCopied = 0, 0, 0, 0
	for _, r := range s.Tables {
		switch r.State {
		case StateCompleted:
			s.Completed++
		case StateFailed:
			s.Failed++
		default:
			s.Incomplete++
		}
		s.RowsCopied += r.Rows
	}
}

// OK reports whether the run should exit successfully.
func (s *Summary) OK() bool {
	return s.Failed == 0 && !s.Interrupted && !s.Aborted
}

// IncompleteTables lists the tables that never reached a terminal state.
func (s *Summary) IncompleteTables() []string {
	var names []string
	for _, r := range s.Tables {
		if !r.State.terminal() {
			names = append(names, fmt.Sprintf("%s (%s)", r.Name, r.State))
		}
	}
	return names
}

// Print writes a human-readable summary.
func (s *Summary) Print(w io.Writer) {
	target := s.Target
	if size := targetSize(s.Target); size != "" {
		target += " (" + size + ")"
	}
	fmt.Fprintf(w, "\nmigration %s: %s → %s\n", s.RunID, s.Source, target)
	for _, r := range s.Tables {
		line := fmt.Sprintf("  %-32s %-15s %12s rows  %5d chunks", r.Name, r.State, humanize.Comma(r.Rows), r.Chunks)
		if r.Error != "" {
			line += "  " + r.Error
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "tables: %d completed, %d failed, %d incomplete; %s rows copied in %s\n",
		s.Completed, s.Failed, s.Incomplete, humanize.Comma(s.RowsCopied), s.Duration.Round(time.Millisecond))
	if len(s.Degradations) > 0 {
		fmt.Fprintf(w, "%d column(s) stored as TEXT (best-effort types)\n", len(s.Degradations))
		for _, d := range s.Degradations {
			fmt.Fprintf(w, "  %s.%s (%s)\n", d.Table, d.Column, d.SourceType)
		}
	}
	if len(s.Warnings) > 0 {
		fmt.Fprintf(w, "%d warning(s); see log for details\n", len(s.Warnings))
	}
	if s.DroppedEvents > 0 {
		fmt.Fprintf(w, "%s progress event(s) dropped by a slow consumer\n", humanize.Comma(s.DroppedEvents))
	}
	switch {
	case s.Aborted:
		fmt.Fprintln(w, "migration ABORTED")
	case s.Interrupted:
		fmt.Fprintf(w, "migration INTERRUPTED; incomplete tables: %v\n", s.IncompleteTables())
	case s.Compacted:
		fmt.Fprintln(w, "target compacted (VACUUM)")
	}
}

// yamlSummary adds the rendered duration, which time.Duration lacks a text form for.
type yamlSummary struct {
	Summary  `yaml:",inline"`
	Duration string `yaml:"duration"`
}

// WriteYAML writes the summary as a YAML report.
func (s *Summary) WriteYAML(path string) error {
	data, err := yaml.Marshal(yamlSummary{Summary: *s, Duration: s.Duration.String()})
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}

// targetSize returns the target file size for the summary line, or "" when unknown.
func targetSize(path string) string {
	fi, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return humanize.IBytes(uint64(fi.Size()))
}
