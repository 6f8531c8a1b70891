package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// cliFlags holds flag values; only flags the user set override the config file.
type cliFlags struct {
	configPath   string
	sqliteFile   string
	sourceSQLite string
	database     string
	user         string
	password     string
	host         string
	port         int
	tables       []string
	chunk        int
	workers      int
	logFile      string
	report       string
	vacuum       bool
	buffered     bool
	quiet        bool
	overwrite    bool
	bestEffort   bool
	withoutFKs   bool
}

func newRootCmd(f *cliFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "liteferry [config.toml]",
		Short:         "MySQL to SQLite migration tool",
		Version:       versionString(),
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd, f, args)
		},
	}

	fl := cmd.Flags()
	// -h is the MySQL host; help is reachable as --help only.
	fl.Bool("help", false, "help for liteferry")
	fl.StringVar(&f.configPath, "config", "", "path to migration TOML config file")
	fl.StringVarP(&f.sqliteFile, "sqlite-file", "f", "", "SQLite3 database file")
	fl.StringVar(&f.sourceSQLite, "source-sqlite", "", "copy from this SQLite file instead of MySQL")
	fl.StringVarP(&f.database, "mysql-database", "d", "", "MySQL database name")
	fl.StringVarP(&f.user, "mysql-user", "u", "", "MySQL user")
	fl.StringVarP(&f.password, "mysql-password", "p", "", "MySQL password")
	fl.StringVarP(&f.host, "mysql-host", "h", "localhost", "MySQL host")
	fl.IntVarP(&f.port, "mysql-port", "P", 3306, "MySQL port")
	fl.StringArrayVarP(&f.tables, "mysql-tables", "t", nil, "transfer only these tables (repeatable)")
	fl.IntVarP(&f.chunk, "chunk", "c", 200000, "rows per read/write transaction")
	fl.IntVar(&f.workers, "workers", defaultWorkers(), "concurrent table workers")
	fl.StringVarP(&f.logFile, "log-file", "l", "", "log file")
	fl.StringVar(&f.report, "report", "", "write a YAML summary to this file")
	fl.BoolVarP(&f.vacuum, "vacuum", "V", false, "VACUUM the SQLite file after migration")
	fl.BoolVar(&f.buffered, "use-buffered-cursors", false, "read each table through one open result set")
	fl.BoolVarP(&f.quiet, "quiet", "q", false, "quiet: no terminal output")
	fl.BoolVar(&f.overwrite, "overwrite", false, "drop target tables and indexes that already exist")
	fl.BoolVar(&f.bestEffort, "best-effort", false, "store unsupported column types as TEXT")
	fl.BoolVar(&f.withoutFKs, "without-foreign-keys", false, "do not create FOREIGN KEY constraints")
	return cmd
}

func main() {
	if err := newRootCmd(&cliFlags{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildConfig loads the TOML file (positional argument takes precedence over
// --config) and applies the flags that were set on the command line.
func buildConfig(cmd *cobra.Command, f *cliFlags, args []string) (*MigrationConfig, error) {
	cfgPath := f.configPath
	if len(args) > 0 {
		cfgPath = args[0]
	}

	var cfg *MigrationConfig
	if cfgPath != "" {
		loaded, err := loadConfig(cfgPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		d := defaultConfig()
		cfg = &d
	}

	set := cmd.Flags().Changed
	if set("sqlite-file") {
		cfg.Target.Path = f.sqliteFile
	}
	if set("source-sqlite") {
		cfg.Source.Type = "sqlite"
		cfg.Source.Path = f.sourceSQLite
	}
	if set("mysql-database") {
		cfg.Source.Database = f.database
	}
	if set("mysql-user") {
		cfg.Source.User = f.user
	}
	if set("mysql-password") {
		cfg.Source.Password = f.password
	}
	if set("mysql-host") {
		cfg.Source.Host = f.host
	}
	if set("mysql-port") {
		cfg.Source.Port = f.port
	}
	if set("mysql-tables") {
		cfg.Tables = f.tables
	}
	if set("chunk") {
		cfg.ChunkSize = f.chunk
	}
	if set("workers") {
		cfg.Workers = f.workers
	}
	if set("log-file") {
		cfg.LogFile = f.logFile
	}
	if set("report") {
		cfg.Report = f.report
	}
	if set("vacuum") {
		cfg.Vacuum = f.vacuum
	}
	if set("use-buffered-cursors") {
		cfg.Buffered = f.buffered
	}
	if set("quiet") {
		cfg.Quiet = f.quiet
	}
	if set("overwrite") && f.overwrite {
		cfg.OnTableExists = "overwrite"
	}
	if set("best-effort") {
		cfg.BestEffortTypes = f.bestEffort
	}
	if set("without-foreign-keys") {
		cfg.WithoutForeignKeys = f.withoutFKs
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runMigration(cmd *cobra.Command, f *cliFlags, args []string) error {
	cfg, err := buildConfig(cmd, f, args)
	if err != nil {
		return err
	}

	logFile, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("liteferry %s — %s → SQLite migration", versionString(), cfg.Source.Type)
	log.Printf(
		"config: target=%s chunk=%d workers=%d on_table_exists=%s best_effort_types=%t buffered=%t vacuum=%t without_foreign_keys=%t enum_mode=%s collation_mode=%s",
		cfg.Target.Path,
		cfg.ChunkSize,
		cfg.Workers,
		cfg.OnTableExists,
		cfg.BestEffortTypes,
		cfg.Buffered,
		cfg.Vacuum,
		cfg.WithoutForeignKeys,
		cfg.TypeMapping.EnumMode,
		cfg.TypeMapping.CollationMode,
	)

	m, err := NewMigrator(cfg)
	if err != nil {
		return err
	}

	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		if cfg.Quiet {
			for range m.Events() {
			}
			return
		}
		renderProgress(m.Events(), os.Stderr, isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()))
	}()

	summary, runErr := m.Run(ctx)
	<-rendered

	if summary == nil {
		return runErr
	}
	if !cfg.Quiet {
		summary.Print(cmd.OutOrStdout())
	}
	if cfg.Report != "" {
		if err := summary.WriteYAML(cfg.Report); err != nil {
			log.Printf("WARN: %v", err)
		}
	}

	if runErr != nil {
		return runErr
	}
	if !summary.OK() {
		return errors.New("migration finished with failed tables")
	}
	return nil
}

// setupLogging routes the standard logger to the terminal and/or the log file.
func setupLogging(cfg *MigrationConfig) (io.Closer, error) {
	var writers []io.Writer
	if !cfg.Quiet {
		writers = append(writers, os.Stderr)
	}
	var file *os.File
	if cfg.LogFile != "" {
		var err error
		file, err = os.OpenFile(cfg.resolvePath(cfg.LogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, file)
	}
	if len(writers) == 0 {
		log.SetOutput(io.Discard)
	} else {
		log.SetOutput(io.MultiWriter(writers...))
	}
	if file == nil {
		return nil, nil
	}
	return file, nil
}

// renderProgress draws an in-place progress line on a terminal. Without a
// terminal the per-table log lines already tell the story, so only chunk
// commits are logged.
func renderProgress(events <-chan Event, w io.Writer, tty bool) {
	estimates := make(map[string]int64)
	for e := range events {
		switch e.Kind {
		case TableStarted:
			estimates[e.Table] = e.EstimatedRows
		case ChunkCommitted:
			total := ""
			if est := estimates[e.Table]; est > 0 {
				total = " / ~" + humanize.Comma(est)
			}
			if tty {
				fmt.Fprintf(w, "\r\033[K  %s: %s%s rows (chunk %d)", e.Table, humanize.Comma(e.Rows), total, e.Chunk)
			} else {
				log.Printf("    %s: chunk %d committed, %s%s rows", e.Table, e.Chunk, humanize.Comma(e.Rows), total)
			}
		case TableCompleted, TableFailed:
			if tty {
				fmt.Fprint(w, "\r\033[K")
			}
		}
	}
}
