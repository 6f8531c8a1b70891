package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/asaskevich/govalidator"
	"github.com/go-sql-driver/mysql"
)

// MigrationConfig holds every recognized migration option. It is decoded from
// TOML over defaultConfig() and then overridden by CLI flags.
type MigrationConfig struct {
	Source             SourceConfig      `toml:"source"`
	Target             TargetConfig      `toml:"target"`
	Tables             []string          `toml:"tables"`               // allow-list; empty means all base tables
	ChunkSize          int               `toml:"chunk_size"`           // rows per read/write/transaction cycle
	Workers            int               `toml:"workers"`              // concurrent table workers within a dependency level
	OnTableExists      string            `toml:"on_table_exists"`      // error|overwrite
	BestEffortTypes    bool              `toml:"best_effort_types"`    // degrade unsupported types to TEXT
	Vacuum             bool              `toml:"vacuum"`               // VACUUM the target after migration
	Buffered           bool              `toml:"buffered"`             // one open result set per table instead of paged reads
	WithoutForeignKeys bool              `toml:"without_foreign_keys"` // omit FOREIGN KEY clauses from target DDL
	DependencyOrder    bool              `toml:"dependency_order"`     // order tables by FK dependencies
	ConnectTimeout     Duration          `toml:"connect_timeout"`
	QueryTimeout       Duration          `toml:"query_timeout"`
	Retry              RetryConfig       `toml:"retry"`
	TypeMapping        TypeMappingConfig `toml:"type_mapping"`
	Hooks              HooksConfig       `toml:"hooks"`
	LogFile            string            `toml:"log_file"`
	Quiet              bool              `toml:"quiet"`
	Report             string            `toml:"report"`         // optional YAML summary path
	ProgressBuffer     int               `toml:"progress_buffer"` // progress event channel capacity

	// configDir is the directory containing the TOML file, used to resolve relative paths.
	configDir string
}

// SourceConfig identifies the source database.
type SourceConfig struct {
	Type     string `toml:"type"` // "mysql" or "sqlite"
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	Charset  string `toml:"charset"` // MySQL connection character set (default: "utf8mb4")
	Path     string `toml:"path"`    // SQLite source file
	DSN      string `toml:"dsn"`     // full MySQL DSN, overrides host/port/user/password/database
}

type TargetConfig struct {
	Path string `toml:"path"`
}

// RetryConfig bounds retries of transient chunk read/write faults.
type RetryConfig struct {
	MaxAttempts int      `toml:"max_attempts"`
	BaseDelay   Duration `toml:"base_delay"`
}

type HooksConfig struct {
	BeforeData []string `toml:"before_data"`
	AfterAll   []string `toml:"after_all"`
}

// TypeMappingConfig controls optional, non-default type translations.
type TypeMappingConfig struct {
	EnumMode      string `toml:"enum_mode"`      // text|check
	CollationMode string `toml:"collation_mode"` // none|nocase
}

// Duration is a time.Duration that decodes from TOML strings like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func defaultConfig() MigrationConfig {
	return MigrationConfig{
		Source: SourceConfig{
			Type:    "mysql",
			Host:    "localhost",
			Port:    3306,
			Charset: "utf8mb4",
		},
		ChunkSize:       200000,
		Workers:         defaultWorkers(),
		OnTableExists:   "error",
		DependencyOrder: true,
		ConnectTimeout:  Duration{10 * time.Second},
		QueryTimeout:    Duration{5 * time.Minute},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   Duration{500 * time.Millisecond},
		},
		TypeMapping: TypeMappingConfig{
			EnumMode:      "text",
			CollationMode: "none",
		},
		ProgressBuffer: 256,
	}
}

// loadConfig reads a TOML config file over the defaults. The result still
// needs validate() once CLI overrides are applied.
func loadConfig(path string) (*MigrationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := defaultConfig()
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if unknown := md.Undecoded(); len(unknown) > 0 {
		keys := make([]string, len(unknown))
		for i, k := range unknown {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg.configDir = filepath.Dir(absPath)
	return &cfg, nil
}

// validate normalizes and checks the merged configuration.
func (c *MigrationConfig) validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be a positive integer")
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers()
	}
	if c.ProgressBuffer <= 0 {
		c.ProgressBuffer = 1
	}
	switch c.OnTableExists {
	case "error", "overwrite":
	default:
		return fmt.Errorf("on_table_exists must be one of: error, overwrite")
	}
	switch c.TypeMapping.EnumMode {
	case "text", "check":
	default:
		return fmt.Errorf("type_mapping.enum_mode must be one of: text, check")
	}
	switch c.TypeMapping.CollationMode {
	case "none", "nocase":
	default:
		return fmt.Errorf("type_mapping.collation_mode must be one of: none, nocase")
	}
	if c.ConnectTimeout.Duration <= 0 || c.QueryTimeout.Duration <= 0 {
		return fmt.Errorf("connect_timeout and query_timeout must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay.Duration < 0 {
		return fmt.Errorf("retry.base_delay must not be negative")
	}

	c.Target.Path = strings.TrimSpace(c.Target.Path)
	if c.Target.Path == "" {
		return fmt.Errorf("target.path (--sqlite-file) is required")
	}
	c.Target.Path = c.resolvePath(c.Target.Path)

	src, err := newSourceDB(c.Source.Type)
	if err != nil {
		return err
	}
	switch c.Source.Type {
	case "mysql":
		if c.Source.DSN != "" {
			dsn, err := mysql.ParseDSN(c.Source.DSN)
			if err != nil {
				return fmt.Errorf("parse source.dsn: %w", err)
			}
			if dsn.DBName == "" {
				return fmt.Errorf("source.dsn must name a database")
			}
			c.Source.Database = dsn.DBName
			break
		}
		if c.Source.Database == "" {
			return fmt.Errorf("source.database (--mysql-database) is required")
		}
		if c.Source.User == "" {
			return fmt.Errorf("source.user (--mysql-user) is required")
		}
		if !govalidator.IsHost(c.Source.Host) {
			return fmt.Errorf("source.host %q is not a valid host name or IP address", c.Source.Host)
		}
		if !govalidator.IsPort(strconv.Itoa(c.Source.Port)) {
			return fmt.Errorf("source.port %d is out of range", c.Source.Port)
		}
		if c.Source.Charset == "" {
			c.Source.Charset = "utf8mb4"
		}
	case "sqlite":
		if c.Source.Path == "" {
			return fmt.Errorf("source.path is required for sqlite sources")
		}
		c.Source.Path = c.resolvePath(c.Source.Path)
		if c.Source.Path == c.Target.Path {
			return fmt.Errorf("source.path and target.path must differ")
		}
		if c.TypeMapping.EnumMode != "text" {
			return fmt.Errorf("type_mapping.enum_mode is a MySQL-only option")
		}
	}

	if max := src.MaxWorkers(); max > 0 && c.Workers > max {
		c.Workers = max
	}
	return nil
}

// resolvePath resolves a path relative to the config file directory.
func (c *MigrationConfig) resolvePath(p string) string {
	if filepath.IsAbs(p) || c.configDir == "" {
		return p
	}
	return filepath.Join(c.configDir, p)
}

func (c *MigrationConfig) overwrite() bool { return c.OnTableExists == "overwrite" }

func defaultWorkers() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	if n > 4 {
		return 4
	}
	return n
}
