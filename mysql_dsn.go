package main

import (
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

// mysqlDSN builds a driver DSN from the connection parameters. Every network
// operation is bounded by the configured timeouts.
func mysqlDSN(src SourceConfig, connectTimeout, queryTimeout time.Duration) string {
	cfg := mysql.NewConfig()
	cfg.User = src.User
	cfg.Passwd = src.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(src.Host, strconv.Itoa(src.Port))
	cfg.DBName = src.Database
	cfg.ParseTime = true
	cfg.InterpolateParams = true
	cfg.Loc = time.UTC
	cfg.Timeout = connectTimeout
	cfg.ReadTimeout = queryTimeout
	cfg.WriteTimeout = queryTimeout
	if src.Charset != "" {
		cfg.Params = map[string]string{"charset": src.Charset}
	}
	return cfg.FormatDSN()
}

// mysqlDSNWithReadOptions normalizes a user-supplied DSN (integration tests
// and advanced users) with the options the streamer relies on.
func mysqlDSNWithReadOptions(baseDSN string) (string, error) {
	cfg, err := mysql.ParseDSN(baseDSN)
	if err != nil {
		return "", err
	}
	cfg.ParseTime = true
	cfg.InterpolateParams = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}
