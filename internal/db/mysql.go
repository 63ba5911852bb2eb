package db

import (
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// NormalizeMySQLDSN forces the options the repositories rely on: DATETIME(6)
// columns scan into time.Time in UTC, and multi-statement migrations are allowed.
func NormalizeMySQLDSN(dsn string) (string, error) {
	if dsn == "" {
		return "", fmt.Errorf("empty MySQL DSN")
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse MySQL DSN: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.MultiStatements = true
	return cfg.FormatDSN(), nil
}

// NewMySQLConnection opens a *sqlx.DB with sensible pool/timeouts.
func NewMySQLConnection(dsn string, opts PoolOpts) (*sqlx.DB, error) {
	dsn, err := NormalizeMySQLDSN(dsn)
	if err != nil {
		return nil, err
	}
	return open("mysql", dsn, opts, 5*time.Second)
}
