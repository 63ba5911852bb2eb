package db

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// PoolOpts tunes a database/sql pool. Zero values keep the driver defaults.
type PoolOpts struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

func applyPool(db *sqlx.DB, opts PoolOpts) {
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if opts.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}
}

// open connects and pings; the pool is closed again when the ping fails.
func open(driver, dsn string, opts PoolOpts, defaultPing time.Duration) (*sqlx.DB, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	applyPool(db, opts)

	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = defaultPing
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
