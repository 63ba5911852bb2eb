package db

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMySQLDSN(t *testing.T) {
	dsn, err := NormalizeMySQLDSN("mailer:pw@tcp(db:3306)/mailer")
	require.NoError(t, err)

	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	require.True(t, cfg.ParseTime)
	require.True(t, cfg.MultiStatements)
	require.Equal(t, time.UTC, cfg.Loc)
	require.Equal(t, "mailer", cfg.DBName)
	require.Equal(t, "db:3306", cfg.Addr)

	_, err = NormalizeMySQLDSN("")
	require.Error(t, err)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := NewRedisClient(RedisOpts{Addr: mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, rdb.Close())

	addr := mr.Addr()
	mr.Close()
	_, err = NewRedisClient(RedisOpts{Addr: addr, DialTimeout: 200 * time.Millisecond})
	require.Error(t, err)
}
