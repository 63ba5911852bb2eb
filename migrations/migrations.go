// Package migrations embeds the schema so the migrate command works from any directory.
package migrations

import "embed"

// MySQL is the primary store schema. ClickHouse holds the reporting read model.
const (
	MySQL      = "001_init.sql"
	ClickHouse = "clickhouse_001_init.sql"
)

//go:embed *.sql
var FS embed.FS
