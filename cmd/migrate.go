package cmd

import (
	"fmt"
	"strings"

	"github.com/jmehdipour/outreach-mailer/internal/config"
	"github.com/jmehdipour/outreach-mailer/internal/db"
	"github.com/jmehdipour/outreach-mailer/migrations"
	"github.com/spf13/cobra"
)

var migrateClickHouse bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations (dev: DROP & CREATE tables)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, poolOpts(cfg.MySQL))
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer sqlDB.Close()

		sqlBytes, err := migrations.FS.ReadFile(migrations.MySQL)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", migrations.MySQL, err)
		}
		if _, err := sqlDB.Exec(string(sqlBytes)); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
		cmd.Println(">> MySQL migration complete")

		if !migrateClickHouse {
			return nil
		}

		chDB, err := db.NewClickHouseConnection(cfg.ClickHouse.DSN, poolOpts(cfg.ClickHouse))
		if err != nil {
			return fmt.Errorf("open clickhouse: %w", err)
		}
		defer chDB.Close()

		chBytes, err := migrations.FS.ReadFile(migrations.ClickHouse)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", migrations.ClickHouse, err)
		}
		// the clickhouse driver runs one statement per Exec
		for _, stmt := range splitStatements(string(chBytes)) {
			if _, err := chDB.Exec(stmt); err != nil {
				return fmt.Errorf("exec clickhouse migration: %w", err)
			}
		}
		cmd.Println(">> ClickHouse migration complete")
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateClickHouse, "clickhouse", false, "also create the ClickHouse read model")
}

// splitStatements splits a script on ';', dropping comment lines and empty statements.
func splitStatements(script string) []string {
	var lines []string
	for _, l := range strings.Split(script, "\n") {
		if !strings.HasPrefix(strings.TrimSpace(l), "--") {
			lines = append(lines, l)
		}
	}
	var out []string
	for _, s := range strings.Split(strings.Join(lines, "\n"), ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
