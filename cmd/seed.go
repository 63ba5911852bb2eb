package cmd

import (
	"fmt"

	"github.com/jmehdipour/outreach-mailer/internal/config"
	"github.com/jmehdipour/outreach-mailer/internal/db"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo leads",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		// 2) connect MySQL
		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, poolOpts(cfg.MySQL))
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		n, err := seedLeads(sqlDB)
		if err != nil {
			return err
		}
		cmd.Printf(">> Seeded %d demo leads\n", n)
		return nil
	},
}

type demoLead struct {
	Email     string `db:"email"`
	FirstName string `db:"first_name"`
}

var demoLeads = []demoLead{
	{Email: "ada@example.com", FirstName: "Ada"},
	{Email: "grace@example.com", FirstName: "Grace"},
	{Email: "linus@example.com", FirstName: "Linus"},
	{Email: "barbara@example.com", FirstName: "Barbara"},
	{Email: "ken@example.com", FirstName: "Ken"},
}

// seedLeads inserts deterministic demo leads (idempotent on email).
func seedLeads(dbx *sqlx.DB) (int, error) {
	const q = `
INSERT INTO leads (email, first_name, status, created_at, updated_at)
VALUES (:email, :first_name, 'new', NOW(6), NOW(6))
ON DUPLICATE KEY UPDATE first_name = VALUES(first_name), updated_at = NOW(6)
`
	for _, l := range demoLeads {
		if _, err := dbx.NamedExec(q, l); err != nil {
			return 0, fmt.Errorf("insert lead %s: %w", l.Email, err)
		}
	}
	return len(demoLeads), nil
}
