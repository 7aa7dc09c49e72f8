package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmehdipour/paysms/internal/app"
	"github.com/jmehdipour/paysms/internal/db"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	migrationsDir string
	migrateCH     bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations (MySQL, and ClickHouse with --clickhouse)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := app.Load(cfgPath)
		if err != nil {
			return err
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer sqlDB.Close()

		if err := applyFile(sqlDB, filepath.Join(migrationsDir, "001_init.sql")); err != nil {
			return err
		}
		log.Info("mysql migration complete")

		if !migrateCH {
			return nil
		}
		chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
			DSN:      cfg.ClickHouse.DSN,
			PoolOpts: db.PoolOpts{PingTimeout: cfg.ClickHouse.PingTimeout},
		})
		if err != nil {
			return fmt.Errorf("open clickhouse: %w", err)
		}
		defer chDB.Close()

		path := filepath.Join(migrationsDir, "clickhouse", "001_history.sql")
		if err := applyFile(chDB, path); err != nil {
			return err
		}
		log.Info("clickhouse migration complete", zap.String("file", path))
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrationsDir, "dir", "migrations", "directory holding the migration files")
	migrateCmd.Flags().BoolVar(&migrateCH, "clickhouse", false, "also apply the ClickHouse history schema")
}

// applyFile runs each ;-terminated statement of a migration file in order.
func applyFile(db *sqlx.DB, path string) error {
	sqlBytes, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration file %s: %w", path, err)
	}
	for i, stmt := range splitStatements(string(sqlBytes)) {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("%s: statement %d: %w", path, i+1, err)
		}
	}
	return nil
}

func splitStatements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		var lines []string
		for _, line := range strings.Split(part, "\n") {
			if t := strings.TrimSpace(line); t != "" && !strings.HasPrefix(t, "--") {
				lines = append(lines, line)
			}
		}
		if stmt := strings.TrimSpace(strings.Join(lines, "\n")); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
