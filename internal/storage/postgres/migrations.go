// internal/storage/postgres/migrations.go
package postgres

import (
	"fmt"

	migrate "github.com/rubenv/sql-migrate"
	"go.uber.org/zap"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"

	migrationTable = "journal_migrations"
	migrationLock  = 101
)

var migrationSet = migrate.MigrationSet{TableName: migrationTable}

func migrationSource(dialect string) migrate.MigrationSource {
	idColumn := "id BIGSERIAL PRIMARY KEY"
	timeType := "TIMESTAMPTZ"
	if dialect != DialectPostgres {
		idColumn = "id INTEGER PRIMARY KEY AUTOINCREMENT"
		timeType = "DATETIME"
	}

	return &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "0001_write_records",
				Up: []string{
					fmt.Sprintf(`CREATE TABLE IF NOT EXISTS write_records (
	%s,
	created_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP,
	write_id VARCHAR(36) NOT NULL UNIQUE,
	kind VARCHAR(32) NOT NULL,
	account VARCHAR(64) NOT NULL,
	token_id VARCHAR(32) NOT NULL DEFAULT '',
	payment VARCHAR(80) NOT NULL DEFAULT '',
	hash VARCHAR(128) NOT NULL DEFAULT '',
	status VARCHAR(16) NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	transient BOOLEAN NOT NULL DEFAULT FALSE,
	block_ref BIGINT NOT NULL DEFAULT 0
)`, idColumn, timeType, timeType),
					`CREATE INDEX IF NOT EXISTS idx_write_records_account ON write_records (account)`,
					`CREATE INDEX IF NOT EXISTS idx_write_records_created_at ON write_records (created_at)`,
				},
				Down: []string{`DROP TABLE IF EXISTS write_records`},
			},
			{
				Id: "0002_write_records_status",
				Up: []string{
					`CREATE INDEX IF NOT EXISTS idx_write_records_status ON write_records (status)`,
				},
				Down: []string{`DROP INDEX IF EXISTS idx_write_records_status`},
			},
		},
	}
}

// RunMigrations применяет миграции журнала через sql-migrate.
// На PostgreSQL миграции сериализуются advisory-блокировкой.
func (p *journalStorage) RunMigrations() error {
	if p.dialect == DialectPostgres {
		var lockObtained bool
		if err := p.db.Raw("SELECT pg_try_advisory_lock(?)", migrationLock).Scan(&lockObtained).Error; err != nil {
			return fmt.Errorf("failed to acquire migration lock: %w", err)
		}
		if !lockObtained {
			return fmt.Errorf("another migration is in progress")
		}
		defer p.db.Exec("SELECT pg_advisory_unlock(?)", migrationLock)
	}

	sqlDB, err := p.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	n, err := migrationSet.Exec(sqlDB, p.dialect, migrationSource(p.dialect), migrate.Up)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	p.logger.Info("Journal migrations applied", zap.Int("count", n))
	return nil
}
