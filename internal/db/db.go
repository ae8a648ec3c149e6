// Package db provides the Postgres-backed replay claim store.
package db

import (
	stdlog "log"
	"os"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens a Postgres connection for the claim ledger. GORM's own logging
// is kept silent; only errors surface.
func Open(dsn string) (*gorm.DB, error) {
	newLogger := logger.New(
		stdlog.New(os.Stdout, "", stdlog.LstdFlags),
		logger.Config{
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
		},
	)
	return gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: newLogger})
}

// AutoMigrate runs migrations for all models.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	return db.AutoMigrate(&Claim{})
}
