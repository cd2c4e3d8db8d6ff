// internal/database/connection.go
package database

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/javajoker/farmtrace-backend/internal/config"
	"github.com/javajoker/farmtrace-backend/internal/models"
)

var logLevels = map[string]logger.LogLevel{
	"silent": logger.Silent,
	"error":  logger.Error,
	"warn":   logger.Warn,
	"info":   logger.Info,
}

func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	level, ok := logLevels[cfg.LogLevel]
	if !ok {
		level = logger.Warn
	}
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(level),
		// unique violations surface as gorm.ErrDuplicatedKey
		TranslateError: true,
	}

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	// Test connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"host":     cfg.Host,
		"database": cfg.Database,
	}).Info("Database connection established")
	return db, nil
}

func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		logrus.WithError(err).Error("Error getting underlying sql.DB")
		return
	}

	if err := sqlDB.Close(); err != nil {
		logrus.WithError(err).Error("Error closing database connection")
	} else {
		logrus.Info("Database connection closed")
	}
}

func RunMigrations(db *gorm.DB) error {
	logrus.Info("Running database migrations")

	err := db.AutoMigrate(
		&models.Farmer{},
		&models.Produce{},
		&models.TrackingPoint{},
		&models.Transaction{},
		&models.VerificationRecord{},
		&models.CarbonCredit{},
		&models.LedgerAnchor{},
		&models.AuditLog{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	logrus.Info("Database migrations completed")
	return nil
}

func createIndexes(db *gorm.DB) error {
	indexes := []string{
		// Produce
		"CREATE INDEX IF NOT EXISTS idx_produces_farmer_status ON produces(farmer_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_produces_created_at ON produces(created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_produces_expiry_open ON produces(expiry_date) WHERE status IN ('registered', 'in_transit', 'at_market')",

		// Tracking history is always read in recording order
		"CREATE INDEX IF NOT EXISTS idx_tracking_points_produce_recorded ON tracking_points(produce_id, recorded_at, sequence)",

		// Settlement sweeps
		"CREATE INDEX IF NOT EXISTS idx_transactions_method_status ON transactions(payment_method, payment_status, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_transactions_unanchored ON transactions(paid_at) WHERE payment_status = 'completed' AND (ledger_hash IS NULL OR ledger_hash = '' OR carbon_credited = false)",
		"CREATE INDEX IF NOT EXISTS idx_transactions_processing ON transactions(updated_at) WHERE payment_status = 'processing'",

		// Verification
		"CREATE INDEX IF NOT EXISTS idx_verification_records_produce_created ON verification_records(produce_id, created_at DESC)",

		// Audit
		"CREATE INDEX IF NOT EXISTS idx_audit_logs_operator_action ON audit_logs(operator_id, action)",
		"CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id)",
		"CREATE INDEX IF NOT EXISTS idx_audit_logs_created ON audit_logs(created_at DESC)",

		// Full-text search
		"CREATE INDEX IF NOT EXISTS idx_produces_search ON produces USING GIN(to_tsvector('english', name || ' ' || category))",
	}

	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			// Continue with other indexes instead of failing completely
			logrus.WithError(err).WithField("index", index).Warn("Failed to create index")
		}
	}

	return nil
}
