package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"harvester-telemetry-backend/config"
	"harvester-telemetry-backend/internal/model"
)

// Init initializes the database connection and runs migrations.
func Init(cfg *config.DatabaseConfig, log zerolog.Logger) (*gorm.DB, error) {
	dialector, driver := Dialector(cfg.DSN)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	}

	log.Info().Str("driver", driver).Msg("running database migrations")
	if err := Migrate(db); err != nil {
		return nil, err
	}

	if cfg.EnableTimescale {
		if driver != "postgres" {
			log.Warn().Str("driver", driver).Msg("timescale requested on a non-postgres database; skipping")
		} else {
			log.Info().Msg("TimescaleDB is enabled, applying TimescaleDB-specific DDL")
			if err := applyTimescaleDDL(db); err != nil {
				log.Warn().Err(err).Msg("failed to apply TimescaleDB DDL; continuing without it")
			}
		}
	}

	log.Info().Msg("database initialization complete")
	return db, nil
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Device{},
		&model.Reading{},
		&model.ChannelConfig{},
	); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}
	return nil
}

// Dialector picks the GORM driver for a DSN. PostgreSQL URLs and keyword DSNs go to
// postgres; "sqlite://path", "file:" URIs and *.db / *.sqlite paths go to sqlite.
func Dialector(dsn string) (gorm.Dialector, string) {
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		return sqlite.Open(strings.TrimPrefix(dsn, "sqlite://")), "sqlite"
	case strings.HasPrefix(dsn, "sqlite:"):
		return sqlite.Open(strings.TrimPrefix(dsn, "sqlite:")), "sqlite"
	case strings.HasPrefix(dsn, "file:"),
		strings.HasSuffix(dsn, ".db"),
		strings.HasSuffix(dsn, ".sqlite"),
		dsn == ":memory:":
		return sqlite.Open(dsn), "sqlite"
	default:
		return postgres.Open(dsn), "postgres"
	}
}

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

func applyTimescaleDDL(db *gorm.DB) error {
	ddls := []string{
		"CREATE EXTENSION IF NOT EXISTS timescaledb;",

		// readings is keyed by (id, captured_at) so it can be partitioned on captured_at.
		"SELECT create_hypertable('readings', 'captured_at', if_not_exists => TRUE, migrate_data => TRUE);",

		// Latest-per-device lookups scan newest first.
		"CREATE INDEX IF NOT EXISTS idx_readings_device_captured_desc ON readings (device_id, captured_at DESC);",
	}

	for _, ddl := range ddls {
		if err := db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("DDL failed on %q: %w", ddl, err)
		}
	}
	return nil
}
