package database

import (
	"fmt"
	"time"

	"sensorhub/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Driver       string
	Host         string
	Port         string
	User         string
	Password     string
	DBName       string
	SSLMode      string
	SQLitePath   string
	MaxIdleConns int
	MaxOpenConns int
	Debug        bool
}

// DSN builds the driver specific connection string.
func (c Config) DSN() (string, error) {
	switch c.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
		), nil
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
			c.User, c.Password, c.Host, c.Port, c.DBName,
		), nil
	case "sqlite":
		return c.SQLitePath + "?_busy_timeout=5000", nil
	default:
		return "", fmt.Errorf("unsupported database driver: %s", c.Driver)
	}
}

func dialector(c Config) (gorm.Dialector, error) {
	dsn, err := c.DSN()
	if err != nil {
		return nil, err
	}

	switch c.Driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	default:
		return sqlite.Open(dsn), nil
	}
}

func Connect(config Config) (*gorm.DB, error) {
	d, err := dialector(config)
	if err != nil {
		return nil, err
	}

	logLevel := logger.Warn
	if config.Debug {
		logLevel = logger.Info
	}

	db, err := gorm.Open(d, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// sqlite allows a single writer
	if config.Driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		if config.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(config.MaxIdleConns)
		}
		if config.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(config.MaxOpenConns)
		}
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Str("driver", config.Driver).Msg("Database connected successfully")
	return db, nil
}

// Migrate creates the telemetry table and its ordering index.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Telemetry{}); err != nil {
		return fmt.Errorf("failed to migrate models: %w", err)
	}

	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_telemetries_created_id ON telemetries(created_at, id)").Error; err != nil {
		if db.Dialector.Name() != "mysql" {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
		// MySQL has no IF NOT EXISTS for indexes
		if !db.Migrator().HasIndex(&models.Telemetry{}, "idx_telemetries_created_id") {
			if err := db.Exec("CREATE INDEX idx_telemetries_created_id ON telemetries(created_at, id)").Error; err != nil {
				return fmt.Errorf("failed to create indexes: %w", err)
			}
		}
	}

	log.Debug().Msg("Database migration completed successfully")
	return nil
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.Close()
}
