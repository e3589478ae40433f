// Package database opens gorm connections to the operational and warehouse
// stores.
package database

import (
	"database/sql"
	stderrors "errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	_ "github.com/jackc/pgx/v4/stdlib"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"bank-fraud-etl/pkg/errors"
	"bank-fraud-etl/pkg/logger"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// Config describes one store connection
type Config struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// LogLevel is one of silent, error, warn, info.
	LogLevel      string        `mapstructure:"log_level"`
	SlowThreshold time.Duration `mapstructure:"slow_threshold"`
}

// Validate checks the connection settings
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverPostgres, DriverMySQL, DriverSQLite:
	default:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "driver", c.Driver, nil).
			WithSuggestion("use one of postgres, mysql, sqlite")
	}
	if strings.TrimSpace(c.DSN) == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "dsn", nil, nil)
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max_open_conns", c.MaxOpenConns, nil).
			WithSuggestion("connection pool limits cannot be negative")
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log_level", c.LogLevel, err)
	}
	return nil
}

// Open connects to the store described by cfg and configures its pool. A
// postgres database that does not exist yet is created first.
func Open(cfg *Config, log logger.Logger) (*gorm.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithComponent("database").WithField("driver", cfg.Driver)

	level, _ := parseLogLevel(cfg.LogLevel)
	gormConfig := &gorm.Config{
		Logger: gormlogger.New(log, gormlogger.Config{
			SlowThreshold:             cfg.slowThreshold(),
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		}),
	}

	db, err := gorm.Open(dialector(cfg), gormConfig)
	if err != nil && cfg.Driver == DriverPostgres && isMissingDatabase(err) {
		log.Info("Target database does not exist, creating it")
		if createErr := ensureDatabaseExists(cfg.DSN); createErr != nil {
			return nil, errors.PersistenceError(errors.CodeConnectFailed, "postgres maintenance database", createErr)
		}
		db, err = gorm.Open(dialector(cfg), gormConfig)
	}
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeConnectFailed, cfg.Driver+" database", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeConnectFailed, cfg.Driver+" connection pool", err)
	}
	configurePool(sqlDB, cfg)

	log.Info("Connected")
	return db, nil
}

// Close releases the pool behind db
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func dialector(cfg *Config) gorm.Dialector {
	switch cfg.Driver {
	case DriverMySQL:
		return mysql.Open(mysqlDSN(cfg.DSN))
	case DriverSQLite:
		return sqlite.Open(cfg.DSN)
	default:
		return postgres.Open(cfg.DSN)
	}
}

// mysqlDSN makes DATETIME columns scan into time.Time
func mysqlDSN(dsn string) string {
	if strings.Contains(dsn, "parseTime=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&parseTime=true"
	}
	return dsn + "?parseTime=true"
}

func configurePool(sqlDB *sql.DB, cfg *Config) {
	if cfg.Driver == DriverSQLite && isMemoryDSN(cfg.DSN) {
		// every connection to :memory: is a separate database
		sqlDB.SetMaxOpenConns(1)
		return
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

func (c *Config) slowThreshold() time.Duration {
	if c.SlowThreshold > 0 {
		return c.SlowThreshold
	}
	return time.Second
}

func parseLogLevel(level string) (gormlogger.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "warn":
		return gormlogger.Warn, nil
	case "silent":
		return gormlogger.Silent, nil
	case "error":
		return gormlogger.Error, nil
	case "info":
		return gormlogger.Info, nil
	}
	return gormlogger.Silent, fmt.Errorf("unknown database log level %q", level)
}

func isMissingDatabase(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "does not exist") || strings.Contains(msg, "3D000")
}

// ensureDatabaseExists connects to the postgres maintenance database and
// creates the target database. dsn must be in URL form.
func ensureDatabaseExists(dsn string) error {
	u, err := url.Parse(dsn)
	if err != nil {
		return err
	}
	dbname := strings.TrimSpace(strings.TrimPrefix(u.Path, "/"))
	if dbname == "" || dbname == "postgres" {
		return nil
	}
	u.Path = "/postgres"

	db, err := sql.Open("pgx", u.String())
	if err != nil {
		return err
	}
	defer db.Close()

	err = db.QueryRow("SELECT 1 FROM pg_database WHERE datname = $1", dbname).Scan(new(int))
	if stderrors.Is(err, sql.ErrNoRows) {
		_, err = db.Exec(`CREATE DATABASE "` + strings.ReplaceAll(dbname, `"`, `""`) + `"`)
	}
	return err
}
