// Package config loads the CLI configuration and turns it into the
// configuration of each pipeline component.
//
// Values are resolved in this order, later winning: built-in defaults, the
// YAML file given with --config, ETL_-prefixed environment variables (a .env
// file in the working directory is loaded first), OPERATIONAL_DSN and
// WAREHOUSE_DSN, and finally command-line flags bound by the commands.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"bank-fraud-etl/internal/database"
	"bank-fraud-etl/internal/normalizer"
	"bank-fraud-etl/internal/operational"
	"bank-fraud-etl/internal/parsers"
	"bank-fraud-etl/internal/pipeline"
	"bank-fraud-etl/internal/reporter"
	"bank-fraud-etl/internal/verify"
	"bank-fraud-etl/internal/warehouse"
	"bank-fraud-etl/pkg/errors"
	"bank-fraud-etl/pkg/logger"
)

// EnvPrefix prefixes every environment variable read by viper
const EnvPrefix = "ETL"

// Config is the complete CLI configuration
type Config struct {
	Input       InputConfig    `mapstructure:"input"`
	Operational StoreConfig    `mapstructure:"operational"`
	Warehouse   StoreConfig    `mapstructure:"warehouse"`
	Database    PoolConfig     `mapstructure:"database"`
	Load        LoadConfig     `mapstructure:"load"`
	Log         logger.Config  `mapstructure:"log"`
	Metrics     MetricsConfig  `mapstructure:"metrics"`
	Report      ReportSettings `mapstructure:"report"`
}

// InputConfig describes the transaction export
type InputConfig struct {
	File      string `mapstructure:"file"`
	Delimiter string `mapstructure:"delimiter"`
	// RequiredColumns drop a row when missing; empty means every column.
	RequiredColumns []string `mapstructure:"required_columns"`
}

// StoreConfig selects one store
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// PoolConfig is shared by both stores
type PoolConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	SlowThreshold   time.Duration `mapstructure:"slow_threshold"`
}

// LoadConfig tunes the load stages
type LoadConfig struct {
	BatchSize       int  `mapstructure:"batch_size"`
	FillCalendar    bool `mapstructure:"fill_calendar"`
	MaxErrorSamples int  `mapstructure:"max_error_samples"`
}

// MetricsConfig exposes prometheus metrics when Addr is set
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// ReportSettings selects how the run summary is written
type ReportSettings struct {
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// SetDefaults registers every key so that environment variables can
// override keys absent from the config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("input.file", "")
	v.SetDefault("input.delimiter", ",")
	v.SetDefault("input.required_columns", []string{})

	v.SetDefault("operational.driver", database.DriverSQLite)
	v.SetDefault("operational.dsn", "bank_etl_operational.db")
	v.SetDefault("warehouse.driver", database.DriverSQLite)
	v.SetDefault("warehouse.dsn", "bank_etl_warehouse.db")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.slow_threshold", time.Second)

	v.SetDefault("load.batch_size", operational.DefaultBatchSize)
	v.SetDefault("load.fill_calendar", false)
	v.SetDefault("load.max_error_samples", 20)

	v.SetDefault("log.profile", "")

	v.SetDefault("metrics.addr", "")
	v.SetDefault("report.format", string(reporter.FormatConsole))
	v.SetDefault("report.file", "")
}

// Load reads the configuration into v and decodes it. configFile may be empty.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	_ = godotenv.Load()

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "config", configFile, err).
				WithSuggestion("check that the config file exists and is valid YAML")
		}
	}

	if err := applyLogProfile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "config", configFile, err)
	}
	overrideFromEnv(&cfg)
	return &cfg, nil
}

// applyLogProfile registers the preset named by log.profile as the
// defaults of the other log keys, so explicit log settings still win.
func applyLogProfile(v *viper.Viper) error {
	profile := logger.Profile(v.GetString("log.profile"))
	preset, err := logger.ProfileConfig(profile)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log.profile", profile, err).
			WithSuggestion("use one of: default, debug, production")
	}

	v.SetDefault("log.level", string(preset.Level))
	v.SetDefault("log.format", string(preset.Format))
	v.SetDefault("log.output", string(preset.Output))
	v.SetDefault("log.file", preset.File)
	v.SetDefault("log.max_size", preset.MaxSize)
	v.SetDefault("log.max_backups", preset.MaxBackups)
	v.SetDefault("log.max_age", preset.MaxAge)
	v.SetDefault("log.compress", preset.Compress)
	v.SetDefault("log.caller_info", preset.CallerInfo)
	return nil
}

// overrideFromEnv applies the unprefixed DSN variables used by deployments
func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("OPERATIONAL_DSN"); v != "" {
		cfg.Operational.DSN = v
	}
	if v := os.Getenv("WAREHOUSE_DSN"); v != "" {
		cfg.Warehouse.DSN = v
	}
}

// Validate checks the settings shared by every command
func (c *Config) Validate() error {
	if _, err := c.delimiter(); err != nil {
		return err
	}
	if c.Load.BatchSize <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "load.batch_size", c.Load.BatchSize, nil).
			WithSuggestion("the batch size must be a positive number of rows")
	}
	if c.Load.MaxErrorSamples < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "load.max_error_samples", c.Load.MaxErrorSamples, nil)
	}
	if !reporter.OutputFormat(c.Report.Format).IsValid() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "report.format", c.Report.Format, nil).
			WithSuggestion("use one of: console, json, yaml")
	}
	if err := c.Log.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", c.Log.Level, err)
	}
	return nil
}

func (c *Config) delimiter() (rune, error) {
	switch strings.ToLower(c.Input.Delimiter) {
	case "", ",":
		return ',', nil
	case "tab", "\\t", "\t":
		return '\t', nil
	}
	if utf8.RuneCountInString(c.Input.Delimiter) != 1 {
		return 0, errors.ConfigurationError(errors.CodeInvalidConfig, "input.delimiter", c.Input.Delimiter, nil).
			WithSuggestion("the delimiter must be a single character or 'tab'")
	}
	r, _ := utf8.DecodeRuneInString(c.Input.Delimiter)
	return r, nil
}

// ParserConfig returns the CSV reader configuration
func (c *Config) ParserConfig() (*parsers.RecordParserConfig, error) {
	delimiter, err := c.delimiter()
	if err != nil {
		return nil, err
	}
	parserConfig := parsers.DefaultRecordParserConfig()
	parserConfig.Delimiter = delimiter
	if len(c.Input.RequiredColumns) > 0 {
		parserConfig.RequiredColumns = append([]string(nil), c.Input.RequiredColumns...)
	}
	if err := parserConfig.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "input.required_columns", c.Input.RequiredColumns, err)
	}
	return parserConfig, nil
}

// NormalizerConfig returns the cleaning configuration
func (c *Config) NormalizerConfig() *normalizer.Config {
	normConfig := normalizer.DefaultConfig()
	if len(c.Input.RequiredColumns) > 0 {
		normConfig.RequiredFields = append([]string(nil), c.Input.RequiredColumns...)
	}
	normConfig.MaxErrorSamples = c.Load.MaxErrorSamples
	return normConfig
}

// OperationalDatabase returns the connection settings of the normalized store
func (c *Config) OperationalDatabase() *database.Config {
	return c.databaseConfig(c.Operational)
}

// WarehouseDatabase returns the connection settings of the star schema store
func (c *Config) WarehouseDatabase() *database.Config {
	return c.databaseConfig(c.Warehouse)
}

func (c *Config) databaseConfig(store StoreConfig) *database.Config {
	return &database.Config{
		Driver:          store.Driver,
		DSN:             store.DSN,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		LogLevel:        c.Database.LogLevel,
		SlowThreshold:   c.Database.SlowThreshold,
	}
}

// PipelineConfig assembles the configuration of a load run
func (c *Config) PipelineConfig(skipWarehouse, skipVerify bool) (*pipeline.Config, error) {
	parserConfig, err := c.ParserConfig()
	if err != nil {
		return nil, err
	}
	return &pipeline.Config{
		InputFile:  c.Input.File,
		Parser:     parserConfig,
		Normalizer: c.NormalizerConfig(),
		Operational: &operational.Config{
			BatchSize:       c.Load.BatchSize,
			MaxErrorSamples: c.Load.MaxErrorSamples,
		},
		Warehouse: &warehouse.Config{
			BatchSize:       c.Load.BatchSize,
			FillCalendar:    c.Load.FillCalendar,
			MaxErrorSamples: c.Load.MaxErrorSamples,
		},
		Verify:        verify.DefaultConfig(),
		SkipWarehouse: skipWarehouse,
		SkipVerify:    skipVerify,
	}, nil
}

// ReportConfig returns the report configuration for format
func (c *Config) ReportConfig(format string) *reporter.ReportConfig {
	reportConfig := reporter.DefaultReportConfig()
	if format == "" {
		format = c.Report.Format
	}
	reportConfig.Format = reporter.OutputFormat(format)
	reportConfig.MaxItems = c.Load.MaxErrorSamples
	return reportConfig
}

func (c *Config) String() string {
	return fmt.Sprintf("input=%s operational=%s warehouse=%s batch_size=%d",
		c.Input.File, c.Operational.Driver, c.Warehouse.Driver, c.Load.BatchSize)
}
