package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	"bank-fraud-etl/internal/database"
	"bank-fraud-etl/internal/metrics"
	"bank-fraud-etl/internal/pipeline"
	"bank-fraud-etl/internal/reporter"
	"bank-fraud-etl/internal/repository"
	"bank-fraud-etl/pkg/errors"
	"bank-fraud-etl/pkg/logger"
)

var (
	skipWarehouse bool
	skipVerify    bool
	showProgress  bool
)

// loadCmd represents the load command
var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load a transaction export into both schemas",
	Long: `Load cleans the transaction export, rebuilds the normalized schema from it,
derives the star schema and verifies the round trip.

The normalized schema is wiped and rebuilt on every load. The star schema
persists across loads: dimensions are inserted only when new, customers are
versioned when their attributes change, and facts already loaded are skipped.

Examples:
  # Full load into the default SQLite stores
  etl load --input Bank_Transaction_Fraud_Detection.csv

  # Postgres stores, JSON summary, metrics on :9102
  OPERATIONAL_DSN=postgres://... WAREHOUSE_DSN=postgres://... \
    etl load --input tx.csv --operational-driver postgres --warehouse-driver postgres \
    --report-format json --report-file run.json --metrics-addr :9102

  # Normalized schema only
  etl load --input tx.csv --skip-warehouse`,
	PreRunE: validateInputFlags,
	RunE:    runLoad,
}

func init() {
	rootCmd.AddCommand(loadCmd)

	addInputFlags(loadCmd)
	addStoreFlags(loadCmd)
	addReportFlags(loadCmd)

	loadCmd.Flags().Int("batch-size", 0, "rows committed per batch (default 5000)")
	loadCmd.Flags().Bool("fill-calendar", false, "add every date between the first and last transaction to dim_date")
	loadCmd.Flags().String("metrics-addr", "", "serve prometheus metrics on this address while loading")
	loadCmd.Flags().BoolVar(&skipWarehouse, "skip-warehouse", false, "stop after the normalized schema")
	loadCmd.Flags().BoolVar(&skipVerify, "skip-verify", false, "skip the round-trip verification")
	loadCmd.Flags().BoolVar(&showProgress, "progress", false, "show stage progress on stderr")

	bindFlag(loadCmd, "load.batch_size", "batch-size")
	bindFlag(loadCmd, "load.fill_calendar", "fill-calendar")
	bindFlag(loadCmd, "metrics.addr", "metrics-addr")
}

func runLoad(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.WithComponent("cli")
	log.WithField("config", cfg.String()).Debug("Starting load")

	pipelineConfig, err := cfg.PipelineConfig(skipWarehouse, skipVerify)
	if err != nil {
		return err
	}

	stores, err := openStores(!skipWarehouse)
	if err != nil {
		return err
	}
	defer stores.Close()

	var recorder *metrics.Recorder
	if cfg.Metrics.Addr != "" {
		recorder = metrics.NewRecorder()
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metrics.Serve(metricsCtx, cfg.Metrics.Addr, recorder, log); err != nil {
				log.WithError(err).Error("Metrics server stopped")
			}
		}()
	}

	opts := []pipeline.Option{pipeline.WithMetrics(recorder)}
	if showProgress {
		opts = append(opts, pipeline.WithProgressCallback(printProgress))
	}

	p, err := pipeline.New(pipelineConfig, stores.operational, stores.warehouse, opts...)
	if err != nil {
		return err
	}

	result, runErr := p.Run(ctx)
	if showProgress {
		fmt.Fprintln(os.Stderr)
	}
	if result != nil {
		if err := writeReport(result); err != nil {
			log.WithError(err).Warn("Failed to write run report")
		}
	}
	if runErr != nil {
		return runErr
	}
	return verificationError(result)
}

// storeSet holds the open stores of one command
type storeSet struct {
	operationalDB *gorm.DB
	warehouseDB   *gorm.DB
	operational   repository.OperationalRepository
	warehouse     repository.WarehouseRepository
}

func openStores(withWarehouse bool) (*storeSet, error) {
	log := logger.GetGlobalLogger()
	stores := &storeSet{}

	db, err := database.Open(cfg.OperationalDatabase(), log)
	if err != nil {
		return nil, err
	}
	stores.operationalDB = db
	stores.operational = repository.NewOperationalRepository(db)

	if withWarehouse {
		db, err := database.Open(cfg.WarehouseDatabase(), log)
		if err != nil {
			stores.Close()
			return nil, err
		}
		stores.warehouseDB = db
		stores.warehouse = repository.NewWarehouseRepository(db)
	}
	return stores, nil
}

func (s *storeSet) Close() {
	if s.operationalDB != nil {
		database.Close(s.operationalDB)
	}
	if s.warehouseDB != nil {
		database.Close(s.warehouseDB)
	}
}

func printProgress(progress pipeline.Progress) {
	fmt.Fprintf(os.Stderr, "\r[%d/%d] %-12s (%.1f%% complete)",
		progress.CompletedSteps, progress.TotalSteps,
		progress.CurrentStep, progress.PercentComplete)
}

func writeReport(result *pipeline.RunResult) error {
	generator, err := reporter.NewSafeReportGenerator(cfg.ReportConfig(""), logger.GetGlobalLogger())
	if err != nil {
		return err
	}
	if cfg.Report.File != "" {
		return generator.GenerateReportToFile(result, cfg.Report.File)
	}
	return generator.GenerateReportSafely(result, os.Stdout)
}

// verificationError turns a failed round trip into a command failure
func verificationError(result *pipeline.RunResult) error {
	if result == nil || result.Verify == nil || result.Verify.OK() {
		return nil
	}
	return errors.ValidationError(errors.CodeRoundTripFailed, "verify", result.Verify.String(), nil).
		WithContext("mismatches", result.Verify.MismatchCount).
		WithContext("missing_transactions", len(result.Verify.MissingTransactions)).
		WithContext("unexpected_transactions", len(result.Verify.UnexpectedTransactions))
}

// Shared flags

func addInputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("input", "i", "", "path to the transaction export CSV")
	cmd.Flags().String("delimiter", "", "field delimiter (default ',')")
	cmd.Flags().StringSlice("required-columns", nil, "columns whose missing value drops a row (default: all)")
	bindFlag(cmd, "input.file", "input")
	bindFlag(cmd, "input.delimiter", "delimiter")
	bindFlag(cmd, "input.required_columns", "required-columns")
}

func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("operational-driver", "", "normalized store driver: postgres, mysql, sqlite")
	cmd.Flags().String("operational-dsn", "", "normalized store DSN (or OPERATIONAL_DSN)")
	cmd.Flags().String("warehouse-driver", "", "star schema store driver: postgres, mysql, sqlite")
	cmd.Flags().String("warehouse-dsn", "", "star schema store DSN (or WAREHOUSE_DSN)")
	bindFlag(cmd, "operational.driver", "operational-driver")
	bindFlag(cmd, "operational.dsn", "operational-dsn")
	bindFlag(cmd, "warehouse.driver", "warehouse-driver")
	bindFlag(cmd, "warehouse.dsn", "warehouse-dsn")
}

func addReportFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("report-format", "f", "", "report format: console, json, yaml")
	cmd.Flags().StringP("report-file", "o", "", "write the report to this file (default: stdout)")
	bindFlag(cmd, "report.format", "report-format")
	bindFlag(cmd, "report.file", "report-file")
}

// flagBindings maps config keys to the flags of each command. Commands share
// keys, so a binding is applied only for the command that runs.
var flagBindings = make(map[*cobra.Command]map[string]string)

func bindFlag(cmd *cobra.Command, key, flag string) {
	if flagBindings[cmd] == nil {
		flagBindings[cmd] = make(map[string]string)
	}
	flagBindings[cmd][key] = flag
}

func applyFlagBindings(cmd *cobra.Command, v *viper.Viper) error {
	for key, flag := range flagBindings[cmd] {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}

func validateInputFlags(cmd *cobra.Command, args []string) error {
	if cfg.Input.File == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "input.file", nil, nil).
			WithSuggestion("pass --input or set input.file in the config file")
	}
	return validateFileExists(cfg.Input.File, "transaction export")
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, filePath, err)
	}
	if err != nil {
		return errors.FileError(errors.CodeFileCorrupted, filePath, err)
	}
	if info.IsDir() {
		return errors.FileError(errors.CodeFileCorrupted, filePath,
			fmt.Errorf("%s is a directory, expected a file", description))
	}

	file, err := os.Open(filePath)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err)
	}
	file.Close()

	if ext := filepath.Ext(filePath); ext != ".csv" && ext != ".txt" && ext != "" {
		logger.WithField("file", filePath).Warn("Input does not have a .csv extension")
	}
	return nil
}
