package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bank-fraud-etl/cmd/etl/config"
	"bank-fraud-etl/pkg/logger"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	// cfg is loaded before any subcommand runs
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "etl",
	Short: "Bank transaction ETL",
	Long: `etl loads a bank transaction export into a normalized relational schema
and derives a star schema from it for fraud analytics.

Examples:
  etl load --input Bank_Transaction_Fraud_Detection.csv
  etl load --input tx.csv --report-format json --report-file run.json
  etl load --input tx.csv --log-profile production
  etl normalize --input tx.csv --report --output processed.csv
  etl warehouse
  etl verify --input tx.csv
  etl reset`,
	Version:           getVersionString(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: text, json")
	rootCmd.PersistentFlags().String("log-profile", "", "log preset: default, debug, production")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("log.profile", rootCmd.PersistentFlags().Lookup("log-profile"))
}

// loadConfig reads the configuration and installs the global logger
func loadConfig(cmd *cobra.Command, args []string) error {
	if err := applyFlagBindings(cmd, viper.GetViper()); err != nil {
		return err
	}
	loaded, err := config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return err
	}
	if verbose {
		loaded.Log.Level = logger.DebugLevel
	}
	if err := loaded.Validate(); err != nil {
		return err
	}

	log, err := logger.NewLogger(&loaded.Log)
	if err != nil {
		return err
	}
	logger.SetGlobalLogger(log)

	if cfgFile != "" {
		log.WithField("config_file", viper.ConfigFileUsed()).Debug("Using config file")
	}
	cfg = loaded
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
