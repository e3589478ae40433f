package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"bank-fraud-etl/internal/parsers"
	"bank-fraud-etl/internal/pipeline"
	"bank-fraud-etl/pkg/errors"
	"bank-fraud-etl/pkg/logger"
)

var (
	cleanOutput  string
	exploreInput bool
)

// normalizeCmd represents the normalize command
var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Clean a transaction export without loading it",
	Long: `Normalize reads the transaction export and applies the cleaning stages:
rows with missing required values are dropped, date and time are combined
into one timestamp, and amounts, balances, ages and fraud flags are typed.

No store is touched. Use --report for a summary of what was dropped and of
the missing values per column, and --output to write the cleaned rows.

Examples:
  etl normalize --input tx.csv --report
  etl normalize --input tx.csv --output processed.csv
  etl normalize --input tx.csv --report --report-format yaml`,
	PreRunE: validateInputFlags,
	RunE:    runNormalize,
}

func init() {
	rootCmd.AddCommand(normalizeCmd)

	addInputFlags(normalizeCmd)
	addReportFlags(normalizeCmd)
	normalizeCmd.Flags().StringVar(&cleanOutput, "output", "", "write the cleaned rows to this CSV file")
	normalizeCmd.Flags().BoolVar(&exploreInput, "report", false, "print the exploration summary")
}

func runNormalize(cmd *cobra.Command, args []string) error {
	pipelineConfig, err := cfg.PipelineConfig(true, true)
	if err != nil {
		return err
	}

	started := time.Now()
	out, err := pipeline.Normalize(cmd.Context(), pipelineConfig)
	if err != nil {
		return err
	}
	result := &pipeline.RunResult{
		InputFile:  cfg.Input.File,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Parse:      out.Parse,
		Normalize:  out.Stats,
		Errors:     map[string]*errors.ErrorSummary{pipeline.StageNormalize: out.Errors},
	}

	log := logger.WithComponent("cli")
	log.WithField("summary", out.Stats.String()).Info("Input normalized")

	if cleanOutput != "" {
		if err := parsers.WriteCleanFile(cleanOutput, out.Records); err != nil {
			return err
		}
		log.WithFields(logger.Fields{"file": cleanOutput, "rows": len(out.Records)}).Info("Cleaned rows written")
	}

	if exploreInput {
		return writeReport(result)
	}
	return nil
}
