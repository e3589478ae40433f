package cmd

import (
	"github.com/spf13/cobra"

	"bank-fraud-etl/internal/pipeline"
)

// warehouseCmd represents the warehouse command
var warehouseCmd = &cobra.Command{
	Use:   "warehouse",
	Short: "Derive the star schema from the normalized schema",
	Long: `Warehouse reads the normalized schema already in the operational store and
loads the date, customer, location, merchant, device and attribute
dimensions and the transaction facts. No input file is read.

Examples:
  etl warehouse
  etl warehouse --fill-calendar --report-format json`,
	RunE: runWarehouse,
}

func init() {
	rootCmd.AddCommand(warehouseCmd)

	addStoreFlags(warehouseCmd)
	addReportFlags(warehouseCmd)
	warehouseCmd.Flags().Int("batch-size", 0, "facts committed per batch (default 5000)")
	warehouseCmd.Flags().Bool("fill-calendar", false, "add every date between the first and last transaction to dim_date")
	bindFlag(warehouseCmd, "load.batch_size", "batch-size")
	bindFlag(warehouseCmd, "load.fill_calendar", "fill-calendar")
}

func runWarehouse(cmd *cobra.Command, args []string) error {
	pipelineConfig, err := cfg.PipelineConfig(false, true)
	if err != nil {
		return err
	}

	stores, err := openStores(true)
	if err != nil {
		return err
	}
	defer stores.Close()

	p, err := pipeline.New(pipelineConfig, stores.operational, stores.warehouse)
	if err != nil {
		return err
	}

	result, err := p.RunWarehouse(cmd.Context())
	if result != nil {
		if reportErr := writeReport(result); reportErr != nil && err == nil {
			return reportErr
		}
	}
	return err
}
