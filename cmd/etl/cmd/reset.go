package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bank-fraud-etl/pkg/logger"
)

var confirmReset bool

// resetCmd represents the reset command
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and recreate the normalized schema",
	Long: `Reset drops every table of the normalized schema and creates them again
empty. The star schema is not touched.

Examples:
  etl reset --yes
  etl reset --operational-driver postgres --operational-dsn postgres://... --yes`,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)

	addStoreFlags(resetCmd)
	resetCmd.Flags().BoolVarP(&confirmReset, "yes", "y", false, "confirm dropping the normalized schema")
}

func runReset(cmd *cobra.Command, args []string) error {
	if !confirmReset {
		return fmt.Errorf("refusing to drop the normalized schema without --yes")
	}

	stores, err := openStores(false)
	if err != nil {
		return err
	}
	defer stores.Close()

	if err := stores.operational.Reset(cmd.Context()); err != nil {
		return err
	}

	counts, err := stores.operational.Counts(cmd.Context())
	if err != nil {
		return err
	}
	logger.WithComponent("cli").
		WithField("tables", len(counts)).
		Info("Normalized schema reset")
	fmt.Fprintf(os.Stdout, "Normalized schema reset: %d tables recreated\n", len(counts))
	return nil
}
