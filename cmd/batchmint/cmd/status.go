package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"batchmint/pkg/ledger"
	"batchmint/pkg/models"
)

var (
	statusLedger string
	statusFormat string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the outcomes recorded in a progress ledger",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusLedger, "ledger", "", "ledger database (default <output-dir>/progress.db)")
	statusCmd.Flags().StringVar(&statusFormat, "format", "table", "output format: table or json")
}

func runStatus(cmd *cobra.Command, args []string) error {
	path := statusLedger
	if path == "" {
		path = ledger.ShardPath(outputDir, 0, 1)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("ledger %s not found", path)
	}

	led, err := ledger.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer led.Close()

	entries, err := led.Snapshot()
	if err != nil {
		return err
	}

	if statusFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Key", "Outcome", "Last Step", "Attempts", "Reason", "Updated")

	counts := make(map[models.Outcome]int)
	for _, entry := range entries {
		counts[entry.Outcome]++
		table.Append(
			entry.Key,
			string(entry.Outcome),
			string(entry.LastStep),
			fmt.Sprintf("%d", entry.Attempts),
			entry.Reason,
			entry.UpdatedAt.Format(time.RFC3339),
		)
	}
	table.Render()

	fmt.Printf("\n%d completed, %d failed, %d skipped (%d total)\n",
		counts[models.OutcomeCompleted], counts[models.OutcomeFailed],
		counts[models.OutcomeSkipped], len(entries))
	return nil
}
