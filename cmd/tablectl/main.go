// Command tablectl administers the record tables: create them, bulk import
// record files in atomic per-partition batches, and list or delete rows.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tablectl",
	Short: "Manage expense-agent record tables",
	Long: `tablectl works against the configured storage backend (DynamoDB or SQLite).

Examples:
  tablectl create-table --table Expense
  tablectl import records.yaml --table Expense --op upsert
  tablectl list --table Message --partition 2024-42
  tablectl delete --table Expense --partition 42-2024-01`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(createTableCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)

	rootCmd.PersistentFlags().StringP("table", "t", "", "Table name (required)")
	rootCmd.PersistentFlags().String("backend", "", "Storage backend: dynamodb or sqlite (default from STORE_BACKEND)")
	rootCmd.PersistentFlags().String("sqlite-path", "", "SQLite database file (default from SQLITE_PATH)")
	_ = rootCmd.MarkPersistentFlagRequired("table")
}
