package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string
var verbose bool

var rootCmd = &cobra.Command{
	Use:   "schemamend",
	Short: "Self-healing schema engine for Postgres-backed applications",
	Long: `schemamend keeps a live database schema consistent with what the
application code expects: it learns referenced tables and columns from
source, diffs them against the catalog, and applies safe additive DDL
with full backup/audit records.

Examples:

  schemamend bootstrap
  schemamend cycle
  schemamend watch
  schemamend status
`,
}

// Execute runs the CLI
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("❌", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "schemamend.yaml", "Path to the config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose engine logging")

	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(cycleCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(issuesCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(fixCmd)
	rootCmd.AddCommand(healthCmd)
}
