package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/schemamend/schemamend/remedy"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one on-demand health check cycle",
	Long: `Run a single monitor iteration: snapshot the schema, scan sources,
detect issues, auto-fix those at or above the configured threshold, and
record the result.

Examples:
  schemamend cycle
  schemamend cycle --verbose
`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		e, err := setup(ctx)
		if err != nil {
			fmt.Println("❌ Cycle failed:", err)
			os.Exit(1)
		}
		defer e.close()

		if err := remedy.Bootstrap(ctx, e.db); err != nil {
			fmt.Println("❌ Cycle failed:", err)
			os.Exit(1)
		}

		result, err := e.monitor.RunCycle(ctx)
		if err != nil {
			fmt.Println("❌ Cycle failed:", err)
			os.Exit(1)
		}

		fmt.Printf("✅ Cycle completed in %dms\n", result.DurationMS)
		fmt.Printf("   Issues found: %d, fixed: %d\n", result.IssuesFound, result.IssuesFixed)
		if result.CriticalCount > 0 {
			color.Red("   ⚠️  %d CRITICAL issue(s) need attention", result.CriticalCount)
		}
	},
}
