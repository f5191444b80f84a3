package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
)

var statusWindow int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show monitor state and health check trends",
	Long: `Show the latest health check result plus rolling statistics:
fix success rate and average cycle duration over the recent window.

Examples:
  schemamend status
  schemamend status --window 50
`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		e, err := setup(ctx)
		if err != nil {
			fmt.Println("❌ Status failed:", err)
			os.Exit(1)
		}
		defer e.close()

		latest, err := e.monitor.Latest(ctx)
		if errors.Is(err, pgx.ErrNoRows) {
			fmt.Println("⚠️  No health checks recorded yet. Run 'schemamend cycle' first.")
			return
		}
		if err != nil {
			fmt.Println("❌ Status failed:", err)
			os.Exit(1)
		}

		fmt.Println("📊 Latest health check")
		fmt.Printf("   At:       %s\n", latest.CheckedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("   Found:    %d\n", latest.IssuesFound)
		fmt.Printf("   Fixed:    %d\n", latest.IssuesFixed)
		fmt.Printf("   Duration: %dms\n", latest.DurationMS)
		if latest.CriticalCount > 0 {
			color.Red("   Critical: %d", latest.CriticalCount)
		}

		rate, err := e.monitor.SuccessRate(ctx, statusWindow)
		if err == nil {
			fmt.Printf("   Success rate (last %d): %.0f%%\n", statusWindow, rate*100)
		}
		avg, rising, err := e.monitor.AvgCycleDuration(ctx, statusWindow)
		if err == nil {
			fmt.Printf("   Avg cycle duration: %s\n", avg)
			if rising {
				color.Yellow("   ⚠️  Cycle duration trending up")
			}
		}
	},
}

func init() {
	statusCmd.Flags().IntVarP(&statusWindow, "window", "w", 20, "Number of recent cycles for trend stats")
}
