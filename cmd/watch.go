package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/schemamend/schemamend/remedy"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the health monitor loop until interrupted",
	Long: `Run the periodic detect→remediate loop on the configured interval.
With watch_sources enabled in config, source file changes trigger an
early cycle. Ctrl-C stops the loop; an in-flight cycle finishes first.

Examples:
  schemamend watch
`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		e, err := setup(ctx)
		if err != nil {
			fmt.Println("❌ Watch failed:", err)
			os.Exit(1)
		}
		defer e.close()

		if err := remedy.Bootstrap(ctx, e.db); err != nil {
			fmt.Println("❌ Watch failed:", err)
			os.Exit(1)
		}

		fmt.Printf("👀 Monitoring every %s (Ctrl-C to stop)\n", e.cfg.Interval.Std())

		if e.cfg.WatchSources {
			go func() {
				if err := e.monitor.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
					fmt.Println("⚠️  Source watcher stopped:", err)
				}
			}()
		}

		if err := e.monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Println("❌ Monitor loop failed:", err)
			os.Exit(1)
		}
		fmt.Println("✅ Monitor stopped cleanly")
	},
}
