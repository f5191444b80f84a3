package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/schemamend/schemamend/remedy"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create the engine's audit and health-check tables",
	Long: `Create the two tables the engine needs before self-healing can run:
the append-only backup/audit table and the health-check-result table.
Safe to run repeatedly.

Examples:
  schemamend bootstrap
`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		e, err := setup(ctx)
		if err != nil {
			fmt.Println("❌ Bootstrap failed:", err)
			os.Exit(1)
		}
		defer e.close()

		if err := remedy.Bootstrap(ctx, e.db); err != nil {
			fmt.Println("❌ Bootstrap failed:", err)
			os.Exit(1)
		}
		fmt.Println("✅ Engine tables ready (schema_audit, schema_health_checks)")
	},
}
