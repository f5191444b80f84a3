package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/schemamend/schemamend/remedy"
)

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the backup/fix audit trail",
	Long: `Print the append-only audit trail: backup records captured before
each change and the fix records with their outcomes, newest first.

Examples:
  schemamend audit
  schemamend audit --limit 50
`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		e, err := setup(ctx)
		if err != nil {
			fmt.Println("❌ Audit failed:", err)
			os.Exit(1)
		}
		defer e.close()

		records, err := remedy.AuditTrail(ctx, e.db, auditLimit)
		if err != nil {
			fmt.Println("❌ Audit failed:", err)
			os.Exit(1)
		}

		if len(records) == 0 {
			fmt.Println("✅ No remediation history yet")
			return
		}

		for _, r := range records {
			when := r.AppliedAt.Format("2006-01-02 15:04:05")
			target := r.Table
			if r.Column != "" {
				target += "." + r.Column
			}
			switch r.RecordType {
			case "backup":
				fmt.Printf("%s  💾 backup  %-18s %s\n", when, r.IssueKind, target)
				fmt.Printf("%21s pre-change: %s\n", "", r.PreChange)
			case "fix":
				if r.Success != nil && *r.Success {
					fmt.Printf("%s  ✅ fix     %-18s %s\n", when, r.IssueKind, target)
					fmt.Printf("%21s %s\n", "", r.DDLApplied)
				} else {
					fmt.Printf("%s  %s fix     %-18s %s\n", when, color.RedString("❌"), r.IssueKind, target)
					fmt.Printf("%21s error: %s\n", "", r.Error)
				}
			}
		}
	},
}

func init() {
	auditCmd.Flags().IntVarP(&auditLimit, "limit", "l", 30, "Maximum records to show")
}
