package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/schemamend/schemamend/remedy"
)

var fixAdvisory bool

var fixCmd = &cobra.Command{
	Use:   "fix [issue number]",
	Short: "Apply the fix for one detected issue",
	Long: `Re-run detection and apply the proposed fix for the issue at the
given position in the 'issues' listing. Advisory foreign-key suggestions
are only applied with --advisory; they are never applied automatically.

Examples:
  schemamend issues
  schemamend fix 1
  schemamend fix 3 --advisory
`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		var n int
		if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil || n < 1 {
			fmt.Println("❌ Issue number must be a positive integer")
			os.Exit(1)
		}

		e, err := setup(ctx)
		if err != nil {
			fmt.Println("❌ Fix failed:", err)
			os.Exit(1)
		}
		defer e.close()

		if err := remedy.Bootstrap(ctx, e.db); err != nil {
			fmt.Println("❌ Fix failed:", err)
			os.Exit(1)
		}

		issues, err := e.detectIssues(ctx)
		if err != nil {
			fmt.Println("❌ Fix failed:", err)
			os.Exit(1)
		}
		if n > len(issues) {
			fmt.Printf("❌ Only %d issue(s) detected\n", len(issues))
			os.Exit(1)
		}

		issue := &issues[n-1]
		result, err := e.remedy.Apply(ctx, issue, remedy.Options{AllowAdvisory: fixAdvisory})
		if err != nil {
			fmt.Println("❌ Fix failed:", err)
			os.Exit(1)
		}

		if result.AlreadyResolved {
			fmt.Println("✅ Already resolved, nothing to do")
			return
		}
		fmt.Println("✅ Applied:", result.DDL)
	},
}

func init() {
	fixCmd.Flags().BoolVar(&fixAdvisory, "advisory", false, "Allow applying advisory foreign-key suggestions")
}
