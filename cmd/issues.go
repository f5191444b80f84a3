package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/schemamend/schemamend/detect"
)

var issuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "Detect and list current schema issues",
	Long: `Run detection (snapshot + static scan) and print the issue list,
severity-ordered, without applying any fixes.

Examples:
  schemamend issues
`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		e, err := setup(ctx)
		if err != nil {
			fmt.Println("❌ Detection failed:", err)
			os.Exit(1)
		}
		defer e.close()

		issues, err := e.detectIssues(ctx)
		if err != nil {
			fmt.Println("❌ Detection failed:", err)
			os.Exit(1)
		}

		if len(issues) == 0 {
			fmt.Println("✅ No schema issues detected")
			return
		}

		fmt.Printf("Found %d issue(s):\n\n", len(issues))
		for i, issue := range issues {
			printIssue(i, issue)
		}
	},
}

func printIssue(i int, issue detect.Issue) {
	sev := issue.Severity.String()
	switch issue.Severity {
	case detect.Critical:
		sev = color.RedString(sev)
	case detect.High:
		sev = color.YellowString(sev)
	default:
		sev = color.CyanString(sev)
	}

	target := issue.Table
	if issue.Column != "" {
		target += "." + issue.Column
	}
	fmt.Printf("%2d. [%s] %s %s\n", i+1, sev, issue.Kind, target)
	fmt.Printf("    current:  %s\n", issue.CurrentState)
	fmt.Printf("    expected: %s\n", issue.ExpectedState)
	if issue.ProposedFix == nil {
		fmt.Println("    fix:      (ambiguous, manual review required)")
	} else if issue.Advisory {
		fmt.Printf("    fix:      %s (advisory, use 'fix --advisory')\n", *issue.ProposedFix)
	} else {
		fmt.Printf("    fix:      %s\n", *issue.ProposedFix)
	}
	fmt.Printf("    sources:  %d call site(s)\n\n", len(issue.Sources))
}
