package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/schemamend/schemamend/config"
	"github.com/schemamend/schemamend/database"
)

var healthTimeout time.Duration

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check database connectivity",
	Long: `Check that the database is accessible and that the engine tables
have been bootstrapped.

Examples:
  schemamend health
  schemamend health --timeout 10s
`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := checkDatabaseHealth(); err != nil {
			fmt.Printf("❌ Database health check failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("✅ Database is healthy and accessible")
	},
}

func init() {
	healthCmd.Flags().DurationVarP(&healthTimeout, "timeout", "t", 5*time.Second, "Timeout for health check")
}

func checkDatabaseHealth() error {
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	var bootstrapped bool
	query := `SELECT EXISTS (
		SELECT FROM information_schema.tables
		WHERE table_schema = 'public'
		AND table_name = 'schema_audit'
	)`
	if err := pool.QueryRow(ctx, query).Scan(&bootstrapped); err != nil {
		return fmt.Errorf("failed to check schema_audit table: %v", err)
	}

	if !bootstrapped {
		fmt.Println("⚠️  Database is accessible but engine tables not found")
		fmt.Println("   Run 'schemamend bootstrap' to create them")
		return nil
	}

	var checks int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM schema_health_checks").Scan(&checks); err != nil {
		return fmt.Errorf("failed to count health checks: %v", err)
	}
	fmt.Printf("📊 Found %d recorded health check(s)\n", checks)

	return nil
}
