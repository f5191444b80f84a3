package remedy

import (
	"context"
	"fmt"

	"github.com/schemamend/schemamend/database"
)

// Bootstrap creates the engine's own two tables. These are the only
// tables created outside the issue pipeline, and this must run once,
// unconditionally, before any self-healing logic.
func Bootstrap(ctx context.Context, db database.DB) error {
	_, err := db.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS schema_audit (
		id BIGSERIAL PRIMARY KEY,
		issue_id UUID NOT NULL,
		record_type TEXT NOT NULL,
		issue_kind TEXT NOT NULL,
		table_name TEXT NOT NULL,
		column_name TEXT,
		pre_change_definition TEXT,
		ddl_applied TEXT,
		success BOOLEAN,
		error TEXT,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	`)
	if err != nil {
		return fmt.Errorf("creating schema_audit table: %v", err)
	}

	_, err = db.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS schema_health_checks (
		id BIGSERIAL PRIMARY KEY,
		checked_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		issues_found INT NOT NULL,
		issues_fixed INT NOT NULL,
		critical_count INT NOT NULL,
		duration_ms BIGINT NOT NULL,
		detail TEXT
	);
	`)
	if err != nil {
		return fmt.Errorf("creating schema_health_checks table: %v", err)
	}

	return nil
}
