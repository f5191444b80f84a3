package remedy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/schemamend/schemamend/database"
	"github.com/schemamend/schemamend/detect"
)

// AuditRecord is one append-only row of the backup/fix trail. Backup rows
// capture pre-change state; fix rows record the DDL attempt and outcome.
type AuditRecord struct {
	ID         int64
	IssueID    uuid.UUID
	RecordType string // "backup" or "fix"
	IssueKind  string
	Table      string
	Column     string
	PreChange  string
	DDLApplied string
	Success    *bool
	Error      string
	AppliedAt  time.Time
}

func insertBackup(ctx context.Context, tx database.Tx, issue *detect.Issue, preState string) error {
	_, err := tx.Exec(ctx, `
	INSERT INTO schema_audit (issue_id, record_type, issue_kind, table_name, column_name, pre_change_definition)
	VALUES ($1, 'backup', $2, $3, $4, $5);
	`, issue.ID, issue.Kind.String(), issue.Table, issue.Column, preState)
	return err
}

func insertFix(ctx context.Context, tx database.Tx, issue *detect.Issue, ddl string, success bool, errText string) error {
	_, err := tx.Exec(ctx, `
	INSERT INTO schema_audit (issue_id, record_type, issue_kind, table_name, column_name, ddl_applied, success, error)
	VALUES ($1, 'fix', $2, $3, $4, $5, $6, NULLIF($7, ''));
	`, issue.ID, issue.Kind.String(), issue.Table, issue.Column, ddl, success, errText)
	return err
}

// AuditTrail returns the most recent audit records, newest first.
func AuditTrail(ctx context.Context, db database.DB, limit int) ([]AuditRecord, error) {
	query := `
	SELECT id, issue_id, record_type, issue_kind, table_name, column_name,
	       COALESCE(pre_change_definition, ''), COALESCE(ddl_applied, ''),
	       success, COALESCE(error, ''), applied_at
	FROM schema_audit
	ORDER BY id DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %v", err)
	}
	defer rows.Close()

	var records []AuditRecord
	for rows.Next() {
		var r AuditRecord
		if err := rows.Scan(&r.ID, &r.IssueID, &r.RecordType, &r.IssueKind,
			&r.Table, &r.Column, &r.PreChange, &r.DDLApplied,
			&r.Success, &r.Error, &r.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %v", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// RecordsFor returns the audit records of one issue in insertion order,
// so the backup row always appears before its fix row.
func RecordsFor(ctx context.Context, db database.DB, issueID uuid.UUID) ([]AuditRecord, error) {
	rows, err := db.Query(ctx, `
	SELECT id, issue_id, record_type, issue_kind, table_name, column_name,
	       COALESCE(pre_change_definition, ''), COALESCE(ddl_applied, ''),
	       success, COALESCE(error, ''), applied_at
	FROM schema_audit
	WHERE issue_id = $1
	ORDER BY id ASC;
	`, issueID)
	if err != nil {
		return nil, fmt.Errorf("query issue audit records: %v", err)
	}
	defer rows.Close()

	var records []AuditRecord
	for rows.Next() {
		var r AuditRecord
		if err := rows.Scan(&r.ID, &r.IssueID, &r.RecordType, &r.IssueKind,
			&r.Table, &r.Column, &r.PreChange, &r.DDLApplied,
			&r.Success, &r.Error, &r.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %v", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
