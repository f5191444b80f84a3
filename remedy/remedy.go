package remedy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/schemamend/schemamend/database"
	"github.com/schemamend/schemamend/detect"
)

// ErrNoFix means the issue carries no proposed DDL (ambiguous inference);
// it is never applied automatically.
var ErrNoFix = errors.New("issue has no proposed fix")

// ErrAdvisory means the issue is advisory (FK suggestion) and automatic
// application was not explicitly allowed.
var ErrAdvisory = errors.New("advisory issue requires explicit approval")

// ErrDestructive means the proposed DDL failed the no-data-loss guard.
var ErrDestructive = errors.New("destructive DDL rejected")

// FailureError reports a fix whose post-apply verification failed. The
// transaction was rolled back and the issue escalated to CRITICAL.
type FailureError struct {
	Issue *detect.Issue
	Err   error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("remediation of %s on %q failed: %v", e.Issue.Kind, e.Issue.Table, e.Err)
}

func (e *FailureError) Unwrap() error { return e.Err }

// Result is the outcome of one remediation attempt.
type Result struct {
	Applied bool
	// DDL is empty when re-verification found the issue already resolved
	// and nothing was executed.
	DDL             string
	AlreadyResolved bool
}

// Options controls a single Apply call.
type Options struct {
	// AllowAdvisory lets an operator apply FK suggestions. The monitor
	// and interceptor never set it.
	AllowAdvisory bool
}

// Engine turns one Issue into a safe, backed-up, idempotent schema
// change. All steps run inside one transaction so a racing second attempt
// observes the applied state and becomes a no-op.
type Engine struct {
	db  database.DB
	log *zap.Logger
}

func NewEngine(db database.DB, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{db: db, log: log}
}

// Apply remediates one issue. Re-running against an already-fixed schema
// is a no-op returning Applied=true with empty DDL.
func (e *Engine) Apply(ctx context.Context, issue *detect.Issue, opts Options) (Result, error) {
	if issue.ProposedFix == nil {
		return Result{}, ErrNoFix
	}
	if issue.Advisory && !opts.AllowAdvisory {
		return Result{}, ErrAdvisory
	}
	ddl := *issue.ProposedFix
	if err := CheckDDL(ddl); err != nil {
		return Result{}, err
	}

	tx, err := e.db.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("begin remediation tx: %v", err)
	}
	defer tx.Rollback(ctx)

	// Step 1: re-verify against the live state inside the transaction.
	// Schema changed between detect and apply is not an error; the issue
	// simply no longer holds.
	satisfied, err := e.verify(ctx, tx, issue)
	if err != nil {
		return Result{}, fmt.Errorf("pre-apply verification: %v", err)
	}
	if satisfied {
		issue.MarkResolved()
		e.log.Info("issue already resolved, skipping",
			zap.String("kind", issue.Kind.String()),
			zap.String("table", issue.Table),
		)
		return Result{Applied: true, AlreadyResolved: true}, nil
	}

	// Step 2: backup record strictly before the fix executes.
	preState, err := e.preChangeDefinition(ctx, tx, issue)
	if err != nil {
		return Result{}, fmt.Errorf("capturing pre-change state: %v", err)
	}
	if err := insertBackup(ctx, tx, issue, preState); err != nil {
		return Result{}, fmt.Errorf("writing backup record: %v", err)
	}

	// Step 3: the add-if-missing DDL itself.
	if _, err := tx.Exec(ctx, ddl); err != nil {
		tx.Rollback(ctx)
		e.recordFailure(ctx, issue, ddl, err)
		issue.Severity = detect.Critical
		return Result{}, &FailureError{Issue: issue, Err: err}
	}

	// Step 4: confirm the change actually took.
	confirmed, err := e.verify(ctx, tx, issue)
	if err != nil || !confirmed {
		if err == nil {
			err = fmt.Errorf("post-apply check found schema unchanged")
		}
		tx.Rollback(ctx)
		e.recordFailure(ctx, issue, ddl, err)
		issue.Severity = detect.Critical
		return Result{}, &FailureError{Issue: issue, Err: err}
	}

	if err := insertFix(ctx, tx, issue, ddl, true, ""); err != nil {
		return Result{}, fmt.Errorf("writing fix record: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("commit remediation tx: %v", err)
	}

	issue.MarkResolved()
	e.log.Info("issue remediated",
		zap.String("kind", issue.Kind.String()),
		zap.String("table", issue.Table),
		zap.String("column", issue.Column),
	)
	return Result{Applied: true, DDL: ddl}, nil
}

// CheckDDL enforces the no-data-loss invariant: the engine only ever adds
// structure, so any DROP or TRUNCATE is a bug upstream.
func CheckDDL(ddl string) error {
	upper := strings.ToUpper(ddl)
	for _, banned := range []string{"DROP TABLE", "DROP COLUMN", "DROP INDEX", "DROP CONSTRAINT", "TRUNCATE"} {
		if strings.Contains(upper, banned) {
			return fmt.Errorf("%w: contains %s", ErrDestructive, banned)
		}
	}
	return nil
}

// verify reports whether the issue's expectation currently holds.
func (e *Engine) verify(ctx context.Context, tx database.Tx, issue *detect.Issue) (bool, error) {
	switch issue.Kind {
	case detect.MissingTable:
		return tableExists(ctx, tx, issue.Table)
	case detect.MissingColumn:
		return columnExists(ctx, tx, issue.Table, issue.Column)
	case detect.MissingConstraint:
		name := fmt.Sprintf("fk_%s_%s", issue.Table, issue.Column)
		return constraintExists(ctx, tx, issue.Table, name)
	case detect.MissingData:
		return rowsPresent(ctx, tx, issue.Table, issue.Column, issue.SeedValues)
	default:
		return false, fmt.Errorf("unknown issue kind %d", issue.Kind)
	}
}

func (e *Engine) preChangeDefinition(ctx context.Context, tx database.Tx, issue *detect.Issue) (string, error) {
	exists, err := tableExists(ctx, tx, issue.Table)
	if err != nil {
		return "", err
	}
	if !exists {
		return fmt.Sprintf("table %q absent", issue.Table), nil
	}

	rows, err := tx.Query(ctx, `
	SELECT column_name, data_type
	FROM information_schema.columns
	WHERE table_schema = 'public' AND table_name = $1
	ORDER BY ordinal_position;
	`, issue.Table)
	if err != nil {
		return "", fmt.Errorf("reading pre-change columns: %v", err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return "", err
		}
		cols = append(cols, name+" "+typ)
	}
	if rows.Err() != nil {
		return "", rows.Err()
	}
	return fmt.Sprintf("table %q: %s", issue.Table, strings.Join(cols, ", ")), nil
}

// recordFailure appends the failed fix attempt to the audit trail outside
// the rolled-back transaction. Audit writes must survive the rollback.
func (e *Engine) recordFailure(ctx context.Context, issue *detect.Issue, ddl string, cause error) {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		e.log.Error("recording remediation failure", zap.Error(err))
		return
	}
	defer tx.Rollback(ctx)
	if err := insertFix(ctx, tx, issue, ddl, false, cause.Error()); err != nil {
		e.log.Error("recording remediation failure", zap.Error(err))
		return
	}
	if err := tx.Commit(ctx); err != nil {
		e.log.Error("recording remediation failure", zap.Error(err))
	}
}

func tableExists(ctx context.Context, tx database.Tx, table string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
	SELECT EXISTS (
		SELECT FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name = $1
	);`, table).Scan(&exists)
	return exists, err
}

func columnExists(ctx context.Context, tx database.Tx, table, column string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
	SELECT EXISTS (
		SELECT FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1 AND column_name = $2
	);`, table, column).Scan(&exists)
	return exists, err
}

func constraintExists(ctx context.Context, tx database.Tx, table, constraint string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
	SELECT EXISTS (
		SELECT FROM information_schema.table_constraints
		WHERE table_schema = 'public' AND table_name = $1 AND constraint_name = $2
	);`, table, constraint).Scan(&exists)
	return exists, err
}

func rowsPresent(ctx context.Context, tx database.Tx, table, keyColumn string, values []string) (bool, error) {
	if len(values) == 0 {
		return true, nil
	}
	var count int
	query := fmt.Sprintf(`SELECT count(*) FROM %q WHERE %q::text = ANY($1);`, table, keyColumn)
	if err := tx.QueryRow(ctx, query, values).Scan(&count); err != nil {
		return false, err
	}
	return count >= len(values), nil
}
