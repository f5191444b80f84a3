package intercept

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/schemamend/schemamend/detect"
	"github.com/schemamend/schemamend/extract"
	"github.com/schemamend/schemamend/infer"
	"github.com/schemamend/schemamend/remedy"
)

// Executor is the query surface application code calls through. The
// interceptor decorates any Executor; call sites are composed, never
// patched.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Remediator is the slice of the remediation engine the interceptor
// needs.
type Remediator interface {
	Apply(ctx context.Context, issue *detect.Issue, opts remedy.Options) (remedy.Result, error)
}

// Interceptor wraps an Executor. Successful calls pass through unchanged.
// A failure matching a known signature triggers one synchronous fix and
// one retry; everything else propagates the original error verbatim, so
// callers never see a new error type and never learn remediation ran.
type Interceptor struct {
	next       Executor
	classifier Classifier
	engine     Remediator
	group      singleflight.Group
	log        *zap.Logger
}

func New(next Executor, classifier Classifier, engine Remediator, log *zap.Logger) *Interceptor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Interceptor{
		next:       next,
		classifier: classifier,
		engine:     engine,
		log:        log,
	}
}

func (i *Interceptor) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tag, err := i.next.Exec(ctx, sql, args...)
	if err == nil {
		return tag, nil
	}
	if !i.tryFix(ctx, sql, err) {
		return tag, err
	}
	retryTag, retryErr := i.next.Exec(ctx, sql, args...)
	if retryErr != nil {
		return tag, err
	}
	return retryTag, nil
}

func (i *Interceptor) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	rows, err := i.next.Query(ctx, sql, args...)
	if err == nil {
		return rows, nil
	}
	if !i.tryFix(ctx, sql, err) {
		return rows, err
	}
	retryRows, retryErr := i.next.Query(ctx, sql, args...)
	if retryErr != nil {
		return rows, err
	}
	return retryRows, nil
}

// QueryRow defers errors to Scan, so the returned row re-runs the query
// once if the first Scan fails on a recognizable signature.
func (i *Interceptor) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return &interceptedRow{i: i, ctx: ctx, sql: sql, args: args}
}

type interceptedRow struct {
	i    *Interceptor
	ctx  context.Context
	sql  string
	args []any
}

func (r *interceptedRow) Scan(dest ...any) error {
	err := r.i.next.QueryRow(r.ctx, r.sql, r.args...).Scan(dest...)
	if err == nil {
		return nil
	}
	if !r.i.tryFix(r.ctx, r.sql, err) {
		return err
	}
	if retryErr := r.i.next.QueryRow(r.ctx, r.sql, r.args...).Scan(dest...); retryErr == nil {
		return nil
	}
	return err
}

// tryFix classifies the failure and, on a match, runs the remediation
// engine exactly once for that signature even under concurrent callers.
// It reports whether a retry is worth attempting.
func (i *Interceptor) tryFix(ctx context.Context, query string, cause error) bool {
	miss, ok := i.classifier.Classify(query, cause)
	if !ok {
		return false
	}

	i.log.Warn("intercepted recoverable query failure",
		zap.String("kind", miss.Kind.String()),
		zap.String("table", miss.Table),
		zap.String("column", miss.Column),
	)

	_, err, _ := i.group.Do(miss.key(), func() (any, error) {
		issue := i.synthesize(query, miss)
		_, err := i.engine.Apply(ctx, issue, remedy.Options{})
		return nil, err
	})
	if err != nil {
		i.log.Warn("inline remediation failed", zap.Error(err))
		return false
	}
	return true
}

// synthesize builds the single-issue fix for a classified failure,
// bypassing the full detect cycle.
func (i *Interceptor) synthesize(query string, miss Missing) *detect.Issue {
	pattern := extract.FromError(query, miss.Table, miss.Column)
	patterns := extract.Merge(append(extract.ScanSQL(query, pattern.Sources[0]), pattern))

	issue := &detect.Issue{
		ID:       uuid.New(),
		Severity: detect.High,
		Table:    miss.Table,
		Column:   miss.Column,
		Sources:  pattern.Sources,
	}

	switch miss.Kind {
	case detect.MissingTable:
		def := infer.InferTable(miss.Table, patterns)
		ddl := infer.CreateTableDDL(def)
		issue.Kind = detect.MissingTable
		issue.CurrentState = fmt.Sprintf("table %q absent", miss.Table)
		issue.ExpectedState = ddl
		issue.ProposedFix = &ddl
	default:
		def := infer.InferColumn(miss.Table, miss.Column, patterns)
		ddl := infer.AddColumnDDL(miss.Table, def)
		issue.Kind = detect.MissingColumn
		issue.CurrentState = fmt.Sprintf("column %q absent on table %q", miss.Column, miss.Table)
		issue.ExpectedState = fmt.Sprintf("%s %s", def.Name, def.SQLType)
		issue.ProposedFix = &ddl
	}

	return issue
}
