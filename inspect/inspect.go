package inspect

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/schemamend/schemamend/database"
)

// ConnectivityError marks a snapshot failure caused by the catalog being
// unreachable. Callers treat it as transient and retry with backoff.
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("catalog unreachable: %v", e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// Column is one column of a live table.
type Column struct {
	Name     string
	DataType string
	Nullable bool
	Default  *string
}

// ForeignKey is one foreign key constraint on a live table.
type ForeignKey struct {
	Name             string
	Column           string
	ReferencesTable  string
	ReferencesColumn string
}

// Index is one index on a live table.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// Table is the live definition of one table.
type Table struct {
	Name        string
	Columns     []Column
	ForeignKeys []ForeignKey
	Indexes     []Index
}

// Column returns the named column, or nil.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// HasForeignKey reports whether a foreign key exists on the given column.
func (t *Table) HasForeignKey(column string) bool {
	for _, fk := range t.ForeignKeys {
		if fk.Column == column {
			return true
		}
	}
	return false
}

// Snapshot is an immutable picture of the public schema at one instant.
// It reflects only committed DDL; system namespaces are excluded by the
// catalog queries themselves.
type Snapshot struct {
	Tables  map[string]Table
	TakenAt time.Time
}

// Table returns the named table, or nil.
func (s *Snapshot) Table(name string) *Table {
	if t, ok := s.Tables[name]; ok {
		return &t
	}
	return nil
}

// Inspector reads the live catalog into Snapshots. It is read-only and
// never mutates the database.
type Inspector struct {
	db         database.DB
	timeout    time.Duration
	maxRetries int
	baseDelay  time.Duration
	log        *zap.Logger
}

func NewInspector(db database.DB, timeout time.Duration, log *zap.Logger) *Inspector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Inspector{
		db:         db,
		timeout:    timeout,
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
		log:        log,
	}
}

// WithRetry overrides the backoff policy used by SnapshotWithRetry.
func (in *Inspector) WithRetry(maxRetries int, baseDelay time.Duration) *Inspector {
	in.maxRetries = maxRetries
	in.baseDelay = baseDelay
	return in
}

// Snapshot introspects the public schema in one pass.
func (in *Inspector) Snapshot(ctx context.Context) (*Snapshot, error) {
	if in.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.timeout)
		defer cancel()
	}

	snap := &Snapshot{
		Tables:  map[string]Table{},
		TakenAt: time.Now(),
	}

	names, err := in.tableNames(ctx)
	if err != nil {
		return nil, &ConnectivityError{Err: err}
	}
	for _, name := range names {
		snap.Tables[name] = Table{Name: name}
	}

	if err := in.loadColumns(ctx, snap); err != nil {
		return nil, &ConnectivityError{Err: err}
	}
	if err := in.loadForeignKeys(ctx, snap); err != nil {
		return nil, &ConnectivityError{Err: err}
	}
	if err := in.loadIndexes(ctx, snap); err != nil {
		return nil, &ConnectivityError{Err: err}
	}

	return snap, nil
}

// SnapshotWithRetry retries transient snapshot failures with capped
// exponential backoff. A timed-out attempt is transient and never an Issue
// by itself.
func (in *Inspector) SnapshotWithRetry(ctx context.Context) (*Snapshot, error) {
	var lastErr error
	delay := in.baseDelay

	for attempt := 1; attempt <= in.maxRetries; attempt++ {
		snap, err := in.Snapshot(ctx)
		if err == nil {
			return snap, nil
		}
		lastErr = err
		in.log.Warn("snapshot attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt == in.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return nil, fmt.Errorf("snapshot failed after %d attempts: %w", in.maxRetries, lastErr)
}

func (in *Inspector) tableNames(ctx context.Context) ([]string, error) {
	rows, err := in.db.Query(ctx, `
	SELECT table_name
	FROM information_schema.tables
	WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
	ORDER BY table_name;
	`)
	if err != nil {
		return nil, fmt.Errorf("querying tables: %v", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning table name: %v", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (in *Inspector) loadColumns(ctx context.Context, snap *Snapshot) error {
	rows, err := in.db.Query(ctx, `
	SELECT table_name, column_name, data_type, (is_nullable = 'YES'), column_default
	FROM information_schema.columns
	WHERE table_schema = 'public'
	ORDER BY table_name, ordinal_position;
	`)
	if err != nil {
		return fmt.Errorf("querying columns: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tableName string
		var col Column
		if err := rows.Scan(&tableName, &col.Name, &col.DataType, &col.Nullable, &col.Default); err != nil {
			return fmt.Errorf("scanning column: %v", err)
		}
		t, ok := snap.Tables[tableName]
		if !ok {
			continue
		}
		t.Columns = append(t.Columns, col)
		snap.Tables[tableName] = t
	}
	return rows.Err()
}

func (in *Inspector) loadForeignKeys(ctx context.Context, snap *Snapshot) error {
	rows, err := in.db.Query(ctx, `
	SELECT tc.table_name, tc.constraint_name, kcu.column_name,
	       ccu.table_name AS foreign_table_name,
	       ccu.column_name AS foreign_column_name
	FROM information_schema.table_constraints AS tc
	JOIN information_schema.key_column_usage AS kcu
		ON tc.constraint_name = kcu.constraint_name
		AND tc.table_schema = kcu.table_schema
	JOIN information_schema.constraint_column_usage AS ccu
		ON ccu.constraint_name = tc.constraint_name
		AND ccu.table_schema = tc.table_schema
	WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = 'public';
	`)
	if err != nil {
		return fmt.Errorf("querying foreign keys: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tableName string
		var fk ForeignKey
		if err := rows.Scan(&tableName, &fk.Name, &fk.Column, &fk.ReferencesTable, &fk.ReferencesColumn); err != nil {
			return fmt.Errorf("scanning foreign key: %v", err)
		}
		t, ok := snap.Tables[tableName]
		if !ok {
			continue
		}
		t.ForeignKeys = append(t.ForeignKeys, fk)
		snap.Tables[tableName] = t
	}
	return rows.Err()
}

func (in *Inspector) loadIndexes(ctx context.Context, snap *Snapshot) error {
	rows, err := in.db.Query(ctx, `
	SELECT i.tablename, i.indexname,
	       array_to_string(array_agg(a.attname), ','),
	       idx.indisunique
	FROM pg_indexes i
	JOIN pg_class c ON c.relname = i.indexname
	JOIN pg_index idx ON idx.indexrelid = c.oid
	JOIN pg_attribute a ON a.attrelid = idx.indrelid AND a.attnum = ANY(idx.indkey)
	WHERE i.schemaname = 'public'
	GROUP BY i.tablename, i.indexname, idx.indisunique;
	`)
	if err != nil {
		return fmt.Errorf("querying indexes: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tableName, columns string
		var ix Index
		if err := rows.Scan(&tableName, &ix.Name, &columns, &ix.Unique); err != nil {
			return fmt.Errorf("scanning index: %v", err)
		}
		for _, col := range strings.Split(columns, ",") {
			ix.Columns = append(ix.Columns, strings.TrimSpace(col))
		}
		t, ok := snap.Tables[tableName]
		if !ok {
			continue
		}
		t.Indexes = append(t.Indexes, ix)
		snap.Tables[tableName] = t
	}
	return rows.Err()
}
