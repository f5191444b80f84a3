package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/schemamend/schemamend/database"
	"github.com/schemamend/schemamend/detect"
	"github.com/schemamend/schemamend/extract"
	"github.com/schemamend/schemamend/inspect"
	"github.com/schemamend/schemamend/remedy"
)

// emptyRows is a pgx.Rows over zero rows, enough to answer every catalog
// query against an empty public schema.
type emptyRows struct{}

func (emptyRows) Close()                                       {}
func (emptyRows) Err() error                                   { return nil }
func (emptyRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (emptyRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (emptyRows) Next() bool                                   { return false }
func (emptyRows) Scan(dest ...any) error                       { return nil }
func (emptyRows) Values() ([]any, error)                       { return nil, nil }
func (emptyRows) RawValues() [][]byte                          { return nil }
func (emptyRows) Conn() *pgx.Conn                              { return nil }

type scanRow struct {
	scan func(dest ...any) error
}

func (r scanRow) Scan(dest ...any) error { return r.scan(dest...) }

type persistedCheck struct {
	found    int
	fixed    int
	critical int
}

// cycleDB fakes an empty database and records health check inserts.
type cycleDB struct {
	mu         sync.Mutex
	persisted  []persistedCheck
	persistErr error
}

func (f *cycleDB) Exec(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("DELETE 0"), nil
}

func (f *cycleDB) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return emptyRows{}, nil
}

func (f *cycleDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	if strings.Contains(sql, "INSERT INTO schema_health_checks") {
		return scanRow{scan: func(dest ...any) error {
			if f.persistErr != nil {
				return f.persistErr
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			f.persisted = append(f.persisted, persistedCheck{
				found:    args[1].(int),
				fixed:    args[2].(int),
				critical: args[3].(int),
			})
			*dest[0].(*int64) = int64(len(f.persisted))
			return nil
		}}
	}
	return scanRow{scan: func(dest ...any) error { return nil }}
}

func (f *cycleDB) Begin(_ context.Context) (database.Tx, error) {
	return nil, errors.New("no transactions in cycle tests")
}

type countingRemediator struct {
	mu      sync.Mutex
	applies int
}

func (c *countingRemediator) Apply(_ context.Context, issue *detect.Issue, _ remedy.Options) (remedy.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applies++
	issue.MarkResolved()
	return remedy.Result{Applied: true}, nil
}

func cycleMonitor(db *cycleDB, scanPath string, rec *recordingNotifier) (*Monitor, *countingRemediator) {
	rem := &countingRemediator{}
	m := New(Params{
		DB:        db,
		Inspector: inspect.NewInspector(db, time.Second, zap.NewNop()).WithRetry(1, time.Millisecond),
		Scanner:   extract.NewScanner(zap.NewNop()),
		Detector:  detect.New(zap.NewNop()),
		Engine:    rem,
		Notifier:  rec,
		ScanPaths: []string{scanPath},
		Interval:  time.Minute,
		Log:       zap.NewNop(),
	})
	return m, rem
}

func TestRunCycleZeroIssues(t *testing.T) {
	db := &cycleDB{}
	rec := &recordingNotifier{}
	m, rem := cycleMonitor(db, t.TempDir(), rec)

	result, err := m.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	if result.IssuesFound != 0 || result.IssuesFixed != 0 || result.CriticalCount != 0 {
		t.Errorf("expected a zero-issue result, got %+v", result)
	}
	if len(db.persisted) != 1 {
		t.Fatalf("expected exactly one persisted result, got %d", len(db.persisted))
	}
	if p := db.persisted[0]; p.found != 0 || p.fixed != 0 || p.critical != 0 {
		t.Errorf("persisted row should be all zeroes, got %+v", p)
	}
	if rem.applies != 0 {
		t.Errorf("no remediation should run, got %d", rem.applies)
	}
	if len(rec.events) != 0 {
		t.Errorf("no alert should fire on a clean cycle, got %d", len(rec.events))
	}
	if m.Status().LastCycleAt.IsZero() {
		t.Error("cycle completion not recorded in state")
	}
}

func TestRunCyclePersistFailureNotifies(t *testing.T) {
	db := &cycleDB{persistErr: errors.New("disk full")}
	rec := &recordingNotifier{}
	m, _ := cycleMonitor(db, t.TempDir(), rec)

	_, err := m.RunCycle(context.Background())
	if err == nil {
		t.Fatal("expected persist failure to surface")
	}

	if len(rec.events) != 1 {
		t.Fatalf("expected one event for the failed cycle, got %d", len(rec.events))
	}
	if !strings.Contains(rec.events[0].CycleError, "disk full") {
		t.Errorf("event should carry the cycle error, got %q", rec.events[0].CycleError)
	}
}
