package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/schemamend/schemamend/database"
	"github.com/schemamend/schemamend/detect"
	"github.com/schemamend/schemamend/extract"
	"github.com/schemamend/schemamend/inspect"
	"github.com/schemamend/schemamend/notify"
	"github.com/schemamend/schemamend/remedy"
)

// ErrCycleInProgress is returned when a cycle is requested while the
// previous one has not finished. Cycles never overlap.
var ErrCycleInProgress = errors.New("health check cycle already in progress")

// HealthCheckResult is one row of the insert-only cycle history.
type HealthCheckResult struct {
	ID            int64
	CheckedAt     time.Time
	IssuesFound   int
	IssuesFixed   int
	CriticalCount int
	DurationMS    int64
	Detail        string
}

// Status is the externally visible monitor state.
type Status struct {
	LastCycleAt time.Time
	InProgress  bool
	// Stale means more than twice the interval has passed without a
	// completed cycle.
	Stale bool
}

// State guards against overlapping cycles. Explicit and mutex-guarded
// rather than package-level globals.
type State struct {
	mu          sync.Mutex
	lastCycleAt time.Time
	inProgress  bool
}

func (s *State) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inProgress {
		return ErrCycleInProgress
	}
	s.inProgress = true
	return nil
}

func (s *State) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inProgress = false
	s.lastCycleAt = time.Now()
}

func (s *State) snapshot() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCycleAt, s.inProgress
}

// Remediator is the slice of the remediation engine the monitor needs.
type Remediator interface {
	Apply(ctx context.Context, issue *detect.Issue, opts remedy.Options) (remedy.Result, error)
}

// Monitor owns the periodic detect→remediate cycle.
type Monitor struct {
	db        database.DB
	inspector *inspect.Inspector
	scanner   *extract.Scanner
	detector  *detect.Detector
	engine    Remediator
	notifier  notify.Notifier

	scanPaths []string
	interval  time.Duration
	threshold detect.Severity
	retention time.Duration

	state State
	log   *zap.Logger

	issuesMu   sync.Mutex
	lastIssues []detect.Issue
}

type Params struct {
	DB        database.DB
	Inspector *inspect.Inspector
	Scanner   *extract.Scanner
	Detector  *detect.Detector
	Engine    Remediator
	Notifier  notify.Notifier
	ScanPaths []string
	Interval  time.Duration
	// Threshold is the minimum severity that gets auto-fixed; anything
	// below is report-only.
	Threshold detect.Severity
	Retention time.Duration
	Log       *zap.Logger
}

func New(p Params) *Monitor {
	if p.Log == nil {
		p.Log = zap.NewNop()
	}
	if p.Notifier == nil {
		p.Notifier = notify.LogNotifier{Log: p.Log}
	}
	if p.Threshold == 0 {
		p.Threshold = detect.High
	}
	return &Monitor{
		db:        p.DB,
		inspector: p.Inspector,
		scanner:   p.Scanner,
		detector:  p.Detector,
		engine:    p.Engine,
		notifier:  p.Notifier,
		scanPaths: p.ScanPaths,
		interval:  p.Interval,
		threshold: p.Threshold,
		retention: p.Retention,
		log:       p.Log,
	}
}

// Run executes cycles on the fixed interval until the context is
// cancelled. An in-flight cycle always completes before Run returns.
func (m *Monitor) Run(ctx context.Context) error {
	if _, err := m.RunCycle(ctx); err != nil && !errors.Is(err, ErrCycleInProgress) {
		m.log.Error("initial cycle failed", zap.Error(err))
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.RunCycle(ctx); err != nil && !errors.Is(err, ErrCycleInProgress) {
				m.log.Error("cycle failed", zap.Error(err))
			}
		}
	}
}

// RunCycle executes one full snapshot→extract→detect→remediate pass and
// persists its HealthCheckResult.
func (m *Monitor) RunCycle(ctx context.Context) (*HealthCheckResult, error) {
	if err := m.state.start(); err != nil {
		return nil, err
	}
	defer m.state.finish()

	started := time.Now()

	snap, err := m.inspector.SnapshotWithRetry(ctx)
	if err != nil {
		// Degraded: the catalog stayed unreachable through the backoff
		// window. The cycle is skipped, not failed into an Issue.
		m.log.Warn("cycle skipped, catalog unreachable", zap.Error(err))
		m.fireEvent(ctx, nil, false, err)
		return nil, err
	}

	patterns, err := m.scanner.ScanDirs(m.scanPaths)
	if err != nil {
		m.fireEvent(ctx, nil, false, err)
		return nil, fmt.Errorf("static extraction: %v", err)
	}

	issues := m.detector.Detect(ctx, snap, patterns)

	fixed := 0
	autoFixAttempted := false
	for idx := range issues {
		issue := &issues[idx]
		if issue.Advisory || issue.ProposedFix == nil || issue.Severity < m.threshold {
			continue
		}
		autoFixAttempted = true
		res, err := m.engine.Apply(ctx, issue, remedy.Options{})
		if err != nil {
			// Failure already escalated the issue to CRITICAL.
			m.log.Error("remediation failed",
				zap.String("kind", issue.Kind.String()),
				zap.String("table", issue.Table),
				zap.Error(err),
			)
			continue
		}
		if res.Applied {
			fixed++
		}
	}
	detect.Sort(issues)

	critical := 0
	for _, issue := range issues {
		if issue.Severity == detect.Critical {
			critical++
		}
	}

	result := &HealthCheckResult{
		CheckedAt:     started,
		IssuesFound:   len(issues),
		IssuesFixed:   fixed,
		CriticalCount: critical,
		DurationMS:    time.Since(started).Milliseconds(),
		Detail:        detailJSON(issues),
	}
	if err := m.persist(ctx, result); err != nil {
		err = fmt.Errorf("persisting health check result: %v", err)
		m.fireEvent(ctx, issues, autoFixAttempted, err)
		return nil, err
	}

	m.issuesMu.Lock()
	m.lastIssues = issues
	m.issuesMu.Unlock()

	if critical > 0 {
		m.fireEvent(ctx, issues, autoFixAttempted, nil)
	}

	if m.retention > 0 {
		if _, err := m.Prune(ctx); err != nil {
			m.log.Warn("pruning health history failed", zap.Error(err))
		}
	}

	return result, nil
}

// Status reports monitor state, including staleness against 2× interval.
func (m *Monitor) Status() Status {
	last, inProgress := m.state.snapshot()
	stale := false
	if !last.IsZero() && m.interval > 0 {
		stale = time.Since(last) > 2*m.interval
	}
	return Status{LastCycleAt: last, InProgress: inProgress, Stale: stale}
}

// LastIssues returns the issue list of the most recent cycle.
func (m *Monitor) LastIssues() []detect.Issue {
	m.issuesMu.Lock()
	defer m.issuesMu.Unlock()
	out := make([]detect.Issue, len(m.lastIssues))
	copy(out, m.lastIssues)
	return out
}

// Latest returns the most recent persisted HealthCheckResult.
func (m *Monitor) Latest(ctx context.Context) (*HealthCheckResult, error) {
	var r HealthCheckResult
	err := m.db.QueryRow(ctx, `
	SELECT id, checked_at, issues_found, issues_fixed, critical_count, duration_ms, COALESCE(detail, '')
	FROM schema_health_checks
	ORDER BY id DESC
	LIMIT 1;
	`).Scan(&r.ID, &r.CheckedAt, &r.IssuesFound, &r.IssuesFixed, &r.CriticalCount, &r.DurationMS, &r.Detail)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// SuccessRate is the rolling fixed/found ratio over the last n cycles.
func (m *Monitor) SuccessRate(ctx context.Context, n int) (float64, error) {
	var rate *float64
	err := m.db.QueryRow(ctx, `
	SELECT sum(issues_fixed)::float / NULLIF(sum(issues_found), 0)
	FROM (
		SELECT issues_fixed, issues_found
		FROM schema_health_checks
		ORDER BY id DESC
		LIMIT $1
	) recent;
	`, n).Scan(&rate)
	if err != nil {
		return 0, err
	}
	if rate == nil {
		return 1, nil
	}
	return *rate, nil
}

// AvgCycleDuration averages duration over the last n cycles; Rising is
// the perf alarm comparing the recent half against the older half.
func (m *Monitor) AvgCycleDuration(ctx context.Context, n int) (avg time.Duration, rising bool, err error) {
	rows, err := m.db.Query(ctx, `
	SELECT duration_ms
	FROM schema_health_checks
	ORDER BY id DESC
	LIMIT $1;
	`, n)
	if err != nil {
		return 0, false, err
	}
	defer rows.Close()

	var durations []int64
	for rows.Next() {
		var d int64
		if err := rows.Scan(&d); err != nil {
			return 0, false, err
		}
		durations = append(durations, d)
	}
	if rows.Err() != nil {
		return 0, false, rows.Err()
	}
	if len(durations) == 0 {
		return 0, false, nil
	}

	var total int64
	for _, d := range durations {
		total += d
	}
	avg = time.Duration(total/int64(len(durations))) * time.Millisecond

	if len(durations) >= 4 {
		half := len(durations) / 2
		var recent, older int64
		for _, d := range durations[:half] {
			recent += d
		}
		for _, d := range durations[half:] {
			older += d
		}
		rising = recent/int64(half) > older/int64(len(durations)-half)
	}
	return avg, rising, nil
}

// Prune deletes health rows older than the retention window.
func (m *Monitor) Prune(ctx context.Context) (int64, error) {
	tag, err := m.db.Exec(ctx, `
	DELETE FROM schema_health_checks
	WHERE checked_at < now() - $1::interval;
	`, fmt.Sprintf("%d seconds", int64(m.retention.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("pruning health checks: %v", err)
	}
	return tag.RowsAffected(), nil
}

func (m *Monitor) persist(ctx context.Context, r *HealthCheckResult) error {
	return m.db.QueryRow(ctx, `
	INSERT INTO schema_health_checks (checked_at, issues_found, issues_fixed, critical_count, duration_ms, detail)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id;
	`, r.CheckedAt, r.IssuesFound, r.IssuesFixed, r.CriticalCount, r.DurationMS, r.Detail).Scan(&r.ID)
}

func (m *Monitor) fireEvent(ctx context.Context, issues []detect.Issue, autoFixed bool, cycleErr error) {
	ev := notify.Event{
		Time:          time.Now(),
		CountsByLevel: map[string]int{},
		AutoFixed:     autoFixed,
	}
	tables := map[string]bool{}
	for _, issue := range issues {
		ev.CountsByLevel[issue.Severity.String()]++
		tables[issue.Table] = true
	}
	for t := range tables {
		ev.AffectedTables = append(ev.AffectedTables, t)
	}
	sort.Strings(ev.AffectedTables)
	if cycleErr != nil {
		ev.CycleError = cycleErr.Error()
	}

	if err := m.notifier.Notify(ctx, ev); err != nil {
		m.log.Warn("notification failed", zap.Error(err))
	}
}

func detailJSON(issues []detect.Issue) string {
	type line struct {
		Kind     string `json:"kind"`
		Severity string `json:"severity"`
		Table    string `json:"table"`
		Column   string `json:"column,omitempty"`
		Resolved bool   `json:"resolved"`
	}
	var lines []line
	for _, issue := range issues {
		lines = append(lines, line{
			Kind:     issue.Kind.String(),
			Severity: issue.Severity.String(),
			Table:    issue.Table,
			Column:   issue.Column,
			Resolved: issue.Resolved,
		})
	}
	data, err := json.Marshal(lines)
	if err != nil {
		return ""
	}
	return string(data)
}
