package detect

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/schemamend/schemamend/config"
	"github.com/schemamend/schemamend/extract"
	"github.com/schemamend/schemamend/inspect"
)

func snapshotOf(tables ...inspect.Table) *inspect.Snapshot {
	snap := &inspect.Snapshot{Tables: map[string]inspect.Table{}, TakenAt: time.Now()}
	for _, t := range tables {
		snap.Tables[t.Name] = t
	}
	return snap
}

type fakeProbe struct {
	missing []string
	err     error
}

func (f fakeProbe) MissingRows(_ context.Context, _, _ string, _ []string) ([]string, error) {
	return f.missing, f.err
}

func TestDetectMissingColumn(t *testing.T) {
	snap := snapshotOf(inspect.Table{
		Name: "sessions",
		Columns: []inspect.Column{
			{Name: "id", DataType: "bigint"},
			{Name: "user_id", DataType: "bigint"},
		},
	})
	patterns := []extract.Pattern{{
		Table:      "sessions",
		Column:     "duration_minutes",
		Hint:       extract.HintNumeric,
		Confidence: extract.ConfidenceStatic,
		Sources:    []string{"app/sessions.go"},
	}}

	issues := New(zap.NewNop()).Detect(context.Background(), snap, patterns)

	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(issues))
	}
	issue := issues[0]
	if issue.Kind != MissingColumn {
		t.Errorf("expected MISSING_COLUMN, got %s", issue.Kind)
	}
	if issue.Severity != High {
		t.Errorf("expected HIGH, got %s", issue.Severity)
	}
	if issue.ProposedFix == nil {
		t.Fatal("expected a proposed fix")
	}
	if !strings.Contains(*issue.ProposedFix, `ADD COLUMN IF NOT EXISTS "duration_minutes" INTEGER DEFAULT 0`) {
		t.Errorf("unexpected fix: %s", *issue.ProposedFix)
	}
}

func TestDetectMissingTable(t *testing.T) {
	snap := snapshotOf()
	patterns := []extract.Pattern{
		{Table: "credit_packages", Column: "package_name", Confidence: extract.ConfidenceStatic, Sources: []string{"billing.go"}},
		{Table: "credit_packages", Column: "price", Confidence: extract.ConfidenceStatic, Sources: []string{"billing.go"}},
	}

	issues := New(zap.NewNop()).Detect(context.Background(), snap, patterns)

	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(issues))
	}
	issue := issues[0]
	if issue.Kind != MissingTable || issue.Severity != High {
		t.Errorf("unexpected issue: %s %s", issue.Kind, issue.Severity)
	}
	if issue.ProposedFix == nil {
		t.Fatal("expected CREATE TABLE fix")
	}
	if !strings.Contains(*issue.ProposedFix, `CREATE TABLE IF NOT EXISTS "credit_packages"`) {
		t.Errorf("unexpected fix: %s", *issue.ProposedFix)
	}
}

func TestDetectMissingTableWithoutEvidenceHasNoFix(t *testing.T) {
	snap := snapshotOf()
	// Table referenced with no column evidence: inference would be pure
	// guesswork, so the fix stays nil for manual review.
	patterns := []extract.Pattern{{
		Table:      "mystery",
		Confidence: extract.ConfidenceStatic,
		Sources:    []string{"maybe.go"},
	}}

	issues := New(zap.NewNop()).Detect(context.Background(), snap, patterns)

	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(issues))
	}
	if issues[0].ProposedFix != nil {
		t.Errorf("expected nil fix, got %s", *issues[0].ProposedFix)
	}
	if issues[0].Severity != High {
		t.Errorf("expected HIGH even without a fix, got %s", issues[0].Severity)
	}
}

func TestDetectAdvisoryForeignKey(t *testing.T) {
	snap := snapshotOf(
		inspect.Table{
			Name: "posts",
			Columns: []inspect.Column{
				{Name: "id"}, {Name: "user_id"}, {Name: "title"},
			},
		},
		inspect.Table{
			Name:    "users",
			Columns: []inspect.Column{{Name: "id"}},
		},
	)
	patterns := []extract.Pattern{{
		Table: "posts", Column: "title",
		Confidence: extract.ConfidenceStatic, Sources: []string{"posts.go"},
	}}

	issues := New(zap.NewNop()).Detect(context.Background(), snap, patterns)

	var fk *Issue
	for i := range issues {
		if issues[i].Kind == MissingConstraint {
			fk = &issues[i]
		}
	}
	if fk == nil {
		t.Fatal("expected a MISSING_CONSTRAINT suggestion")
	}
	if !fk.Advisory {
		t.Error("FK suggestion must be advisory")
	}
	if fk.Severity != Medium {
		t.Errorf("expected MEDIUM, got %s", fk.Severity)
	}
	if !strings.Contains(*fk.ProposedFix, `REFERENCES "users"`) {
		t.Errorf("unexpected fix: %s", *fk.ProposedFix)
	}
}

func TestDetectMissingData(t *testing.T) {
	snap := snapshotOf(inspect.Table{
		Name:    "credit_packages",
		Columns: []inspect.Column{{Name: "id"}, {Name: "package_name"}},
	})

	detector := New(zap.NewNop()).WithReferenceRows(
		[]config.ReferenceRow{{
			Table:     "credit_packages",
			KeyColumn: "package_name",
			Values:    []string{"starter", "pro"},
		}},
		fakeProbe{missing: []string{"pro"}},
	)

	issues := detector.Detect(context.Background(), snap, nil)

	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(issues))
	}
	issue := issues[0]
	if issue.Kind != MissingData || issue.Severity != Medium {
		t.Errorf("unexpected issue: %s %s", issue.Kind, issue.Severity)
	}
	if !strings.Contains(*issue.ProposedFix, "ON CONFLICT DO NOTHING") {
		t.Errorf("seed insert must be idempotent: %s", *issue.ProposedFix)
	}
	if len(issue.SeedValues) != 1 || issue.SeedValues[0] != "pro" {
		t.Errorf("unexpected seed values: %v", issue.SeedValues)
	}
}

func TestDetectProbeFailureIsNotFatal(t *testing.T) {
	snap := snapshotOf(inspect.Table{
		Name:    "plans",
		Columns: []inspect.Column{{Name: "code"}},
	})
	detector := New(zap.NewNop()).WithReferenceRows(
		[]config.ReferenceRow{{Table: "plans", KeyColumn: "code", Values: []string{"basic"}}},
		fakeProbe{err: errors.New("connection reset")},
	)

	issues := detector.Detect(context.Background(), snap, nil)
	if len(issues) != 0 {
		t.Errorf("probe failure should be skipped, got %d issues", len(issues))
	}
}

func TestSortSeverityThenBlastRadius(t *testing.T) {
	issues := []Issue{
		{Kind: MissingData, Severity: Medium, Table: "a"},
		{Kind: MissingTable, Severity: Critical, Table: "b"},
		{Kind: MissingColumn, Severity: High, Table: "c", Sources: []string{"1"}},
		{Kind: MissingColumn, Severity: High, Table: "d", Sources: []string{"1", "2", "3"}},
	}

	Sort(issues)

	got := []Severity{issues[0].Severity, issues[1].Severity, issues[2].Severity, issues[3].Severity}
	want := []Severity{Critical, High, High, Medium}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	// Blast radius breaks the HIGH tie: three call sites before one.
	if issues[1].Table != "d" {
		t.Errorf("expected widest blast radius first, got table %s", issues[1].Table)
	}
}

func TestMarkResolvedTransitionsOnce(t *testing.T) {
	issue := Issue{Kind: MissingColumn, Severity: High}
	if issue.Resolved {
		t.Fatal("new issue must not be resolved")
	}
	issue.MarkResolved()
	if !issue.Resolved {
		t.Fatal("expected resolved")
	}
	issue.MarkResolved()
	if !issue.Resolved {
		t.Fatal("resolved must stay resolved")
	}
}
