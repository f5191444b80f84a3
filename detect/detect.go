package detect

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/schemamend/schemamend/config"
	"github.com/schemamend/schemamend/extract"
	"github.com/schemamend/schemamend/infer"
	"github.com/schemamend/schemamend/inspect"
)

// Kind tags the four schema-drift variants.
type Kind int

const (
	MissingTable Kind = iota
	MissingColumn
	MissingConstraint
	MissingData
)

func (k Kind) String() string {
	switch k {
	case MissingTable:
		return "MISSING_TABLE"
	case MissingColumn:
		return "MISSING_COLUMN"
	case MissingConstraint:
		return "MISSING_CONSTRAINT"
	case MissingData:
		return "MISSING_DATA"
	default:
		return "UNKNOWN"
	}
}

// Severity drives automatic vs manual remediation. Higher values sort
// first.
type Severity int

const (
	Medium Severity = iota + 1
	High
	Critical
)

func (s Severity) String() string {
	switch s {
	case Critical:
		return "CRITICAL"
	case High:
		return "HIGH"
	case Medium:
		return "MEDIUM"
	default:
		return "UNKNOWN"
	}
}

// ParseSeverity maps a config string to a Severity. Unknown values fall
// back to High, the default auto-fix threshold.
func ParseSeverity(s string) Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL":
		return Critical
	case "MEDIUM":
		return Medium
	default:
		return High
	}
}

// Issue is one detected divergence between expected and actual schema.
// Issues are immutable after creation except for the one-way Resolved
// transition.
type Issue struct {
	ID            uuid.UUID
	Kind          Kind
	Severity      Severity
	Table         string
	Column        string
	CurrentState  string
	ExpectedState string
	// ProposedFix is nil when inference is ambiguous; such issues are
	// never auto-applied and persist until evidence or an operator
	// resolves them.
	ProposedFix *string
	// Advisory issues (FK suggestions) are never applied automatically.
	Advisory bool
	// SeedValues carries the absent reference-row keys for MISSING_DATA,
	// so remediation can re-verify without reparsing the fix.
	SeedValues []string
	Sources    []string
	Resolved   bool
}

// MarkResolved transitions Resolved exactly once.
func (i *Issue) MarkResolved() {
	if !i.Resolved {
		i.Resolved = true
	}
}

// DataProbe answers which expected reference rows are absent. The live
// implementation queries the database; tests fake it.
type DataProbe interface {
	MissingRows(ctx context.Context, table, keyColumn string, values []string) ([]string, error)
}

// Detector diffs a schema snapshot against extracted query patterns.
type Detector struct {
	probe   DataProbe
	refRows []config.ReferenceRow
	log     *zap.Logger
}

func New(log *zap.Logger) *Detector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Detector{log: log}
}

// WithReferenceRows wires the configured row-level expectations and the
// probe used to check them.
func (d *Detector) WithReferenceRows(rows []config.ReferenceRow, probe DataProbe) *Detector {
	d.refRows = rows
	d.probe = probe
	return d
}

// Detect emits the severity-ordered issue list for one snapshot and
// pattern set.
func (d *Detector) Detect(ctx context.Context, snap *inspect.Snapshot, patterns []extract.Pattern) []Issue {
	var issues []Issue

	byTable := map[string][]extract.Pattern{}
	var tableOrder []string
	for _, p := range patterns {
		if _, ok := byTable[p.Table]; !ok {
			tableOrder = append(tableOrder, p.Table)
		}
		byTable[p.Table] = append(byTable[p.Table], p)
	}
	sort.Strings(tableOrder)

	for _, table := range tableOrder {
		ps := byTable[table]
		live := snap.Table(table)

		if live == nil {
			issues = append(issues, d.missingTable(table, ps, patterns))
			continue
		}

		for _, p := range ps {
			if p.Column == "" || live.Column(p.Column) != nil {
				continue
			}
			def := infer.InferColumn(table, p.Column, patterns)
			ddl := infer.AddColumnDDL(table, def)
			issues = append(issues, Issue{
				ID:            uuid.New(),
				Kind:          MissingColumn,
				Severity:      High,
				Table:         table,
				Column:        p.Column,
				CurrentState:  fmt.Sprintf("column %q absent on table %q", p.Column, table),
				ExpectedState: fmt.Sprintf("%s %s", def.Name, def.SQLType),
				ProposedFix:   &ddl,
				Sources:       p.Sources,
			})
		}

		issues = append(issues, d.constraintSuggestions(snap, live, ps)...)
	}

	issues = append(issues, d.missingData(ctx, snap)...)

	Sort(issues)
	return issues
}

func (d *Detector) missingTable(table string, ps []extract.Pattern, all []extract.Pattern) Issue {
	issue := Issue{
		ID:           uuid.New(),
		Kind:         MissingTable,
		Severity:     High,
		Table:        table,
		CurrentState: fmt.Sprintf("table %q absent", table),
		Sources:      sourcesOf(ps),
	}

	def := infer.InferTable(table, all)
	// With zero column evidence the definition is a bare surrogate key;
	// that is a guess too far, so the fix stays nil for manual review.
	if len(extract.ForTable(all, table)) == 0 {
		issue.ExpectedState = fmt.Sprintf("table %q (columns unknown)", table)
		return issue
	}

	ddl := infer.CreateTableDDL(def)
	issue.ExpectedState = ddl
	issue.ProposedFix = &ddl
	return issue
}

func (d *Detector) constraintSuggestions(snap *inspect.Snapshot, live *inspect.Table, ps []extract.Pattern) []Issue {
	var issues []Issue
	for _, col := range live.Columns {
		name := col.Name
		if name == "id" || !strings.HasSuffix(name, "_id") {
			continue
		}
		if live.HasForeignKey(name) {
			continue
		}
		ref := infer.Pluralize(strings.TrimSuffix(name, "_id"))
		if snap.Table(ref) == nil {
			continue
		}
		ddl := infer.AddForeignKeyDDL(live.Name, infer.FKSuggestion{
			Column:           name,
			ReferencesTable:  ref,
			ReferencesColumn: "id",
		})
		issues = append(issues, Issue{
			ID:            uuid.New(),
			Kind:          MissingConstraint,
			Severity:      Medium,
			Table:         live.Name,
			Column:        name,
			CurrentState:  fmt.Sprintf("no foreign key on %q.%q", live.Name, name),
			ExpectedState: fmt.Sprintf("foreign key to %q(id)", ref),
			ProposedFix:   &ddl,
			Advisory:      true,
			Sources:       sourcesOf(ps),
		})
	}
	return issues
}

func (d *Detector) missingData(ctx context.Context, snap *inspect.Snapshot) []Issue {
	if d.probe == nil {
		return nil
	}
	var issues []Issue
	for _, ref := range d.refRows {
		live := snap.Table(ref.Table)
		if live == nil || live.Column(ref.KeyColumn) == nil {
			continue
		}
		missing, err := d.probe.MissingRows(ctx, ref.Table, ref.KeyColumn, ref.Values)
		if err != nil {
			d.log.Warn("reference row probe failed",
				zap.String("table", ref.Table),
				zap.Error(err),
			)
			continue
		}
		if len(missing) == 0 {
			continue
		}
		fix := seedInsert(ref.Table, ref.KeyColumn, missing)
		issues = append(issues, Issue{
			ID:            uuid.New(),
			Kind:          MissingData,
			Severity:      Medium,
			Table:         ref.Table,
			Column:        ref.KeyColumn,
			CurrentState:  fmt.Sprintf("%d expected reference row(s) absent from %q", len(missing), ref.Table),
			ExpectedState: fmt.Sprintf("rows with %s in (%s)", ref.KeyColumn, strings.Join(missing, ", ")),
			ProposedFix:   &fix,
			SeedValues:    missing,
			Sources:       []string{"config:reference_rows"},
		})
	}
	return issues
}

// Sort orders issues CRITICAL > HIGH > MEDIUM, ties broken by descending
// distinct-source count so the widest blast radius is fixed first.
func Sort(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Severity != issues[j].Severity {
			return issues[i].Severity > issues[j].Severity
		}
		if len(issues[i].Sources) != len(issues[j].Sources) {
			return len(issues[i].Sources) > len(issues[j].Sources)
		}
		if issues[i].Table != issues[j].Table {
			return issues[i].Table < issues[j].Table
		}
		return issues[i].Column < issues[j].Column
	})
}

func seedInsert(table, keyColumn string, values []string) string {
	var rows []string
	for _, v := range values {
		rows = append(rows, fmt.Sprintf("('%s')", strings.ReplaceAll(v, "'", "''")))
	}
	return fmt.Sprintf("INSERT INTO %q (%q) VALUES %s ON CONFLICT DO NOTHING;",
		table, keyColumn, strings.Join(rows, ", "))
}

func sourcesOf(ps []extract.Pattern) []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range ps {
		for _, s := range p.Sources {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}
