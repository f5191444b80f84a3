package infer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/schemamend/schemamend/extract"
)

// ColumnDef is an inferred column definition, ready to be rendered as DDL.
type ColumnDef struct {
	Name       string
	SQLType    string
	Default    *string
	PrimaryKey bool
}

// FKSuggestion is an advisory foreign key guess for a `<word>_id` column.
// Suggestions are never auto-applied; they surface as MEDIUM advisory
// issues for an operator to accept or ignore.
type FKSuggestion struct {
	Column           string
	ReferencesTable  string
	ReferencesColumn string
}

// TableDef is an inferred definition for a wholly missing table.
type TableDef struct {
	Name        string
	Columns     []ColumnDef
	Suggestions []FKSuggestion
}

func strptr(s string) *string { return &s }

// InferColumn derives a plausible definition for a column with no existing
// definition. Naming heuristics apply in order, first match wins; when
// none match, aggregated usage evidence decides; the fallback is
// unbounded text, which never truncates whatever shows up.
func InferColumn(table, column string, patterns []extract.Pattern) ColumnDef {
	name := strings.ToLower(column)
	def := ColumnDef{Name: name}

	switch {
	case name == "id":
		def.SQLType = "BIGSERIAL"
		def.PrimaryKey = true
	case strings.HasSuffix(name, "_id"):
		def.SQLType = "BIGINT"
	case strings.HasSuffix(name, "_at"):
		def.SQLType = "TIMESTAMPTZ"
	case strings.Contains(name, "email"):
		def.SQLType = "VARCHAR(255)"
	case strings.Contains(name, "name"):
		def.SQLType = "VARCHAR(255)"
	case strings.Contains(name, "description"), strings.Contains(name, "content"):
		def.SQLType = "TEXT"
	case strings.Contains(name, "price"), strings.Contains(name, "amount"):
		def.SQLType = "NUMERIC(10,2)"
		def.Default = strptr("0")
	case strings.HasPrefix(name, "is_"), strings.HasPrefix(name, "has_"):
		def.SQLType = "BOOLEAN"
		def.Default = strptr("false")
	case strings.Contains(name, "json"), strings.Contains(name, "data"):
		def.SQLType = "JSONB"
	default:
		switch strongestHint(table, name, patterns) {
		case extract.HintNumeric:
			def.SQLType = "INTEGER"
			def.Default = strptr("0")
		case extract.HintBool:
			def.SQLType = "BOOLEAN"
			def.Default = strptr("false")
		case extract.HintTimestamp:
			def.SQLType = "TIMESTAMPTZ"
		default:
			def.SQLType = "TEXT"
		}
	}

	return def
}

// InferTable aggregates every pattern for a missing table into a full
// definition. A surrogate key and creation timestamp are always present,
// and every `<word>_id` column yields an advisory FK suggestion against
// the pluralized table name.
func InferTable(table string, patterns []extract.Pattern) TableDef {
	def := TableDef{Name: strings.ToLower(table)}

	seen := map[string]bool{}
	var names []string
	for _, p := range extract.ForTable(patterns, def.Name) {
		col := strings.ToLower(p.Column)
		if !seen[col] {
			seen[col] = true
			names = append(names, col)
		}
	}
	sort.Strings(names)

	if !seen["id"] {
		def.Columns = append(def.Columns, ColumnDef{
			Name:       "id",
			SQLType:    "BIGSERIAL",
			PrimaryKey: true,
		})
	}
	for _, name := range names {
		def.Columns = append(def.Columns, InferColumn(def.Name, name, patterns))
	}
	if !seen["created_at"] {
		def.Columns = append(def.Columns, ColumnDef{
			Name:    "created_at",
			SQLType: "TIMESTAMPTZ",
			Default: strptr("now()"),
		})
	}

	for _, name := range names {
		if name == "id" || !strings.HasSuffix(name, "_id") {
			continue
		}
		word := strings.TrimSuffix(name, "_id")
		def.Suggestions = append(def.Suggestions, FKSuggestion{
			Column:           name,
			ReferencesTable:  Pluralize(word),
			ReferencesColumn: "id",
		})
	}

	return def
}

// Pluralize guesses the referenced table name for a foreign key column.
// A naming guess only; that is why suggestions stay advisory.
func Pluralize(word string) string {
	switch {
	case strings.HasSuffix(word, "y") && len(word) > 1 && !strings.ContainsRune("aeiou", rune(word[len(word)-2])):
		return word[:len(word)-1] + "ies"
	case strings.HasSuffix(word, "s"), strings.HasSuffix(word, "x"),
		strings.HasSuffix(word, "ch"), strings.HasSuffix(word, "sh"):
		return word + "es"
	default:
		return word + "s"
	}
}

func strongestHint(table, column string, patterns []extract.Pattern) extract.Hint {
	best := extract.HintNone
	bestConf := 0.0
	for _, p := range patterns {
		if p.Table != table || p.Column != column || p.Hint == extract.HintNone {
			continue
		}
		if p.Confidence > bestConf {
			best = p.Hint
			bestConf = p.Confidence
		}
	}
	return best
}

// CreateTableDDL renders a TableDef as an idempotent CREATE TABLE.
func CreateTableDDL(t TableDef) string {
	var cols []string
	for _, c := range t.Columns {
		cols = append(cols, "  "+columnClause(c))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %q (\n%s\n);", t.Name, strings.Join(cols, ",\n"))
}

// AddColumnDDL renders an idempotent ALTER TABLE ... ADD COLUMN.
func AddColumnDDL(table string, c ColumnDef) string {
	return fmt.Sprintf("ALTER TABLE %q ADD COLUMN IF NOT EXISTS %s;", table, columnClause(c))
}

// AddForeignKeyDDL renders the advisory constraint for a suggestion.
func AddForeignKeyDDL(table string, fk FKSuggestion) string {
	return fmt.Sprintf("ALTER TABLE %q ADD CONSTRAINT %q FOREIGN KEY (%q) REFERENCES %q (%q);",
		table,
		fmt.Sprintf("fk_%s_%s", table, fk.Column),
		fk.Column,
		fk.ReferencesTable,
		fk.ReferencesColumn,
	)
}

func columnClause(c ColumnDef) string {
	clause := fmt.Sprintf("%q %s", c.Name, c.SQLType)
	if c.PrimaryKey {
		clause += " PRIMARY KEY"
	}
	if c.Default != nil {
		clause += fmt.Sprintf(" DEFAULT %s", *c.Default)
	}
	return clause
}
