package infer

import (
	"strings"
	"testing"

	"github.com/schemamend/schemamend/extract"
)

func TestInferColumnNameHeuristics(t *testing.T) {
	cases := []struct {
		column  string
		sqlType string
	}{
		{"id", "BIGSERIAL"},
		{"user_id", "BIGINT"},
		{"created_at", "TIMESTAMPTZ"},
		{"updated_at", "TIMESTAMPTZ"},
		{"email", "VARCHAR(255)"},
		{"contact_email", "VARCHAR(255)"},
		{"package_name", "VARCHAR(255)"},
		{"description", "TEXT"},
		{"post_content", "TEXT"},
		{"price", "NUMERIC(10,2)"},
		{"total_amount", "NUMERIC(10,2)"},
		{"is_active", "BOOLEAN"},
		{"has_avatar", "BOOLEAN"},
		{"metadata_json", "JSONB"},
		{"payload_data", "JSONB"},
		{"mystery_field", "TEXT"},
	}

	for _, tc := range cases {
		def := InferColumn("things", tc.column, nil)
		if def.SQLType != tc.sqlType {
			t.Errorf("%s: expected %s, got %s", tc.column, tc.sqlType, def.SQLType)
		}
	}
}

func TestInferColumnHeuristicOrder(t *testing.T) {
	// "email_description" contains both "email" (rule 3) and
	// "description" (rule 5); the earlier rule wins.
	def := InferColumn("t", "email_description", nil)
	if def.SQLType != "VARCHAR(255)" {
		t.Errorf("expected VARCHAR(255), got %s", def.SQLType)
	}

	// "name_id" ends with _id; the _id rule outranks the name rule.
	def = InferColumn("t", "name_id", nil)
	if def.SQLType != "BIGINT" {
		t.Errorf("expected BIGINT, got %s", def.SQLType)
	}
}

func TestInferColumnUsageEvidence(t *testing.T) {
	// No name heuristic matches duration_minutes; the numeric usage
	// evidence decides instead.
	patterns := []extract.Pattern{{
		Table:      "sessions",
		Column:     "duration_minutes",
		Hint:       extract.HintNumeric,
		Confidence: extract.ConfidenceDynamic,
	}}

	def := InferColumn("sessions", "duration_minutes", patterns)
	if def.SQLType != "INTEGER" {
		t.Errorf("expected INTEGER, got %s", def.SQLType)
	}
	if def.Default == nil || *def.Default != "0" {
		t.Errorf("expected default 0, got %v", def.Default)
	}
}

func TestInferColumnDeterminism(t *testing.T) {
	patterns := []extract.Pattern{{
		Table:      "sessions",
		Column:     "duration_minutes",
		Hint:       extract.HintNumeric,
		Confidence: extract.ConfidenceStatic,
	}}

	first := InferColumn("sessions", "duration_minutes", patterns)
	for i := 0; i < 10; i++ {
		again := InferColumn("sessions", "duration_minutes", patterns)
		if again != first {
			t.Fatalf("inference not deterministic: %+v vs %+v", again, first)
		}
	}
}

func TestInferTableInjectsKeyAndTimestamp(t *testing.T) {
	patterns := []extract.Pattern{
		{Table: "credit_packages", Column: "package_name", Confidence: extract.ConfidenceStatic},
		{Table: "credit_packages", Column: "price", Confidence: extract.ConfidenceStatic},
	}

	def := InferTable("credit_packages", patterns)

	if def.Columns[0].Name != "id" || !def.Columns[0].PrimaryKey {
		t.Errorf("expected surrogate key first, got %+v", def.Columns[0])
	}
	last := def.Columns[len(def.Columns)-1]
	if last.Name != "created_at" {
		t.Errorf("expected created_at injected last, got %+v", last)
	}

	names := map[string]bool{}
	for _, c := range def.Columns {
		names[c.Name] = true
	}
	if !names["package_name"] || !names["price"] {
		t.Errorf("evidence columns missing from definition: %v", names)
	}
}

func TestInferTableForeignKeySuggestions(t *testing.T) {
	patterns := []extract.Pattern{
		{Table: "posts", Column: "user_id", Confidence: extract.ConfidenceStatic},
		{Table: "posts", Column: "category_id", Confidence: extract.ConfidenceStatic},
		{Table: "posts", Column: "title", Confidence: extract.ConfidenceStatic},
	}

	def := InferTable("posts", patterns)

	if len(def.Suggestions) != 2 {
		t.Fatalf("expected 2 FK suggestions, got %d", len(def.Suggestions))
	}
	byColumn := map[string]FKSuggestion{}
	for _, s := range def.Suggestions {
		byColumn[s.Column] = s
	}
	if byColumn["user_id"].ReferencesTable != "users" {
		t.Errorf("user_id should reference users, got %s", byColumn["user_id"].ReferencesTable)
	}
	if byColumn["category_id"].ReferencesTable != "categories" {
		t.Errorf("category_id should reference categories, got %s", byColumn["category_id"].ReferencesTable)
	}
}

func TestPluralize(t *testing.T) {
	cases := map[string]string{
		"user":     "users",
		"category": "categories",
		"status":   "statuses",
		"box":      "boxes",
		"batch":    "batches",
		"day":      "days",
	}
	for word, want := range cases {
		if got := Pluralize(word); got != want {
			t.Errorf("Pluralize(%s): expected %s, got %s", word, want, got)
		}
	}
}

func TestGeneratedDDLNeverDestructive(t *testing.T) {
	patterns := []extract.Pattern{
		{Table: "orders", Column: "user_id", Confidence: extract.ConfidenceStatic},
		{Table: "orders", Column: "amount", Confidence: extract.ConfidenceStatic},
		{Table: "orders", Column: "is_paid", Confidence: extract.ConfidenceStatic},
	}
	def := InferTable("orders", patterns)

	corpus := []string{CreateTableDDL(def)}
	for _, c := range def.Columns {
		corpus = append(corpus, AddColumnDDL("orders", c))
	}
	for _, s := range def.Suggestions {
		corpus = append(corpus, AddForeignKeyDDL("orders", s))
	}

	for _, ddl := range corpus {
		upper := strings.ToUpper(ddl)
		for _, banned := range []string{"DROP", "TRUNCATE"} {
			if strings.Contains(upper, banned) {
				t.Errorf("destructive keyword %s in generated DDL: %s", banned, ddl)
			}
		}
	}
}

func TestAddColumnDDLIsIdempotent(t *testing.T) {
	ddl := AddColumnDDL("sessions", ColumnDef{Name: "duration_minutes", SQLType: "INTEGER", Default: strptr("0")})
	want := `ALTER TABLE "sessions" ADD COLUMN IF NOT EXISTS "duration_minutes" INTEGER DEFAULT 0;`
	if ddl != want {
		t.Errorf("expected %s, got %s", want, ddl)
	}
}
