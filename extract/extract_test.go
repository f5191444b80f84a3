package extract

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func patternFor(patterns []Pattern, table, column string) *Pattern {
	for i := range patterns {
		if patterns[i].Table == table && patterns[i].Column == column {
			return &patterns[i]
		}
	}
	return nil
}

func TestScanSQLSelect(t *testing.T) {
	patterns := ScanSQL(`SELECT id, package_name, price FROM credit_packages WHERE credits > 10`, "app.go")

	if patternFor(patterns, "credit_packages", "") == nil {
		t.Error("table reference not extracted")
	}
	for _, col := range []string{"id", "package_name", "price"} {
		if patternFor(patterns, "credit_packages", col) == nil {
			t.Errorf("column %s not extracted", col)
		}
	}

	credits := patternFor(patterns, "credit_packages", "credits")
	if credits == nil {
		t.Fatal("WHERE column not extracted")
	}
	if credits.Hint != HintNumeric {
		t.Errorf("expected numeric hint from comparison, got %s", credits.Hint)
	}
}

func TestScanSQLInsertAndUpdate(t *testing.T) {
	text := `
	INSERT INTO sessions (user_id, duration_minutes) VALUES ($1, $2);
	UPDATE sessions SET is_active = false WHERE duration_minutes > 30;
	`
	patterns := ScanSQL(text, "sessions.go")

	if patternFor(patterns, "sessions", "user_id") == nil {
		t.Error("insert column not extracted")
	}
	active := patternFor(patterns, "sessions", "is_active")
	if active == nil {
		t.Fatal("update SET column not extracted")
	}
	if active.Hint != HintBool {
		t.Errorf("expected bool hint, got %s", active.Hint)
	}

	duration := patternFor(patterns, "sessions", "duration_minutes")
	if duration == nil {
		t.Fatal("WHERE column not extracted")
	}
	if duration.Hint != HintNumeric {
		t.Errorf("expected numeric hint, got %s", duration.Hint)
	}
}

func TestScanSQLIgnoresKeywords(t *testing.T) {
	patterns := ScanSQL(`SELECT count, true FROM orders WHERE true = true`, "x.go")
	if patternFor(patterns, "orders", "true") != nil {
		t.Error("keyword extracted as column")
	}
}

func TestFromErrorOutranksStatic(t *testing.T) {
	static := Pattern{
		Table:      "sessions",
		Column:     "duration_minutes",
		Hint:       HintNone,
		Confidence: ConfidenceStatic,
		Sources:    []string{"app.go"},
	}
	dynamic := FromError(`SELECT duration_minutes FROM sessions WHERE duration_minutes > 30`, "sessions", "duration_minutes")

	if dynamic.Confidence <= static.Confidence {
		t.Fatalf("dynamic confidence %v not above static %v", dynamic.Confidence, static.Confidence)
	}
	if dynamic.Hint != HintNumeric {
		t.Errorf("expected numeric hint from failing query, got %s", dynamic.Hint)
	}

	merged := Merge([]Pattern{static, dynamic})
	if len(merged) != 1 {
		t.Fatalf("expected one merged pattern, got %d", len(merged))
	}
	if merged[0].Confidence != ConfidenceDynamic {
		t.Errorf("merge should keep the dynamic confidence, got %v", merged[0].Confidence)
	}
	if len(merged[0].Sources) != 2 {
		t.Errorf("merge should union sources, got %v", merged[0].Sources)
	}
}

func TestMergePrefersHintOverNone(t *testing.T) {
	a := Pattern{Table: "t", Column: "c", Hint: HintNone, Confidence: ConfidenceStatic, Sources: []string{"a.go"}}
	b := Pattern{Table: "t", Column: "c", Hint: HintNumeric, Confidence: ConfidenceStatic, Sources: []string{"b.go"}}

	merged := Merge([]Pattern{a, b})
	if merged[0].Hint != HintNumeric {
		t.Errorf("expected numeric hint to survive merge, got %s", merged[0].Hint)
	}
}

func TestScanDirSkipsBadFiles(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "queries.go")
	if err := os.WriteFile(good, []byte("`SELECT email FROM users`"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Unreadable subdirectory should be logged and skipped, not fatal.
	bad := filepath.Join(dir, "locked")
	if err := os.Mkdir(bad, 0o000); err != nil {
		t.Fatal(err)
	}
	defer os.Chmod(bad, 0o755)

	scanner := NewScanner(zap.NewNop())
	patterns, err := scanner.ScanDir(dir)
	if err != nil {
		t.Fatalf("scan should survive unreadable entries: %v", err)
	}
	if patternFor(patterns, "users", "email") == nil {
		t.Error("pattern from readable file missing")
	}
}

func TestScanDirIgnoresTestsAndOtherExtensions(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"app.go":      "`SELECT id FROM apples`",
		"app_test.go": "`SELECT id FROM bananas`",
		"notes.txt":   "SELECT id FROM cherries",
		"seed.sql":    "INSERT INTO grapes (color) VALUES ('red');",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	scanner := NewScanner(zap.NewNop())
	patterns, err := scanner.ScanDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	if patternFor(patterns, "apples", "") == nil {
		t.Error("expected pattern from .go file")
	}
	if patternFor(patterns, "grapes", "") == nil {
		t.Error("expected pattern from .sql file")
	}
	if patternFor(patterns, "bananas", "") != nil {
		t.Error("test files should be ignored")
	}
	if patternFor(patterns, "cherries", "") != nil {
		t.Error("non-source files should be ignored")
	}
}

func TestPrimaryTable(t *testing.T) {
	cases := []struct {
		stmt string
		want string
	}{
		{`SELECT a FROM users WHERE b = 1`, "users"},
		{`INSERT INTO logs (msg) VALUES ($1)`, "logs"},
		{`UPDATE accounts SET balance = 0`, "accounts"},
		{`DELETE FROM sessions WHERE expired = true`, "sessions"},
		{`VACUUM`, ""},
	}
	for _, tc := range cases {
		if got := PrimaryTable(tc.stmt); got != tc.want {
			t.Errorf("PrimaryTable(%q): expected %q, got %q", tc.stmt, tc.want, got)
		}
	}
}
