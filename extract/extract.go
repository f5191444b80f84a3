package extract

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Hint is the usage-derived type evidence carried by a Pattern. It only
// matters when the naming heuristics have nothing to say about a column.
type Hint int

const (
	HintNone Hint = iota
	HintNumeric
	HintBool
	HintTimestamp
)

func (h Hint) String() string {
	switch h {
	case HintNumeric:
		return "numeric"
	case HintBool:
		return "bool"
	case HintTimestamp:
		return "timestamp"
	default:
		return "none"
	}
}

// Confidence levels. Dynamic evidence is proven by an actual failure, so
// it outranks a static text match that may be a false positive.
const (
	ConfidenceStatic  = 0.5
	ConfidenceDynamic = 0.9
)

// Pattern records that application code references a table (and optionally
// a column). Patterns are ephemeral: regenerated on every scan.
type Pattern struct {
	Table      string
	Column     string
	Hint       Hint
	Confidence float64
	Sources    []string
}

func (p Pattern) key() string { return p.Table + "." + p.Column }

var (
	selectRe = regexp.MustCompile(`(?is)SELECT\s+(.+?)\s+FROM\s+"?([a-z_][a-z0-9_]*)"?`)
	insertRe = regexp.MustCompile(`(?is)INSERT\s+INTO\s+"?([a-z_][a-z0-9_]*)"?\s*\(([^)]+)\)`)
	updateRe = regexp.MustCompile(`(?is)UPDATE\s+"?([a-z_][a-z0-9_]*)"?\s+SET\s+(.+?)(?:\s+WHERE|;|$)`)
	deleteRe = regexp.MustCompile(`(?is)DELETE\s+FROM\s+"?([a-z_][a-z0-9_]*)"?`)
	whereRe  = regexp.MustCompile(`(?is)\bWHERE\s+(.+?)(?:\bORDER\b|\bGROUP\b|\bLIMIT\b|\bRETURNING\b|;|$)`)
	condRe   = regexp.MustCompile(`(?i)"?([a-z_][a-z0-9_]*)"?\s*(?:=|!=|<>|<=|>=|<|>|\+|-|\bLIKE\b|\bIN\b)\s*([^\s,)]+)`)
	setRe    = regexp.MustCompile(`(?i)"?([a-z_][a-z0-9_]*)"?\s*=\s*([^\s,]+)`)
	identRe  = regexp.MustCompile(`^"?[a-z_][a-z0-9_]*"?$`)
	numberRe = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
)

var sqlKeywords = map[string]bool{
	"select": true, "from": true, "where": true, "and": true, "or": true,
	"not": true, "null": true, "insert": true, "into": true, "values": true,
	"update": true, "set": true, "delete": true, "join": true, "on": true,
	"order": true, "by": true, "group": true, "limit": true, "offset": true,
	"as": true, "distinct": true, "count": true, "sum": true, "avg": true,
	"min": true, "max": true, "returning": true, "exists": true, "in": true,
	"like": true, "between": true, "is": true, "true": true, "false": true,
	"now": true, "case": true, "when": true, "then": true, "else": true,
	"end": true, "asc": true, "desc": true, "left": true, "right": true,
	"inner": true, "outer": true, "having": true, "union": true, "all": true,
}

// Scanner performs the STATIC extraction mode: a full walk over source
// files, pattern-matching table and column tokens inside SQL text. It
// never mutates what it reads.
type Scanner struct {
	log *zap.Logger
}

func NewScanner(log *zap.Logger) *Scanner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scanner{log: log}
}

// ScanDir walks root collecting patterns from .go and .sql files. A file
// that cannot be read is logged and skipped; it never aborts the scan.
func (s *Scanner) ScanDir(root string) ([]Pattern, error) {
	var all []Pattern

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.log.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if name == ".git" || name == "vendor" || name == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".go" && ext != ".sql" {
			return nil
		}
		if strings.HasSuffix(path, "_test.go") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			s.log.Warn("skipping unreadable file", zap.String("path", path), zap.Error(err))
			return nil
		}
		all = append(all, ScanSQL(string(data), path)...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %v", root, err)
	}

	return Merge(all), nil
}

// ScanDirs scans every configured path and merges the results.
func (s *Scanner) ScanDirs(roots []string) ([]Pattern, error) {
	var all []Pattern
	for _, root := range roots {
		ps, err := s.ScanDir(root)
		if err != nil {
			return nil, err
		}
		all = append(all, ps...)
	}
	return Merge(all), nil
}

// ScanSQL extracts patterns from a blob of text containing SQL, tagging
// each with the given source. Used for whole source files (static) and
// for a single failing query (dynamic).
func ScanSQL(text, source string) []Pattern {
	var out []Pattern

	add := func(table, column string, hint Hint, confidence float64) {
		table = strings.ToLower(table)
		column = strings.ToLower(column)
		if sqlKeywords[table] || (column != "" && sqlKeywords[column]) {
			return
		}
		out = append(out, Pattern{
			Table:      table,
			Column:     column,
			Hint:       hint,
			Confidence: confidence,
			Sources:    []string{source},
		})
	}

	for _, m := range selectRe.FindAllStringSubmatch(text, -1) {
		table := m[2]
		add(table, "", HintNone, ConfidenceStatic)
		for _, col := range splitColumnList(m[1]) {
			add(table, col, HintNone, ConfidenceStatic)
		}
	}
	for _, m := range insertRe.FindAllStringSubmatch(text, -1) {
		table := m[1]
		add(table, "", HintNone, ConfidenceStatic)
		for _, col := range splitColumnList(m[2]) {
			add(table, col, HintNone, ConfidenceStatic)
		}
	}
	for _, m := range updateRe.FindAllStringSubmatch(text, -1) {
		table := m[1]
		add(table, "", HintNone, ConfidenceStatic)
		for _, sm := range setRe.FindAllStringSubmatch(m[2], -1) {
			add(table, sm[1], hintFromValue(sm[2]), ConfidenceStatic)
		}
	}
	for _, m := range deleteRe.FindAllStringSubmatch(text, -1) {
		add(m[1], "", HintNone, ConfidenceStatic)
	}

	// WHERE conditions attach to the nearest preceding table reference.
	for _, stmt := range splitStatements(text) {
		table := primaryTable(stmt)
		if table == "" {
			continue
		}
		wm := whereRe.FindStringSubmatch(stmt)
		if wm == nil {
			continue
		}
		for _, cm := range condRe.FindAllStringSubmatch(wm[1], -1) {
			add(table, cm[1], hintFromValue(cm[2]), ConfidenceStatic)
		}
	}

	return out
}

// FromError builds the DYNAMIC pattern for a failing call: the classified
// missing table/column plus whatever usage hints the failing SQL carries.
func FromError(query, table, column string) Pattern {
	hint := HintNone
	if column != "" {
		for _, cm := range condRe.FindAllStringSubmatch(query, -1) {
			if strings.EqualFold(cm[1], column) {
				hint = hintFromValue(cm[2])
				break
			}
		}
	}
	return Pattern{
		Table:      strings.ToLower(table),
		Column:     strings.ToLower(column),
		Hint:       hint,
		Confidence: ConfidenceDynamic,
		Sources:    []string{"runtime:" + firstLine(query)},
	}
}

// Merge collapses duplicate (table, column) patterns, keeping the highest
// confidence, preferring its hint, and unioning sources.
func Merge(patterns []Pattern) []Pattern {
	merged := map[string]Pattern{}
	var order []string

	for _, p := range patterns {
		k := p.key()
		existing, ok := merged[k]
		if !ok {
			merged[k] = p
			order = append(order, k)
			continue
		}
		if p.Confidence > existing.Confidence ||
			(p.Confidence == existing.Confidence && existing.Hint == HintNone && p.Hint != HintNone) {
			existing.Confidence = p.Confidence
			if p.Hint != HintNone {
				existing.Hint = p.Hint
			}
		}
		existing.Sources = unionSources(existing.Sources, p.Sources)
		merged[k] = existing
	}

	out := make([]Pattern, 0, len(order))
	for _, k := range order {
		out = append(out, merged[k])
	}
	return out
}

// ForTable filters patterns down to one table's column references.
func ForTable(patterns []Pattern, table string) []Pattern {
	var out []Pattern
	for _, p := range patterns {
		if p.Table == table && p.Column != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitColumnList(list string) []string {
	var cols []string
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" || part == "*" {
			continue
		}
		// Strip qualifiers and anything that isn't a bare identifier.
		if i := strings.LastIndex(part, "."); i >= 0 {
			part = part[i+1:]
		}
		if !identRe.MatchString(strings.ToLower(part)) {
			continue
		}
		cols = append(cols, strings.Trim(part, `"`))
	}
	return cols
}

func splitStatements(text string) []string {
	return strings.Split(text, ";")
}

// PrimaryTable returns the table a single statement operates on, or "".
func PrimaryTable(stmt string) string {
	return primaryTable(stmt)
}

func primaryTable(stmt string) string {
	if m := selectRe.FindStringSubmatch(stmt); m != nil {
		return strings.ToLower(m[2])
	}
	if m := insertRe.FindStringSubmatch(stmt); m != nil {
		return strings.ToLower(m[1])
	}
	if m := updateRe.FindStringSubmatch(stmt); m != nil {
		return strings.ToLower(m[1])
	}
	if m := deleteRe.FindStringSubmatch(stmt); m != nil {
		return strings.ToLower(m[1])
	}
	return ""
}

func hintFromValue(value string) Hint {
	v := strings.ToLower(strings.TrimSpace(value))
	switch {
	case numberRe.MatchString(v):
		return HintNumeric
	case v == "true" || v == "false":
		return HintBool
	case strings.HasPrefix(v, "now(") || strings.Contains(v, "current_timestamp") || strings.Contains(v, "interval"):
		return HintTimestamp
	default:
		return HintNone
	}
}

func unionSources(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
