package intercept

import (
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/schemamend/schemamend/detect"
	"github.com/schemamend/schemamend/extract"
)

// Missing is the closed variant a recognizable failure classifies into.
type Missing struct {
	Kind   detect.Kind // MissingTable or MissingColumn
	Table  string
	Column string
}

func (m Missing) key() string { return m.Table + "." + m.Column }

// Classifier maps driver errors into Missing variants. All error-text
// brittleness lives behind this interface, one implementation per
// backend.
type Classifier interface {
	Classify(query string, err error) (Missing, bool)
}

// PGClassifier classifies Postgres failures by SQLSTATE, falling back to
// the failing query for names the message does not carry.
type PGClassifier struct{}

const (
	undefinedTable  = "42P01"
	undefinedColumn = "42703"
)

var (
	relationRe   = regexp.MustCompile(`relation "([^"]+)" does not exist`)
	columnOfRe   = regexp.MustCompile(`column "([^"]+)" of relation "([^"]+)" does not exist`)
	columnRe     = regexp.MustCompile(`column "([^"]+)" does not exist`)
	columnQualRe = regexp.MustCompile(`column ([a-zA-Z_][a-zA-Z0-9_]*)\.([a-zA-Z_][a-zA-Z0-9_]*) does not exist`)
)

func (PGClassifier) Classify(query string, err error) (Missing, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return Missing{}, false
	}

	switch pgErr.Code {
	case undefinedTable:
		if m := relationRe.FindStringSubmatch(pgErr.Message); m != nil {
			return Missing{Kind: detect.MissingTable, Table: strings.ToLower(m[1])}, true
		}
		if table := extract.PrimaryTable(query); table != "" {
			return Missing{Kind: detect.MissingTable, Table: table}, true
		}
	case undefinedColumn:
		if m := columnOfRe.FindStringSubmatch(pgErr.Message); m != nil {
			return Missing{Kind: detect.MissingColumn, Table: strings.ToLower(m[2]), Column: strings.ToLower(m[1])}, true
		}
		column := ""
		if m := columnRe.FindStringSubmatch(pgErr.Message); m != nil {
			column = strings.ToLower(m[1])
		} else if m := columnQualRe.FindStringSubmatch(pgErr.Message); m != nil {
			column = strings.ToLower(m[2])
		}
		if column == "" {
			return Missing{}, false
		}
		table := extract.PrimaryTable(query)
		if table == "" {
			return Missing{}, false
		}
		return Missing{Kind: detect.MissingColumn, Table: table, Column: column}, true
	}

	return Missing{}, false
}
